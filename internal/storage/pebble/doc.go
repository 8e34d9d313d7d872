// Package pebblestore wraps a Pebble database with a fsync policy and the
// key/value surface used by the bus retry queue: Set/Get/Delete plus ordered
// iteration over a key range.
package pebblestore
