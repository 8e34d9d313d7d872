// Package config loads transmit's declarative configuration from JSON or
// YAML files with a TRANSMIT_* environment overlay, and resolves the default
// data directory used for the bus retry queue.
package config
