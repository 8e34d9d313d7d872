// Package id provides a 128-bit, lexicographically sortable identifier.
//
// IDs are 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence], so
// byte-wise comparison preserves chronological order. Transmit uses them for
// bus envelope IDs (duplicate suppression) and retry-queue keys, where
// time-ordered iteration over a key range matters.
//
// The Generator guarantees per-process monotonicity: a regressing system
// clock pins to the last seen millisecond, and a sequence overflow inside a
// single millisecond waits for the next one.
package id
