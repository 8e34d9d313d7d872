// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the transmit HTTP server with a fully wired engine (bus, retry queue,
// keepalive, authorization rules), handling lifecycle and shutdown.
package serverrun
