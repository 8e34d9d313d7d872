// Package client provides the `transmit` command-line client.
//
// The CLI talks to the transmit HTTP endpoints to broadcast payloads and to
// tail channels from a terminal. The HTTP base URL is discovered by the
// application that embeds the commands via a BaseURLFunc; the standalone
// binary defaults to http://127.0.0.1:8080 and honors TRANSMIT_HTTP.
//
// Usage
//
//	transmit publish --channel chats/42 --data '{"text":"hello"}'
//
//	transmit tail --channel chats/42 --ctx id=42
//	transmit tail --channel news --channel alerts --limit 5
package client
