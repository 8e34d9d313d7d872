// Package httpserver exposes the push engine over HTTP: an SSE endpoint for
// client streams plus JSON endpoints for subscribe, unsubscribe, and
// broadcast. Stream context is taken from connect query parameters, so
// authorization rules can compare client attributes to channel parameters.
package httpserver
