// Package bus defines the pluggable cross-instance message transport used by
// the transmit engine, plus the drivers shipped with it: an in-process
// broker for tests and single-host setups, an MQTT driver for real fleets,
// and a persistent retry decorator for outbound publish failures.
//
// Delivery semantics assumed by consumers: at-least-once; messages may
// arrive duplicated or out of order. The engine's sync protocol is built to
// tolerate both.
package bus

import "context"

// Handler receives one raw message for a subscribed topic.
type Handler func(payload []byte)

// Bus is the transport contract the engine consumes.
type Bus interface {
	// Publish sends payload on topic. At-least-once; an error means the
	// message may not have been handed to the broker.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h for topic. A handle may subscribe to a topic at
	// most once; drivers run h on their own receive goroutine.
	Subscribe(ctx context.Context, topic string, h Handler) error
	// Disconnect tears the transport down. Idempotent.
	Disconnect() error
}
