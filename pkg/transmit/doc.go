// Package transmit implements a framework-agnostic engine for one-way,
// real-time event delivery to clients over long-lived HTTP streams.
//
// # Overview
//
// The engine tracks connected client streams, authorizes channel
// subscriptions against registered patterns, and fans broadcasts out to the
// local subscribers of a channel. When a message bus is configured, the
// engine additionally replicates broadcast, subscribe, and unsubscribe events
// to the other instances behind the same load balancer, so that a fleet of
// processes presents a single logical broadcast surface.
//
// The transport primitive is abstract: a Stream only needs a Sink that
// accepts messages and a signal that fires when the client goes away. The
// HTTP adapter in internal/server/http maps Server-Sent Events onto this
// contract; other adapters can do the same for their frameworks.
//
// Usage
//
//	eng, err := transmit.New[map[string]string](
//	    transmit.WithPingInterval[map[string]string](30*time.Second),
//	    transmit.WithBus[map[string]string](busHandle),
//	)
//	eng.Authorize("chats/:id/messages", func(ctx context.Context, c map[string]string, params map[string]string) (bool, error) {
//	    return c["id"] == params["id"], nil
//	})
//	stream, err := eng.CreateStream(transmit.CreateStreamParams[map[string]string]{
//	    UID: uid, Context: values, Sink: sink, Done: reqCtx.Done(),
//	})
//	eng.Broadcast("chats/5/messages", payload)
//
// # Bus trust
//
// Subscribe and unsubscribe events replayed from the bus are applied with
// authorization skipped: the instance holding the live connection already
// made the authorization decision, and the original context is not available
// remotely. The bus is therefore assumed to be a trusted internal channel.
package transmit
