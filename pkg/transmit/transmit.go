package transmit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduwass/transmit-1/pkg/bus"
	"github.com/eduwass/transmit-1/pkg/id"
	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

// DefaultBusTopic is the bus topic used for cross-instance replication when
// none is configured.
const DefaultBusTopic = "transmit::broadcast"

// Option configures a Transmit engine.
type Option[C any] func(*Transmit[C])

// WithLogger injects the logger used by the engine and its manager.
func WithLogger[C any](l logpkg.Logger) Option[C] {
	return func(t *Transmit[C]) { t.logger = l }
}

// WithBus attaches a message bus for cross-instance synchronization. The bus
// is treated as a trusted internal channel: replayed subscribe events are
// applied without re-running authorization.
func WithBus[C any](b bus.Bus) Option[C] {
	return func(t *Transmit[C]) { t.bus = b }
}

// WithBusTopic overrides the replication topic (default DefaultBusTopic).
func WithBusTopic[C any](topic string) Option[C] {
	return func(t *Transmit[C]) { t.topic = topic }
}

// WithPingInterval enables the keepalive loop at the given cadence. Zero
// leaves keepalive disabled.
func WithPingInterval[C any](d time.Duration) Option[C] {
	return func(t *Transmit[C]) { t.pingInterval = d }
}

// WithNodeID overrides the generated node identifier used to tag bus
// envelopes. Mostly useful in tests.
func WithNodeID[C any](nodeID string) Option[C] {
	return func(t *Transmit[C]) { t.nodeID = nodeID }
}

// Transmit is the engine façade: it creates streams, performs local and
// distributed broadcast, runs the keepalive loop, and emits lifecycle events.
// C is the application context type carried by streams and forwarded to
// authorizers; the engine never inspects it.
type Transmit[C any] struct {
	logger  logpkg.Logger
	manager *Manager[C]

	bus    bus.Bus
	topic  string
	nodeID string
	gen    *id.Generator
	seen   *seenRing

	observers    *observerRegistry
	pingInterval time.Duration
	pingStop     chan struct{}
	pingDone     chan struct{}
	shutdownOnce sync.Once
}

// New builds an engine. When a bus is configured, New subscribes to the
// replication topic before returning; when a ping interval is configured,
// the keepalive loop starts immediately.
func New[C any](opts ...Option[C]) (*Transmit[C], error) {
	t := &Transmit[C]{
		topic:     DefaultBusTopic,
		nodeID:    uuid.NewString(),
		gen:       id.NewGenerator(),
		seen:      newSeenRing(1024),
		observers: newObserverRegistry(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logpkg.NewLogger().With(logpkg.Component("transmit"))
	}
	t.manager = NewManager[C](t.logger)

	if t.bus != nil {
		if err := t.bus.Subscribe(context.Background(), t.topic, t.handleBusMessage); err != nil {
			return nil, fmt.Errorf("transmit: bus subscribe: %w", err)
		}
		t.logger.Info("bus replication enabled",
			logpkg.Str("topic", t.topic), logpkg.Str("node", t.nodeID))
	}
	if t.pingInterval > 0 {
		t.pingStop = make(chan struct{})
		t.pingDone = make(chan struct{})
		go t.pingLoop()
	}
	return t, nil
}

// Manager exposes the stream manager for adapters that need direct queries.
func (t *Transmit[C]) Manager() *Manager[C] { return t.manager }

// NodeID returns this instance's bus origin identifier.
func (t *Transmit[C]) NodeID() string { return t.nodeID }

// Authorize registers an authorization entry; see Manager.Authorize.
func (t *Transmit[C]) Authorize(pattern string, fn Authorizer[C]) {
	t.manager.Authorize(pattern, fn)
}

// On registers a lifecycle observer for one event kind and returns its
// unregister function. Observers run synchronously in registration order.
func (t *Transmit[C]) On(kind EventKind, fn func(Event)) func() {
	return t.observers.observe(kind, fn)
}

// CreateStream registers a stream and emits a connect event. The disconnect
// event fires after the stream's removal, following the caller's
// OnDisconnect.
func (t *Transmit[C]) CreateStream(p CreateStreamParams[C]) (*Stream[C], error) {
	userConnect := p.OnConnect
	userDisconnect := p.OnDisconnect
	p.OnConnect = func(st *Stream[C]) {
		if userConnect != nil {
			userConnect(st)
		}
		t.observers.emit(Event{Kind: EventConnect, UID: st.UID()})
	}
	p.OnDisconnect = func(st *Stream[C]) {
		if userDisconnect != nil {
			userDisconnect(st)
		}
		t.observers.emit(Event{Kind: EventDisconnect, UID: st.UID()})
	}
	return t.manager.CreateStream(p)
}

// CloseStream disconnects the stream for uid, if live.
func (t *Transmit[C]) CloseStream(uid string) bool {
	return t.manager.Remove(uid)
}

// Subscribe attempts a subscription. On success it emits a subscribe event
// and republishes the subscription to the bus tagged with the uid.
func (t *Transmit[C]) Subscribe(ctx context.Context, p SubscribeParams[C]) bool {
	userSubscribe := p.OnSubscribe
	channel := p.Channel
	p.OnSubscribe = func(st *Stream[C]) {
		if userSubscribe != nil {
			userSubscribe(st)
		}
		t.observers.emit(Event{Kind: EventSubscribe, UID: st.UID(), Channel: channel})
		t.publishEnvelope(kindSubscribe, channel, st.UID(), nil)
	}
	return t.manager.Subscribe(ctx, p)
}

// Unsubscribe removes a subscription, emitting an unsubscribe event and
// replicating to the bus only when a removal actually occurred.
func (t *Transmit[C]) Unsubscribe(p UnsubscribeParams[C]) bool {
	userUnsubscribe := p.OnUnsubscribe
	channel := p.Channel
	p.OnUnsubscribe = func(st *Stream[C]) {
		if userUnsubscribe != nil {
			userUnsubscribe(st)
		}
		t.observers.emit(Event{Kind: EventUnsubscribe, UID: st.UID(), Channel: channel})
		t.publishEnvelope(kindUnsubscribe, channel, st.UID(), nil)
	}
	return t.manager.Unsubscribe(p)
}

// Broadcast publishes payload to every subscriber of channel. With a bus
// configured, the event is published for the other instances and local
// fan-out happens immediately, without waiting for the bus round-trip. The
// broadcast lifecycle event is emitted once, locally, regardless of bus
// presence.
func (t *Transmit[C]) Broadcast(channel string, payload any) {
	if channel == "" {
		return
	}
	t.publishEnvelope(kindBroadcast, channel, "", payload)
	t.fanOut(channel, payload, nil)
	t.observers.emit(Event{Kind: EventBroadcast, Channel: channel, Payload: payload})
}

// BroadcastExcept performs local fan-out to channel, skipping every stream
// whose uid is in the exclusion list. It does not replicate to the bus and
// does not emit a broadcast event.
func (t *Transmit[C]) BroadcastExcept(channel string, payload any, excludedUIDs ...string) {
	if channel == "" {
		return
	}
	var excluded map[string]struct{}
	if len(excludedUIDs) > 0 {
		excluded = make(map[string]struct{}, len(excludedUIDs))
		for _, uid := range excludedUIDs {
			excluded[uid] = struct{}{}
		}
	}
	t.fanOut(channel, payload, excluded)
}

// fanOut writes payload to the local subscribers of channel, best-effort: a
// failing sink disconnects that stream without aborting delivery to the rest.
func (t *Transmit[C]) fanOut(channel string, payload any, excluded map[string]struct{}) {
	for _, st := range t.manager.FindByChannel(channel) {
		if excluded != nil {
			if _, skip := excluded[st.UID()]; skip {
				continue
			}
		}
		if err := st.write(Message{Channel: channel, Payload: payload}); err != nil {
			t.logger.Warn("stream write failed, disconnecting",
				logpkg.Str("uid", st.UID()), logpkg.Str("channel", channel), logpkg.Err(err))
			t.manager.Remove(st.UID())
		}
	}
}

// pingLoop writes a zero-payload message on the reserved ping channel to
// every live stream at the configured cadence. This is transport-level
// keepalive: no lifecycle events, no bus replication.
func (t *Transmit[C]) pingLoop() {
	defer close(t.pingDone)
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.pingStop:
			return
		case <-ticker.C:
			t.manager.ForEachStream(func(st *Stream[C]) {
				if err := st.write(Message{Channel: PingChannel, Payload: ""}); err != nil {
					t.logger.Debug("keepalive write failed, disconnecting",
						logpkg.Str("uid", st.UID()), logpkg.Err(err))
					t.manager.Remove(st.UID())
				}
			})
		}
	}
}

// Shutdown stops the keepalive loop and disconnects the bus. It is safe
// without a configured bus and idempotent against repeated calls.
func (t *Transmit[C]) Shutdown() error {
	var err error
	t.shutdownOnce.Do(func() {
		if t.pingStop != nil {
			close(t.pingStop)
			<-t.pingDone
		}
		if t.bus != nil {
			err = t.bus.Disconnect()
		}
	})
	return err
}
