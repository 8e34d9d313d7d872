package transmit

import (
	"context"
	"encoding/json"
	"sync"

	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

// envelopeKind discriminates the three event shapes replicated across
// instances. The set never grows without a protocol version bump.
type envelopeKind string

const (
	kindBroadcast   envelopeKind = "broadcast"
	kindSubscribe   envelopeKind = "subscribe"
	kindUnsubscribe envelopeKind = "unsubscribe"
)

// envelope is the bus wire format. Origin carries the publishing node's ID
// so instances can drop their own echoes; ID makes at-least-once delivery
// idempotent within the dedup window.
type envelope struct {
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	Kind    envelopeKind    `json:"kind"`
	Channel string          `json:"channel"`
	UID     string          `json:"uid,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// publishEnvelope replicates an event to the bus, if one is configured.
// Publish failures are logged and left to the bus's own retry policy; they
// never fail the local operation that already happened.
func (t *Transmit[C]) publishEnvelope(kind envelopeKind, channel, uid string, payload any) {
	if t.bus == nil {
		return
	}
	env := envelope{
		ID:      t.gen.Next().String(),
		Origin:  t.nodeID,
		Kind:    kind,
		Channel: channel,
		UID:     uid,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.logger.Warn("bus payload not serializable",
				logpkg.Str("channel", channel), logpkg.Err(err))
			return
		}
		env.Payload = b
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.logger.Warn("bus envelope marshal failed", logpkg.Err(err))
		return
	}
	if err := t.bus.Publish(context.Background(), t.topic, b); err != nil {
		t.logger.Warn("bus publish failed",
			logpkg.Str("topic", t.topic), logpkg.Err(err))
	}
}

// handleBusMessage applies one replicated event. Broadcasts are fanned out
// locally and never republished to the bus: a message originating from the
// bus must not cycle back onto it. Subscribe and unsubscribe events are
// applied with authorization skipped, since the origin instance already
// authorized against the live connection.
func (t *Transmit[C]) handleBusMessage(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.logger.Debug("dropping malformed bus message", logpkg.Err(err))
		return
	}
	if env.Origin == t.nodeID {
		return
	}
	if env.ID != "" && !t.seen.add(env.ID) {
		return
	}
	switch env.Kind {
	case kindBroadcast:
		var p any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.logger.Debug("dropping bus broadcast with bad payload", logpkg.Err(err))
				return
			}
		}
		t.fanOut(env.Channel, p, nil)
	case kindSubscribe:
		var zero C
		t.manager.Subscribe(context.Background(), SubscribeParams[C]{
			UID:               env.UID,
			Channel:           env.Channel,
			Context:           zero,
			SkipAuthorization: true,
		})
	case kindUnsubscribe:
		t.manager.Unsubscribe(UnsubscribeParams[C]{UID: env.UID, Channel: env.Channel})
	default:
		t.logger.Debug("dropping bus message with unknown kind",
			logpkg.Str("kind", string(env.Kind)))
	}
}

// seenRing remembers the last N envelope IDs to suppress at-least-once
// duplicates. Older duplicates fall out of the window; the protocol
// tolerates their re-application.
type seenRing struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenRing(n int) *seenRing {
	return &seenRing{
		ids:   make(map[string]struct{}, n),
		order: make([]string, n),
	}
}

// add records id and reports whether it was new.
func (r *seenRing) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[id]; dup {
		return false
	}
	if old := r.order[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.order[r.next] = id
	r.next = (r.next + 1) % len(r.order)
	r.ids[id] = struct{}{}
	return true
}
