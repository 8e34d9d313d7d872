package transmit

import "sync"

// EventKind identifies one of the five lifecycle events. The set is closed;
// it only grows with a protocol version bump.
type EventKind int

// Lifecycle event kinds
const (
	EventConnect EventKind = iota
	EventDisconnect
	EventSubscribe
	EventUnsubscribe
	EventBroadcast
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventSubscribe:
		return "subscribe"
	case EventUnsubscribe:
		return "unsubscribe"
	case EventBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Event is delivered to lifecycle observers. UID is empty for broadcast
// events; Payload is set only for broadcast events.
type Event struct {
	Kind    EventKind
	UID     string
	Channel string
	Payload any
}

type observer struct {
	id uint64
	fn func(Event)
}

// observerRegistry holds ordered observer lists per event kind. Observers
// run synchronously in registration order.
type observerRegistry struct {
	mu     sync.RWMutex
	nextID uint64
	byKind map[EventKind][]observer
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{byKind: make(map[EventKind][]observer)}
}

// observe registers fn for kind and returns an unregister function. The
// unregister function is idempotent.
func (r *observerRegistry) observe(kind EventKind, fn func(Event)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.byKind[kind] = append(r.byKind[kind], observer{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.byKind[kind]
		for i, o := range list {
			if o.id == id {
				r.byKind[kind] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (r *observerRegistry) emit(ev Event) {
	r.mu.RLock()
	list := r.byKind[ev.Kind]
	snapshot := make([]observer, len(list))
	copy(snapshot, list)
	r.mu.RUnlock()
	for _, o := range snapshot {
		o.fn(ev)
	}
}
