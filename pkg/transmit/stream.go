package transmit

import (
	"sync"
	"sync/atomic"
)

// PingChannel is the reserved channel name used for keepalive writes. Pings
// go straight to every live sink: they bypass the channel index, lifecycle
// events, and bus replication.
const PingChannel = "$pings"

// Message is the unit written to a stream's sink. Payload must be JSON
// serializable; binary payloads are out of contract.
type Message struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// Sink is the outbound half of a client connection. Implementations are the
// transport's concern; Write is called from broadcast fan-out and the
// keepalive loop and must not assume any particular goroutine.
type Sink interface {
	Write(Message) error
}

// Stream is a server-held handle to one client's push connection. It is
// created and owned by the Manager; callers reference it by uid or through
// manager queries.
type Stream[C any] struct {
	uid     string
	context C
	sink    Sink

	// writeMu serializes sink writes so concurrent broadcasts cannot
	// interleave frames on one connection.
	writeMu sync.Mutex
	closed  atomic.Bool

	// channels is the stream's subscription set, guarded by the Manager's
	// lock and always mutated together with the channel index.
	channels map[string]struct{}

	onDisconnect func(*Stream[C])
}

// UID returns the stream's unique client identifier.
func (s *Stream[C]) UID() string { return s.uid }

// Context returns the application context value supplied at creation.
func (s *Stream[C]) Context() C { return s.context }

// Closed reports whether the stream has been removed from the registry.
func (s *Stream[C]) Closed() bool { return s.closed.Load() }

func (s *Stream[C]) write(m Message) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sink.Write(m)
}
