package transmit

import (
	"context"
	"errors"
	"sync"

	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

// Authorizer decides whether a subscription is allowed. It receives the
// context value attached to the subscribe call and the parameters extracted
// from the matching pattern. It may block (e.g. on I/O); returning an error
// denies the subscription.
type Authorizer[C any] func(ctx context.Context, streamContext C, params map[string]string) (bool, error)

type authEntry[C any] struct {
	pattern  string
	compiled *Pattern
	fn       Authorizer[C]
}

// Manager owns the set of live streams, the channel authorization registry,
// and the channel→subscriber index. All mutations funnel through its
// operations, which serialize against each other so that concurrent
// subscribe, unsubscribe, and disconnect on one uid never tear the index.
type Manager[C any] struct {
	logger logpkg.Logger

	mu      sync.RWMutex
	streams map[string]*Stream[C]
	// index maps concrete channel name to subscribed streams. Invariant:
	// index[ch][uid] exists iff streams[uid].channels contains ch.
	index map[string]map[string]*Stream[C]
	// auth holds authorization entries in registration order; authByPattern
	// gives the exact-pattern fast path and replace semantics.
	auth          []*authEntry[C]
	authByPattern map[string]*authEntry[C]
}

// NewManager creates an empty Manager.
func NewManager[C any](logger logpkg.Logger) *Manager[C] {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("transmit"))
	}
	return &Manager[C]{
		logger:        logger,
		streams:       make(map[string]*Stream[C]),
		index:         make(map[string]map[string]*Stream[C]),
		authByPattern: make(map[string]*authEntry[C]),
	}
}

// CreateStreamParams configures stream registration.
type CreateStreamParams[C any] struct {
	// UID is the caller-supplied unique client identifier. Required.
	UID string
	// Context is an opaque application value forwarded to authorizers.
	Context C
	// Sink receives outbound messages. Required.
	Sink Sink
	// Done, when non-nil, signals client disconnect; the manager removes the
	// stream when it fires.
	Done <-chan struct{}
	// OnConnect runs once after registration succeeds.
	OnConnect func(*Stream[C])
	// OnDisconnect runs exactly once after the stream and all its index
	// entries have been removed.
	OnDisconnect func(*Stream[C])
}

// CreateStream registers a new stream. It fails with ErrDuplicateStream when
// the uid already has a live stream; the existing stream is not evicted.
func (m *Manager[C]) CreateStream(p CreateStreamParams[C]) (*Stream[C], error) {
	if p.UID == "" {
		return nil, errors.New("transmit: stream uid is required")
	}
	if p.Sink == nil {
		return nil, errors.New("transmit: stream sink is required")
	}
	st := &Stream[C]{
		uid:          p.UID,
		context:      p.Context,
		sink:         p.Sink,
		channels:     make(map[string]struct{}),
		onDisconnect: p.OnDisconnect,
	}
	m.mu.Lock()
	if _, exists := m.streams[p.UID]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateStream
	}
	m.streams[p.UID] = st
	m.mu.Unlock()

	m.logger.Debug("stream registered", logpkg.Str("uid", p.UID))
	if p.OnConnect != nil {
		p.OnConnect(st)
	}
	if p.Done != nil {
		done := p.Done
		go func() {
			<-done
			m.Remove(p.UID)
		}()
	}
	return st, nil
}

// Remove disconnects the stream for uid: it deletes the registry entry and
// every channel-index entry before invoking the stream's OnDisconnect, so a
// broadcast issued after Remove returns never targets the stream. Removing
// an unknown uid reports false.
func (m *Manager[C]) Remove(uid string) bool {
	m.mu.Lock()
	st, ok := m.streams[uid]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.streams, uid)
	for ch := range st.channels {
		if set := m.index[ch]; set != nil {
			delete(set, uid)
			if len(set) == 0 {
				delete(m.index, ch)
			}
		}
	}
	st.channels = make(map[string]struct{})
	m.mu.Unlock()

	st.closed.Store(true)
	m.logger.Debug("stream removed", logpkg.Str("uid", uid))
	if st.onDisconnect != nil {
		st.onDisconnect(st)
	}
	return true
}

// Authorize registers fn for channels matching pattern. Registering the same
// pattern again replaces the previous entry in place.
func (m *Manager[C]) Authorize(pattern string, fn Authorizer[C]) {
	compiled := CompilePattern(pattern)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.authByPattern[pattern]; ok {
		existing.compiled = compiled
		existing.fn = fn
		return
	}
	entry := &authEntry[C]{pattern: pattern, compiled: compiled, fn: fn}
	m.auth = append(m.auth, entry)
	m.authByPattern[pattern] = entry
}

// lookupAuthLocked resolves the authorization entry for a concrete channel.
// Exact pattern text wins without matching; otherwise entries are tried in
// registration order. Caller holds at least a read lock.
func (m *Manager[C]) lookupAuthLocked(channel string) (*authEntry[C], map[string]string) {
	if entry, ok := m.authByPattern[channel]; ok {
		return entry, map[string]string{}
	}
	for _, entry := range m.auth {
		if params, ok := entry.compiled.Match(channel); ok {
			return entry, params
		}
	}
	return nil, nil
}

// SubscribeParams configures a subscription attempt.
type SubscribeParams[C any] struct {
	UID     string
	Channel string
	// Context is forwarded to the authorizer.
	Context C
	// SkipAuthorization bypasses the authorizer entirely. Used for events
	// replayed from the bus, where the origin instance already authorized.
	// A live local stream for UID is still required.
	SkipAuthorization bool
	// OnSubscribe runs once when the subscription is granted.
	OnSubscribe func(*Stream[C])
}

// Subscribe subscribes uid to a concrete channel name. It reports false when
// the uid has no live stream, the channel name is empty, or a matching
// authorizer denies; it never returns an error to the caller. Channels with
// no matching authorization entry are open (allow-by-default). Subscribing
// an already-subscribed pair is idempotent and still reports true.
func (m *Manager[C]) Subscribe(ctx context.Context, p SubscribeParams[C]) bool {
	if p.UID == "" || p.Channel == "" {
		return false
	}
	m.mu.RLock()
	st := m.streams[p.UID]
	var entry *authEntry[C]
	var params map[string]string
	if st != nil && !p.SkipAuthorization {
		entry, params = m.lookupAuthLocked(p.Channel)
	}
	m.mu.RUnlock()
	if st == nil {
		return false
	}
	if entry != nil {
		ok, err := entry.fn(ctx, p.Context, params)
		if err != nil {
			m.logger.Debug("authorization errored",
				logpkg.Str("uid", p.UID), logpkg.Str("channel", p.Channel), logpkg.Err(err))
			return false
		}
		if !ok {
			return false
		}
	}

	m.mu.Lock()
	// The stream may have disconnected while the authorizer ran; indexing it
	// now would leave a dangling entry.
	if cur := m.streams[p.UID]; cur != st {
		m.mu.Unlock()
		return false
	}
	set := m.index[p.Channel]
	if set == nil {
		set = make(map[string]*Stream[C])
		m.index[p.Channel] = set
	}
	set[p.UID] = st
	st.channels[p.Channel] = struct{}{}
	m.mu.Unlock()

	if p.OnSubscribe != nil {
		p.OnSubscribe(st)
	}
	return true
}

// UnsubscribeParams configures an unsubscription.
type UnsubscribeParams[C any] struct {
	UID     string
	Channel string
	// OnUnsubscribe runs only when a mapping was actually removed.
	OnUnsubscribe func(*Stream[C])
}

// Unsubscribe removes the channel from the stream's subscription set and the
// index. It reports whether a removal occurred; removing a mapping that does
// not exist is not an error.
func (m *Manager[C]) Unsubscribe(p UnsubscribeParams[C]) bool {
	m.mu.Lock()
	st, ok := m.streams[p.UID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if _, subscribed := st.channels[p.Channel]; !subscribed {
		m.mu.Unlock()
		return false
	}
	delete(st.channels, p.Channel)
	if set := m.index[p.Channel]; set != nil {
		delete(set, p.UID)
		if len(set) == 0 {
			delete(m.index, p.Channel)
		}
	}
	m.mu.Unlock()

	if p.OnUnsubscribe != nil {
		p.OnUnsubscribe(st)
	}
	return true
}

// FindByChannel returns the live streams indexed for the exact channel name.
// Broadcasts target concrete channel names, never patterns.
func (m *Manager[C]) FindByChannel(channel string) []*Stream[C] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.index[channel]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Stream[C], 0, len(set))
	for _, st := range set {
		out = append(out, st)
	}
	return out
}

// Subscriptions returns a snapshot of the channels uid is subscribed to and
// whether the uid has a live stream.
func (m *Manager[C]) Subscriptions(uid string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.streams[uid]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(st.channels))
	for ch := range st.channels {
		out = append(out, ch)
	}
	return out, true
}

// ForEachStream calls fn for every live stream. The set is snapshotted first,
// so fn may remove streams without deadlocking.
func (m *Manager[C]) ForEachStream(fn func(*Stream[C])) {
	m.mu.RLock()
	snapshot := make([]*Stream[C], 0, len(m.streams))
	for _, st := range m.streams {
		snapshot = append(snapshot, st)
	}
	m.mu.RUnlock()
	for _, st := range snapshot {
		fn(st)
	}
}

// Len returns the number of live streams.
func (m *Manager[C]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}
