package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/eduwass/transmit-1/internal/storage/pebble"
	"github.com/eduwass/transmit-1/pkg/id"
	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

var retryPrefix = []byte("retry/")

// RetryOptions configures the persistent outbound retry queue.
type RetryOptions struct {
	// Dir is the pebble directory holding queued messages. Required.
	Dir string
	// Interval is the drain cadence. Defaults to 1s.
	Interval time.Duration
	// MaxAttempts bounds redelivery tries per message before it is dropped
	// with an error log. Defaults to 10.
	MaxAttempts uint32
}

// retryRecord is the persisted form of a failed publish.
type retryRecord struct {
	Topic    string `json:"topic"`
	Payload  []byte `json:"payload"`
	Attempts uint32 `json:"attempts"`
	NextAtMs int64  `json:"next_at_ms"`
}

// RetryBus decorates a Bus with a persistent retry queue for outbound
// publishes. A failed Publish is absorbed: the message is persisted under a
// time-sortable key and redelivered by a background loop with exp-jitter
// backoff, so publish failures never surface to (or block) the broadcast
// path that already completed locally.
type RetryBus struct {
	inner  Bus
	db     *pebblestore.DB
	gen    *id.Generator
	logger logpkg.Logger

	maxAttempts uint32
	interval    time.Duration
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// NewRetryBus opens the queue directory and starts the drain loop.
func NewRetryBus(inner Bus, opts RetryOptions, logger logpkg.Logger) (*RetryBus, error) {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("bus-retry"))
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.Dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		return nil, fmt.Errorf("bus: open retry queue: %w", err)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 10
	}
	rb := &RetryBus{
		inner:       inner,
		db:          db,
		gen:         id.NewGenerator(),
		logger:      logger,
		maxAttempts: maxAttempts,
		interval:    interval,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go rb.drainLoop()
	return rb, nil
}

// Publish tries the inner bus and enqueues on failure. It never returns a
// publish error; queueing failures are logged and the message is lost, which
// is within the at-least-once contract.
func (rb *RetryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := rb.inner.Publish(ctx, topic, payload); err != nil {
		rb.logger.Warn("publish failed, queueing for retry",
			logpkg.Str("topic", topic), logpkg.Err(err))
		rb.enqueue(topic, payload, 0)
	}
	return nil
}

// Subscribe passes through to the inner bus.
func (rb *RetryBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	return rb.inner.Subscribe(ctx, topic, h)
}

// Disconnect stops the drain loop, closes the queue, and disconnects the
// inner bus. Queued messages stay on disk for the next start.
func (rb *RetryBus) Disconnect() error {
	var err error
	rb.closeOnce.Do(func() {
		close(rb.stop)
		<-rb.done
		if cerr := rb.db.Close(); cerr != nil {
			err = cerr
		}
		if derr := rb.inner.Disconnect(); derr != nil && err == nil {
			err = derr
		}
	})
	return err
}

// Pending returns the number of queued messages. Used by tests and health
// reporting.
func (rb *RetryBus) Pending() (int, error) {
	it, err := rb.newQueueIter()
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, nil
}

func (rb *RetryBus) enqueue(topic string, payload []byte, attempts uint32) {
	rec := retryRecord{
		Topic:    topic,
		Payload:  payload,
		Attempts: attempts,
		NextAtMs: time.Now().Add(retryBackoff(attempts + 1)).UnixMilli(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		rb.logger.Error("retry record marshal failed", logpkg.Err(err))
		return
	}
	key := append(append([]byte(nil), retryPrefix...), rb.gen.Next().Bytes()...)
	if err := rb.db.Set(key, b); err != nil {
		rb.logger.Error("retry queue write failed, message lost",
			logpkg.Str("topic", topic), logpkg.Err(err))
	}
}

func (rb *RetryBus) drainLoop() {
	defer close(rb.done)
	ticker := time.NewTicker(rb.interval)
	defer ticker.Stop()
	for {
		select {
		case <-rb.stop:
			return
		case <-ticker.C:
			rb.drainOnce()
		}
	}
}

// drainOnce republishes every due record. Success deletes the record;
// failure re-enqueues with one more attempt, dropping the message once
// MaxAttempts is exhausted.
func (rb *RetryBus) drainOnce() {
	it, err := rb.newQueueIter()
	if err != nil {
		rb.logger.Error("retry queue iter failed", logpkg.Err(err))
		return
	}
	type due struct {
		key []byte
		rec retryRecord
	}
	now := time.Now().UnixMilli()
	var dues []due
	for ok := it.First(); ok; ok = it.Next() {
		var rec retryRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			dues = append(dues, due{key: append([]byte(nil), it.Key()...)})
			continue
		}
		if rec.NextAtMs > now {
			continue
		}
		dues = append(dues, due{key: append([]byte(nil), it.Key()...), rec: rec})
	}
	_ = it.Close()

	for _, d := range dues {
		if d.rec.Topic == "" {
			// Unparseable record; drop it.
			_ = rb.db.Delete(d.key)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rb.inner.Publish(ctx, d.rec.Topic, d.rec.Payload)
		cancel()
		if err == nil {
			_ = rb.db.Delete(d.key)
			continue
		}
		attempts := d.rec.Attempts + 1
		_ = rb.db.Delete(d.key)
		if attempts >= rb.maxAttempts {
			rb.logger.Error("dropping message after max retry attempts",
				logpkg.Str("topic", d.rec.Topic), logpkg.Int("attempts", int(attempts)))
			continue
		}
		rb.enqueue(d.rec.Topic, d.rec.Payload, attempts)
	}
}

func (rb *RetryBus) newQueueIter() (*pebble.Iterator, error) {
	hi := append(append([]byte(nil), retryPrefix...), 0xFF)
	return rb.db.NewIter(&pebble.IterOptions{LowerBound: retryPrefix, UpperBound: hi})
}

// retryBackoff computes exp-jitter backoff: base 200ms doubling per attempt,
// capped at 30s, with the final delay drawn uniformly below the cap.
func retryBackoff(attempts uint32) time.Duration {
	base := 200 * time.Millisecond
	d := base << (attempts - 1)
	if attempts > 8 || d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}
