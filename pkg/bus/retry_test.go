package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logpkg "github.com/eduwass/transmit-1/pkg/log"
)

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel), logpkg.WithOutput(logpkg.NullOutput{}))
}

// flakyBus fails the first N publishes and records the rest.
type flakyBus struct {
	mu        sync.Mutex
	failures  int
	delivered [][]byte
}

func (f *flakyBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker down")
	}
	f.delivered = append(f.delivered, append([]byte(nil), payload...))
	return nil
}

func (f *flakyBus) Subscribe(context.Context, string, Handler) error { return nil }
func (f *flakyBus) Disconnect() error                                { return nil }

func (f *flakyBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetryBusPassthrough(t *testing.T) {
	inner := &flakyBus{}
	rb, err := NewRetryBus(inner, RetryOptions{Dir: t.TempDir(), Interval: 20 * time.Millisecond}, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = rb.Disconnect() }()

	if err := rb.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if inner.count() != 1 {
		t.Fatalf("delivered: %d", inner.count())
	}
	if n, err := rb.Pending(); err != nil || n != 0 {
		t.Fatalf("pending=%d err=%v", n, err)
	}
}

func TestRetryBusRedelivers(t *testing.T) {
	inner := &flakyBus{failures: 1}
	rb, err := NewRetryBus(inner, RetryOptions{Dir: t.TempDir(), Interval: 20 * time.Millisecond}, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = rb.Disconnect() }()

	// The failed publish is absorbed, not surfaced.
	if err := rb.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if inner.count() != 0 {
		t.Fatalf("delivered before redelivery: %d", inner.count())
	}

	waitFor(t, "redelivery", func() bool { return inner.count() == 1 })
	waitFor(t, "queue drain", func() bool { n, _ := rb.Pending(); return n == 0 })
}

func TestRetryBusPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	down := &flakyBus{failures: 1 << 30}
	rb, err := NewRetryBus(down, RetryOptions{Dir: dir, Interval: 20 * time.Millisecond}, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = rb.Publish(context.Background(), "t", []byte("x"))
	waitFor(t, "enqueue", func() bool { n, _ := rb.Pending(); return n == 1 })
	if err := rb.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	up := &flakyBus{}
	rb2, err := NewRetryBus(up, RetryOptions{Dir: dir, Interval: 20 * time.Millisecond}, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = rb2.Disconnect() }()
	waitFor(t, "redelivery after restart", func() bool { return up.count() == 1 })
}

func TestRetryBusDropsAfterMaxAttempts(t *testing.T) {
	inner := &flakyBus{failures: 1 << 30}
	rb, err := NewRetryBus(inner, RetryOptions{
		Dir: t.TempDir(), Interval: 20 * time.Millisecond, MaxAttempts: 2,
	}, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = rb.Disconnect() }()

	_ = rb.Publish(context.Background(), "t", []byte("x"))
	waitFor(t, "drop after max attempts", func() bool { n, _ := rb.Pending(); return n == 0 })
	if inner.count() != 0 {
		t.Fatalf("delivered: %d", inner.count())
	}
}

func TestRetryBusSubscribePassthrough(t *testing.T) {
	broker := NewBroker()
	rb, err := NewRetryBus(broker.Client(), RetryOptions{Dir: t.TempDir()}, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = rb.Disconnect() }()

	var got int
	if err := rb.Subscribe(context.Background(), "t", func([]byte) { got++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = broker.Client().Publish(context.Background(), "t", []byte("x"))
	if got != 1 {
		t.Fatalf("got: %d", got)
	}
}
