package bus

import (
	"context"
	"testing"
)

func TestBrokerDeliversToAllClients(t *testing.T) {
	broker := NewBroker()
	a := broker.Client()
	b := broker.Client()

	var gotA, gotB [][]byte
	if err := a.Subscribe(context.Background(), "t", func(p []byte) { gotA = append(gotA, p) }); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if err := b.Subscribe(context.Background(), "t", func(p []byte) { gotB = append(gotB, p) }); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if err := a.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Delivery includes the publisher's own handle, like a real broker echo.
	if len(gotA) != 1 || len(gotB) != 1 {
		t.Fatalf("gotA=%d gotB=%d", len(gotA), len(gotB))
	}
}

func TestBrokerTopicIsolation(t *testing.T) {
	broker := NewBroker()
	a := broker.Client()
	var got int
	_ = a.Subscribe(context.Background(), "t1", func([]byte) { got++ })
	_ = broker.Client().Publish(context.Background(), "t2", []byte("x"))
	if got != 0 {
		t.Fatalf("cross-topic delivery: %d", got)
	}
}

func TestBrokerDisconnectDetaches(t *testing.T) {
	broker := NewBroker()
	a := broker.Client()
	b := broker.Client()
	var got int
	_ = a.Subscribe(context.Background(), "t", func([]byte) { got++ })
	if err := a.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	_ = b.Publish(context.Background(), "t", []byte("x"))
	if got != 0 {
		t.Fatalf("delivered after disconnect: %d", got)
	}
	if err := a.Publish(context.Background(), "t", []byte("x")); err == nil {
		t.Fatalf("publish after disconnect must fail")
	}
	if err := a.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestClientDuplicateSubscription(t *testing.T) {
	broker := NewBroker()
	a := broker.Client()
	_ = a.Subscribe(context.Background(), "t", func([]byte) {})
	if err := a.Subscribe(context.Background(), "t", func([]byte) {}); err == nil {
		t.Fatalf("duplicate topic subscription must fail")
	}
}
