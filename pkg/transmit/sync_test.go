package transmit

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/eduwass/transmit-1/pkg/bus"
)

// countingBus counts Publish calls so tests can prove that bus-originated
// events are never republished.
type countingBus struct {
	bus.Bus
	publishes atomic.Int64
}

func (c *countingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	c.publishes.Add(1)
	return c.Bus.Publish(ctx, topic, payload)
}

func newBusEngine(t *testing.T, b bus.Bus, node string) *Transmit[testCtx] {
	t.Helper()
	return newTestEngine(t,
		WithBus[testCtx](b),
		WithNodeID[testCtx](node),
	)
}

func TestBusBroadcastDeliversOnceEverywhere(t *testing.T) {
	broker := bus.NewBroker()
	engA := newBusEngine(t, broker.Client(), "node-a")
	engB := newBusEngine(t, broker.Client(), "node-b")

	a := connect(t, engA, "a")
	b := connect(t, engB, "b")
	subscribe(t, engA, "a", "room")
	subscribe(t, engB, "b", "room")

	engA.Broadcast("room", "hello")

	// The broker echoes back to A; the origin filter must keep delivery to
	// the local subscriber at exactly one.
	if msgs := a.messages(); len(msgs) != 1 {
		t.Fatalf("a: %v", msgs)
	}
	if msgs := b.messages(); len(msgs) != 1 {
		t.Fatalf("b: %v", msgs)
	}
}

func TestBusInboundBroadcastNotRepublished(t *testing.T) {
	broker := bus.NewBroker()
	counted := &countingBus{Bus: broker.Client()}
	engA := newBusEngine(t, broker.Client(), "node-a")
	engB := newBusEngine(t, counted, "node-b")

	b := connect(t, engB, "b")
	subscribe(t, engB, "b", "room")
	before := counted.publishes.Load()

	engA.Broadcast("room", "hello")

	if msgs := b.messages(); len(msgs) != 1 {
		t.Fatalf("b: %v", msgs)
	}
	if got := counted.publishes.Load(); got != before {
		t.Fatalf("inbound broadcast was republished %d times", got-before)
	}
}

func TestBusSubscribeReplication(t *testing.T) {
	broker := bus.NewBroker()
	engA := newBusEngine(t, broker.Client(), "node-a")
	engB := newBusEngine(t, broker.Client(), "node-b")
	// B would deny this channel locally; the replicated subscribe must apply
	// anyway because the origin instance already authorized it.
	engB.Authorize("secret", func(context.Context, testCtx, map[string]string) (bool, error) {
		return false, nil
	})

	connect(t, engA, "u1")
	sinkB := connect(t, engB, "u1")
	subscribe(t, engA, "u1", "secret")

	engB.BroadcastExcept("secret", "payload") // local-only delivery on B
	if msgs := sinkB.messages(); len(msgs) != 1 {
		t.Fatalf("replicated subscription not applied on B: %v", msgs)
	}
}

func TestBusSubscribeWithoutLocalStream(t *testing.T) {
	broker := bus.NewBroker()
	engA := newBusEngine(t, broker.Client(), "node-a")
	engB := newBusEngine(t, broker.Client(), "node-b")

	connect(t, engA, "only-on-a")
	subscribe(t, engA, "only-on-a", "room")

	// B has no stream for that uid; the replicated subscribe is a no-op.
	if got := engB.Manager().FindByChannel("room"); len(got) != 0 {
		t.Fatalf("phantom subscription on B: %v", got)
	}
	if engB.Manager().Len() != 0 {
		t.Fatalf("phantom stream on B")
	}
}

func TestBusUnsubscribeReplication(t *testing.T) {
	broker := bus.NewBroker()
	engA := newBusEngine(t, broker.Client(), "node-a")
	engB := newBusEngine(t, broker.Client(), "node-b")

	connect(t, engA, "u1")
	sinkB := connect(t, engB, "u1")
	subscribe(t, engA, "u1", "room")
	subscribe(t, engB, "u1", "room")

	engA.Unsubscribe(UnsubscribeParams[testCtx]{UID: "u1", Channel: "room"})

	engB.BroadcastExcept("room", "x")
	if msgs := sinkB.messages(); len(msgs) != 0 {
		t.Fatalf("replicated unsubscribe not applied on B: %v", msgs)
	}
}

func TestBusDuplicateEnvelopeDropped(t *testing.T) {
	tr := newTestEngine(t)
	sink := connect(t, tr, "u1")
	subscribe(t, tr, "u1", "room")

	env := envelope{ID: "e-1", Origin: "other-node", Kind: kindBroadcast, Channel: "room"}
	env.Payload, _ = json.Marshal("hello")
	raw, _ := json.Marshal(env)

	tr.handleBusMessage(raw)
	tr.handleBusMessage(raw)

	if msgs := sink.messages(); len(msgs) != 1 {
		t.Fatalf("duplicate envelope applied: %v", msgs)
	}
}

func TestBusMalformedMessageDropped(t *testing.T) {
	tr := newTestEngine(t)
	sink := connect(t, tr, "u1")
	subscribe(t, tr, "u1", "room")

	tr.handleBusMessage([]byte("{not json"))
	tr.handleBusMessage([]byte(`{"id":"x","origin":"o","kind":"nope","channel":"room"}`))

	if msgs := sink.messages(); len(msgs) != 0 {
		t.Fatalf("malformed input delivered: %v", msgs)
	}
}

func TestSeenRingEvictsOldEntries(t *testing.T) {
	r := newSeenRing(2)
	if !r.add("a") || !r.add("b") {
		t.Fatalf("fresh ids rejected")
	}
	if r.add("a") {
		t.Fatalf("duplicate accepted inside window")
	}
	if !r.add("c") { // evicts "a"
		t.Fatalf("fresh id rejected")
	}
	if !r.add("a") {
		t.Fatalf("evicted id must be accepted again")
	}
}
