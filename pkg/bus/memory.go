package bus

import (
	"context"
	"errors"
	"sync"
)

// Broker is an in-process message broker. Each engine instance takes its own
// handle via Client; publishes are delivered synchronously to every
// subscribed handle, including the publisher's own, which mirrors how real
// brokers echo messages back and exercises the engine's origin filtering.
type Broker struct {
	mu     sync.RWMutex
	topics map[string][]*memoryClient
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string][]*memoryClient)}
}

// Client returns a new Bus handle connected to the broker.
func (b *Broker) Client() Bus {
	return &memoryClient{broker: b, handlers: make(map[string]Handler)}
}

func (b *Broker) publish(topic string, payload []byte) {
	b.mu.RLock()
	subs := make([]*memoryClient, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()
	for _, c := range subs {
		c.deliver(topic, payload)
	}
}

func (b *Broker) attach(topic string, c *memoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], c)
}

func (b *Broker) detach(c *memoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		kept := subs[:0]
		for _, s := range subs {
			if s != c {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.topics, topic)
			continue
		}
		b.topics[topic] = kept
	}
}

type memoryClient struct {
	broker *Broker

	mu       sync.RWMutex
	closed   bool
	handlers map[string]Handler
}

func (c *memoryClient) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errors.New("bus: client disconnected")
	}
	c.broker.publish(topic, payload)
	return nil
}

func (c *memoryClient) Subscribe(_ context.Context, topic string, h Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("bus: client disconnected")
	}
	if _, dup := c.handlers[topic]; dup {
		c.mu.Unlock()
		return errors.New("bus: already subscribed to topic")
	}
	c.handlers[topic] = h
	c.mu.Unlock()
	c.broker.attach(topic, c)
	return nil
}

func (c *memoryClient) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.broker.detach(c)
	return nil
}

func (c *memoryClient) deliver(topic string, payload []byte) {
	c.mu.RLock()
	h := c.handlers[topic]
	closed := c.closed
	c.mu.RUnlock()
	if closed || h == nil {
		return
	}
	h(payload)
}
