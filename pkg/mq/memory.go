package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryTransport is an in-process Transport used by tests of this package
// and of services built on it. Queues are buffered channels, topic bindings
// use AMQP-style pattern matching, and per-queue send/ack/reject counters
// are exposed so tests can assert on traffic shape.
type MemoryTransport struct {
	mu       sync.Mutex
	queues   map[string]chan Delivery
	bindings []memBinding
	sends    map[string]int
	acks     map[string]int
	rejects  map[string]int
	closed   bool
}

type memBinding struct {
	queue    string
	exchange string
	pattern  string
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		queues:  make(map[string]chan Delivery),
		sends:   make(map[string]int),
		acks:    make(map[string]int),
		rejects: make(map[string]int),
	}
}

func (t *MemoryTransport) DeclareQueue(_ context.Context, name string, _ QueueOptions) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", fmt.Errorf("transport closed")
	}
	if name == "" {
		name = "amq.gen-" + uuid.NewString()
	}
	if _, ok := t.queues[name]; !ok {
		t.queues[name] = make(chan Delivery, 256)
	}
	return name, nil
}

func (t *MemoryTransport) BindQueue(_ context.Context, queue, exchange, pattern string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if _, ok := t.queues[queue]; !ok {
		return fmt.Errorf("queue %q not declared", queue)
	}
	t.bindings = append(t.bindings, memBinding{queue: queue, exchange: exchange, pattern: pattern})
	return nil
}

func (t *MemoryTransport) SendToQueue(_ context.Context, queue string, env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	ch, ok := t.queues[queue]
	if !ok {
		return fmt.Errorf("queue %q not declared", queue)
	}
	t.sends[queue]++
	return t.deliverLocked(ch, queue, env)
}

func (t *MemoryTransport) Publish(_ context.Context, exchange, routingKey string, env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	env.RoutingKey = routingKey
	for _, b := range t.bindings {
		if b.exchange != exchange || !topicMatch(b.pattern, routingKey) {
			continue
		}
		ch, ok := t.queues[b.queue]
		if !ok {
			continue
		}
		if err := t.deliverLocked(ch, b.queue, env); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTransport) deliverLocked(ch chan Delivery, queue string, env Envelope) error {
	var d Delivery
	d = Delivery{
		Envelope: env,
		Ack: func() error {
			t.mu.Lock()
			t.acks[queue]++
			t.mu.Unlock()
			return nil
		},
		Reject: func(requeue bool) error {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.rejects[queue]++
			if requeue && !t.closed {
				select {
				case ch <- d:
				default:
				}
			}
			return nil
		},
	}
	select {
	case ch <- d:
		return nil
	default:
		return fmt.Errorf("queue %q full", queue)
	}
}

func (t *MemoryTransport) Consume(_ context.Context, queue string) (<-chan Delivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	ch, ok := t.queues[queue]
	if !ok {
		return nil, fmt.Errorf("queue %q not declared", queue)
	}
	return ch, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, ch := range t.queues {
		close(ch)
	}
	return nil
}

// SentTo reports how many envelopes were sent directly to queue.
func (t *MemoryTransport) SentTo(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends[queue]
}

// Acked reports how many deliveries from queue were acknowledged.
func (t *MemoryTransport) Acked(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acks[queue]
}

// Rejected reports how many deliveries from queue were rejected.
func (t *MemoryTransport) Rejected(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejects[queue]
}

// TotalAcked sums acknowledgements across every queue, useful when queue
// names are broker-generated.
func (t *MemoryTransport) TotalAcked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, c := range t.acks {
		n += c
	}
	return n
}

// TotalRejected sums rejections across every queue.
func (t *MemoryTransport) TotalRejected() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, c := range t.rejects {
		n += c
	}
	return n
}

// topicMatch implements AMQP topic semantics: "*" matches exactly one
// dot-separated word, "#" matches zero or more.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		if matchWords(pattern[1:], key) {
			return true
		}
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern, key[1:])
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	default:
		if len(key) == 0 || pattern[0] != key[0] {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	}
}
