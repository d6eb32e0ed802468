// Package mq implements the broker-side plumbing of the catalog relay:
// a thin transport over AMQP, a correlated request/response RPC client and
// server, and topic-routed event publish/subscribe.
package mq

import (
	"context"
	"time"
)

// Envelope is the unit exchanged over the broker. CorrelationID and ReplyTo
// are only set on RPC traffic; every RPC reply echoes the request's
// CorrelationID verbatim.
type Envelope struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	MessageID     string
	ContentType   string
	Timestamp     time.Time
	Body          []byte
}

// Delivery is an inbound Envelope plus its acknowledgement handles.
type Delivery struct {
	Envelope

	Ack    func() error
	Reject func(requeue bool) error
}

type QueueOptions struct {
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// Transport is the connection/channel capability the RPC and event layers
// are built on. Implementations: AMQPTransport for production,
// MemoryTransport for tests. No implementation retries internally; broker
// failures surface to the caller immediately.
type Transport interface {
	// DeclareQueue creates the queue if needed and returns its name.
	// An empty name asks the broker for a generated one.
	DeclareQueue(ctx context.Context, name string, opts QueueOptions) (string, error)
	// BindQueue binds queue to a topic exchange with an AMQP-style
	// pattern ("*" one word, "#" zero or more). The exchange is declared
	// idempotently on first use.
	BindQueue(ctx context.Context, queue, exchange, pattern string) error
	SendToQueue(ctx context.Context, queue string, env Envelope) error
	Publish(ctx context.Context, exchange, routingKey string, env Envelope) error
	// Consume delivers messages from queue until ctx is cancelled or the
	// transport closes. Acknowledgement is the receiver's responsibility.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}
