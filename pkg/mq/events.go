package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is a decoded domain-change notification delivered to a subscriber
// handler. Bind decodes the payload with the subscriber's codec.
type Event struct {
	ID         string
	RoutingKey string
	OccurredAt time.Time
	Body       []byte

	codec Codec
}

func (e Event) Bind(v any) error {
	return e.codec.Unmarshal(e.Body, v)
}

type PublisherOptions struct {
	Codec  Codec
	Logger *logrus.Entry
}

func (o *PublisherOptions) setDefaults() {
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

// EventPublisher emits domain-change notifications to a topic exchange.
// Publishing is fire-and-forget: no acknowledgement is awaited and no
// retry happens on this path; durability past the broker is the broker's
// responsibility.
type EventPublisher struct {
	transport Transport
	exchange  string
	opts      PublisherOptions
	m         *metrics
}

func NewEventPublisher(transport Transport, exchange string, opts PublisherOptions) *EventPublisher {
	opts.setDefaults()
	return &EventPublisher{
		transport: transport,
		exchange:  exchange,
		opts:      opts,
		m:         getMetrics(),
	}
}

func (p *EventPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := p.opts.Codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %q: %w", routingKey, err)
	}
	env := Envelope{
		RoutingKey:  routingKey,
		MessageID:   uuid.NewString(),
		ContentType: p.opts.Codec.ContentType(),
		Timestamp:   time.Now(),
		Body:        body,
	}
	if err := p.transport.Publish(ctx, p.exchange, routingKey, env); err != nil {
		return fmt.Errorf("publish event %q: %w", routingKey, err)
	}
	p.m.eventsPublished.WithLabelValues(routingKey).Inc()
	return nil
}

// EventHandler processes one delivered event. A nil return acknowledges
// the message; an error leaves it rejected without requeue and logged.
type EventHandler func(ctx context.Context, ev Event) error

type SubscriberOptions struct {
	Codec  Codec
	Logger *logrus.Entry
}

func (o *SubscriberOptions) setDefaults() {
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

// EventSubscriber binds ephemeral queues to topic patterns on an exchange
// and delivers decoded events to handlers with acknowledge-after-success
// semantics. Messages from one publisher with the same routing key arrive
// in publish order; each is still handled on its own goroutine so slow
// handlers do not stall the delivery loop for other messages. Only
// delivery is ordered, not handler completion: handlers that need strict
// per-key ordering must enforce it themselves, e.g. with a version field
// on the payload.
type EventSubscriber struct {
	transport Transport
	exchange  string
	opts      SubscriberOptions
	m         *metrics
}

func NewEventSubscriber(transport Transport, exchange string, opts SubscriberOptions) *EventSubscriber {
	opts.setDefaults()
	return &EventSubscriber{
		transport: transport,
		exchange:  exchange,
		opts:      opts,
		m:         getMetrics(),
	}
}

// Subscribe binds a fresh exclusive queue to pattern and starts consuming.
// It returns once the subscription is established; delivery continues until
// ctx is cancelled or the transport closes.
func (s *EventSubscriber) Subscribe(ctx context.Context, pattern string, handler EventHandler) error {
	queue, err := s.transport.DeclareQueue(ctx, "", QueueOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		return fmt.Errorf("declare event queue: %w", err)
	}
	if err := s.transport.BindQueue(ctx, queue, s.exchange, pattern); err != nil {
		return fmt.Errorf("bind %q to %q: %w", pattern, s.exchange, err)
	}
	deliveries, err := s.transport.Consume(ctx, queue)
	if err != nil {
		return fmt.Errorf("consume event queue: %w", err)
	}

	go s.deliverLoop(ctx, deliveries, handler)
	return nil
}

func (s *EventSubscriber) deliverLoop(ctx context.Context, deliveries <-chan Delivery, handler EventHandler) {
	for d := range deliveries {
		go s.deliver(ctx, d, handler)
	}
}

func (s *EventSubscriber) deliver(ctx context.Context, d Delivery, handler EventHandler) {
	ev := Event{
		ID:         d.MessageID,
		RoutingKey: d.RoutingKey,
		OccurredAt: d.Timestamp,
		Body:       d.Body,
		codec:      s.opts.Codec,
	}
	if err := handler(ctx, ev); err != nil {
		s.m.eventsConsumed.WithLabelValues(d.RoutingKey, resultFailure).Inc()
		s.opts.Logger.WithError(err).WithFields(logrus.Fields{
			"routing_key": d.RoutingKey,
			"message_id":  d.MessageID,
		}).Warn("mq: event handler failed, dropping message")
		_ = d.Reject(false)
		return
	}
	s.m.eventsConsumed.WithLabelValues(d.RoutingKey, resultSuccess).Inc()
	_ = d.Ack()
}
