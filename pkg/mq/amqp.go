package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport is the production Transport: one connection/channel pair
// shared by every publisher and consumer in the process. Exchanges and
// queues are declared idempotently on first use; there is no reconnect
// logic here, broker failures surface to callers.
type AMQPTransport struct {
	conn *amqp.Connection

	mu        sync.Mutex
	ch        *amqp.Channel
	exchanges map[string]struct{}
}

func DialAMQP(url string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPTransport{
		conn:      conn,
		ch:        ch,
		exchanges: make(map[string]struct{}),
	}, nil
}

func (t *AMQPTransport) DeclareQueue(_ context.Context, name string, opts QueueOptions) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, err := t.ch.QueueDeclare(name, opts.Durable, opts.AutoDelete, opts.Exclusive, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %q: %w", name, err)
	}
	return q.Name, nil
}

func (t *AMQPTransport) BindQueue(_ context.Context, queue, exchange, pattern string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.declareExchangeLocked(exchange); err != nil {
		return err
	}
	if err := t.ch.QueueBind(queue, pattern, exchange, false, nil); err != nil {
		return fmt.Errorf("bind %q to %q: %w", queue, exchange, err)
	}
	return nil
}

func (t *AMQPTransport) SendToQueue(ctx context.Context, queue string, env Envelope) error {
	// The default exchange routes directly to the queue named by the key.
	return t.publish(ctx, "", queue, env)
}

func (t *AMQPTransport) Publish(ctx context.Context, exchange, routingKey string, env Envelope) error {
	t.mu.Lock()
	err := t.declareExchangeLocked(exchange)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.publish(ctx, exchange, routingKey, env)
}

func (t *AMQPTransport) publish(ctx context.Context, exchange, key string, env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pub := amqp.Publishing{
		ContentType:   env.ContentType,
		CorrelationId: env.CorrelationID,
		ReplyTo:       env.ReplyTo,
		MessageId:     env.MessageID,
		Timestamp:     env.Timestamp,
		Body:          env.Body,
	}
	if err := t.ch.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		return fmt.Errorf("publish to %q/%q: %w", exchange, key, err)
	}
	return nil
}

func (t *AMQPTransport) declareExchangeLocked(exchange string) error {
	if _, ok := t.exchanges[exchange]; ok {
		return nil
	}
	if err := t.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	t.exchanges[exchange] = struct{}{}
	return nil
}

func (t *AMQPTransport) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	t.mu.Lock()
	msgs, err := t.ch.Consume(queue, "", false, false, false, false, nil)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("consume %q: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				d := Delivery{
					Envelope: Envelope{
						RoutingKey:    m.RoutingKey,
						CorrelationID: m.CorrelationId,
						ReplyTo:       m.ReplyTo,
						MessageID:     m.MessageId,
						ContentType:   m.ContentType,
						Timestamp:     m.Timestamp,
						Body:          m.Body,
					},
					Ack:    func() error { return m.Ack(false) },
					Reject: func(requeue bool) error { return m.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ch.Close(); err != nil {
		_ = t.conn.Close()
		return err
	}
	return t.conn.Close()
}
