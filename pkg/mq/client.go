package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ClientOptions struct {
	// Timeout is the default per-call deadline when the caller's context
	// carries none.
	Timeout time.Duration
	// SweepEvery is the correlation registry sweep interval.
	SweepEvery time.Duration

	Logger *logrus.Entry
}

func (o *ClientOptions) setDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	if o.SweepEvery == 0 {
		o.SweepEvery = 50 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

// request is the RPC request payload: {"method": ..., "params": ...}.
type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// errorReply is the shape a failed method call comes back in. Any reply
// decoding into it with a non-nil Error is an application failure.
type errorReply struct {
	Error *string `json:"error"`
}

// Client issues correlated RPC calls over a broker queue. Each client owns
// one ephemeral, exclusive reply queue; all in-flight calls multiplex over
// it via the correlation registry. A Client is safe for concurrent use.
type Client struct {
	transport Transport
	opts      ClientOptions
	reg       *registry
	m         *metrics

	mu            sync.Mutex
	replyQueue    string
	consuming     bool
	closed        bool
	cancelConsume context.CancelFunc
}

func NewClient(transport Transport, opts ClientOptions) *Client {
	opts.setDefaults()
	return &Client{
		transport: transport,
		opts:      opts,
		reg:       newRegistry(opts.SweepEvery),
		m:         getMetrics(),
	}
}

// Call invokes method on the service behind queue and decodes the reply
// into result (which may be nil to discard it). It returns one of: nil,
// ErrTimeout, a transport error, or an *AppError reported by the remote
// handler.
func (c *Client) Call(ctx context.Context, queue, method string, params, result any) error {
	start := time.Now()
	err := c.call(ctx, queue, method, params, result)
	c.observe(method, start, err)
	return err
}

// BatchCall resolves many identifiers in a single request/reply round trip:
// params is the whole id list and the reply is the whole result list, in
// the remote service's own order. Callers needing input alignment must
// index the result by id.
func (c *Client) BatchCall(ctx context.Context, queue, method string, ids []string, result any) error {
	start := time.Now()
	err := c.call(ctx, queue, method, ids, result)
	c.observe(method, start, err)
	return err
}

func (c *Client) call(ctx context.Context, queue, method string, params, result any) error {
	replyQueue, err := c.ensureReplyConsumer(ctx)
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.Timeout)
	}

	body, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	id, outcomeCh := c.reg.register(deadline)
	c.m.clientInflight.Inc()
	defer c.m.clientInflight.Dec()

	env := Envelope{
		CorrelationID: id,
		ReplyTo:       replyQueue,
		MessageID:     uuid.NewString(),
		ContentType:   JSONCodec{}.ContentType(),
		Timestamp:     time.Now(),
		Body:          body,
	}
	if err := c.transport.SendToQueue(ctx, queue, env); err != nil {
		c.reg.remove(id)
		return fmt.Errorf("send request to %q: %w", queue, err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case out := <-outcomeCh:
		if out.err != nil {
			return out.err
		}
		return decodeReply(out.body, result)
	case <-timer.C:
		// The request already went out; a reply arriving later is
		// discarded by the registry.
		c.reg.remove(id)
		return ErrTimeout
	case <-ctx.Done():
		c.reg.remove(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

func decodeReply(body []byte, result any) error {
	var probe errorReply
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil {
		return &AppError{Message: *probe.Error}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// ensureReplyConsumer lazily declares the client's exclusive reply queue
// and starts the goroutine routing replies into the registry.
func (c *Client) ensureReplyConsumer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClientClosed
	}
	if c.consuming {
		return c.replyQueue, nil
	}

	name, err := c.transport.DeclareQueue(ctx, "", QueueOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		return "", fmt.Errorf("declare reply queue: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	deliveries, err := c.transport.Consume(consumeCtx, name)
	if err != nil {
		cancel()
		return "", fmt.Errorf("consume reply queue: %w", err)
	}

	c.replyQueue = name
	c.consuming = true
	c.cancelConsume = cancel
	go c.replyLoop(deliveries)

	return name, nil
}

func (c *Client) replyLoop(deliveries <-chan Delivery) {
	for d := range deliveries {
		if d.CorrelationID == "" {
			c.opts.Logger.Warn("mq: reply without correlation id dropped")
			_ = d.Ack()
			continue
		}
		if !c.reg.resolve(d.CorrelationID, d.Body) {
			c.opts.Logger.WithField("correlation_id", d.CorrelationID).
				Debug("mq: reply for unknown correlation id dropped")
		}
		_ = d.Ack()
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	result := resultSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		result = resultTimeout
	default:
		if _, ok := AsAppError(err); ok {
			result = resultApp
		} else {
			result = resultTransport
		}
	}
	c.m.clientCalls.WithLabelValues(method, result).Inc()
	c.m.clientLatency.WithLabelValues(method, result).Observe(time.Since(start).Seconds())
}

// Close fails all in-flight calls and stops the reply consumer. It does
// not close the underlying transport, which may be shared.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancelConsume
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.reg.close()
}

func logrusNop() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
