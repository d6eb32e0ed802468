package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler implements one named RPC method. params is the raw "params"
// value from the request payload; the returned value is encoded as the
// reply body. A returned error becomes an application-level error reply.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

type ServerOptions struct {
	Logger *logrus.Entry
}

func (o *ServerOptions) setDefaults() {
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

// Server binds one durable queue to a dispatch table of method handlers.
// Each inbound request is handled on its own goroutine so a slow handler
// cannot stall delivery of unrelated messages. The input message is
// acknowledged only after the reply has been sent: processing is
// at-least-once, and handlers with side effects must tolerate re-execution
// after a crash-redelivery.
type Server struct {
	transport Transport
	queue     string
	opts      ServerOptions
	m         *metrics

	mu       sync.Mutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

func NewServer(transport Transport, queue string, opts ServerOptions) *Server {
	opts.setDefaults()
	return &Server{
		transport: transport,
		queue:     queue,
		opts:      opts,
		m:         getMetrics(),
		handlers:  make(map[string]Handler),
	}
}

// HandleFunc registers the handler for a method name. Registering after
// Run has started is allowed but unusual; last registration wins.
func (s *Server) HandleFunc(method string, h Handler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

func (s *Server) handler(method string) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[method]
	return h, ok
}

// Run declares the server's durable queue and serves requests until ctx is
// cancelled or the delivery channel closes. It blocks; Start is the
// non-blocking variant.
func (s *Server) Run(ctx context.Context) error {
	deliveries, err := s.subscribe(ctx)
	if err != nil {
		return err
	}
	return s.serve(ctx, deliveries)
}

// Start declares the queue and begins serving in the background. It
// returns once the server is consuming; serving stops when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	deliveries, err := s.subscribe(ctx)
	if err != nil {
		return err
	}
	go func() { _ = s.serve(ctx, deliveries) }()
	return nil
}

func (s *Server) subscribe(ctx context.Context) (<-chan Delivery, error) {
	if _, err := s.transport.DeclareQueue(ctx, s.queue, QueueOptions{Durable: true}); err != nil {
		return nil, fmt.Errorf("declare rpc queue %q: %w", s.queue, err)
	}
	deliveries, err := s.transport.Consume(ctx, s.queue)
	if err != nil {
		return nil, fmt.Errorf("consume rpc queue %q: %w", s.queue, err)
	}
	s.opts.Logger.WithField("queue", s.queue).Info("mq: rpc server started")
	return deliveries, nil
}

func (s *Server) serve(ctx context.Context, deliveries <-chan Delivery) error {
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				s.wg.Wait()
				return nil
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(ctx, d)
			}()
		}
	}
}

func (s *Server) handle(ctx context.Context, d Delivery) {
	var raw struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(d.Body, &raw); err != nil {
		s.opts.Logger.WithError(err).Warn("mq: malformed rpc request")
		if d.ReplyTo != "" {
			s.reply(ctx, d, errorBody("malformed request"))
			return
		}
		// No reply path and no way to process it; requeueing would loop.
		_ = d.Reject(false)
		return
	}

	h, ok := s.handler(raw.Method)
	if !ok {
		s.m.serverRequests.WithLabelValues(raw.Method, resultUnknown).Inc()
		s.opts.Logger.WithField("method", raw.Method).Warn("mq: unknown rpc method")
		s.reply(ctx, d, errorBody(fmt.Sprintf("unknown method %q", raw.Method)))
		return
	}

	result, err := s.invoke(ctx, h, raw.Params)
	if err != nil {
		s.m.serverRequests.WithLabelValues(raw.Method, resultApp).Inc()
		s.reply(ctx, d, errorBody(err.Error()))
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		s.m.serverRequests.WithLabelValues(raw.Method, resultFailure).Inc()
		s.opts.Logger.WithError(err).WithField("method", raw.Method).
			Error("mq: failed to encode rpc result")
		s.reply(ctx, d, errorBody("internal error"))
		return
	}

	s.m.serverRequests.WithLabelValues(raw.Method, resultSuccess).Inc()
	s.reply(ctx, d, body)
}

// invoke runs the handler with panic recovery so a broken handler produces
// a structured error reply instead of killing the server loop.
func (s *Server) invoke(ctx context.Context, h Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.WithField("panic", r).Error("mq: rpc handler panicked")
			err = fmt.Errorf("internal error")
		}
	}()
	return h(ctx, params)
}

// reply sends the response to the request's replyTo queue, echoing its
// correlation id, then acknowledges the input. If sending fails the input
// is requeued so the request is eventually re-processed.
func (s *Server) reply(ctx context.Context, d Delivery, body []byte) {
	if d.ReplyTo == "" {
		// Fire-and-forget request; nothing to send back.
		_ = d.Ack()
		return
	}
	env := Envelope{
		CorrelationID: d.CorrelationID,
		MessageID:     uuid.NewString(),
		ContentType:   JSONCodec{}.ContentType(),
		Timestamp:     time.Now(),
		Body:          body,
	}
	if err := s.transport.SendToQueue(ctx, d.ReplyTo, env); err != nil {
		s.opts.Logger.WithError(err).WithField("reply_to", d.ReplyTo).
			Warn("mq: failed to send rpc reply, requeueing request")
		_ = d.Reject(true)
		return
	}
	_ = d.Ack()
}

func errorBody(msg string) []byte {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return body
}
