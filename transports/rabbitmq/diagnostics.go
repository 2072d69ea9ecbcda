package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-instrument/contracts"
	broker "github.com/glimte/mmate-instrument/internal/rabbitmq"
	"github.com/glimte/mmate-instrument/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublisherClosed is returned by Start after Close
var ErrPublisherClosed = errors.New("rabbitmq: diagnostics publisher closed")

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ChannelFactory opens a channel. The returned close func releases whatever
// the channel depends on.
type ChannelFactory func(ctx context.Context) (Channel, func() error, error)

// DialChannel returns a factory dialling url. When exchange is set it is
// declared as a durable topic exchange on every new channel.
func DialChannel(url, exchange string) ChannelFactory {
	dialer := broker.NewDialer(url)
	return func(ctx context.Context) (Channel, func() error, error) {
		conn, err := dialer.Dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to open channel: %w", err)
		}
		if exchange != "" {
			if err := broker.DeclareExchange(ch, exchange); err != nil {
				conn.Close()
				return nil, nil, err
			}
		}
		return ch, conn.Close, nil
	}
}

// PublisherOption configures the DiagnosticsPublisher
type PublisherOption func(*DiagnosticsPublisher)

// WithExchange sets the exchange diagnostics are published to
func WithExchange(exchange string) PublisherOption {
	return func(p *DiagnosticsPublisher) {
		p.exchange = exchange
	}
}

// WithRoutingKey sets the routing key prefix; the diagnostic kind is appended
func WithRoutingKey(prefix string) PublisherOption {
	return func(p *DiagnosticsPublisher) {
		p.routingKey = prefix
	}
}

// WithBufferSize sets how many diagnostics may wait for publishing
func WithBufferSize(size int) PublisherOption {
	return func(p *DiagnosticsPublisher) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

// WithPublishTimeout bounds a single publish
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *DiagnosticsPublisher) {
		p.publishTimeout = timeout
	}
}

// WithCircuitBreaker replaces the default breaker
func WithCircuitBreaker(cb *reliability.CircuitBreaker) PublisherOption {
	return func(p *DiagnosticsPublisher) {
		p.breaker = cb
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *DiagnosticsPublisher) {
		p.logger = logger
	}
}

// PublisherStats counts what happened to emitted diagnostics
type PublisherStats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// DiagnosticsPublisher ships diagnostics to RabbitMQ as JSON. Emit never
// blocks: diagnostics are queued for a background goroutine and dropped when
// the queue is full.
type DiagnosticsPublisher struct {
	factory        ChannelFactory
	exchange       string
	routingKey     string
	bufferSize     int
	publishTimeout time.Duration
	breaker        *reliability.CircuitBreaker
	logger         *slog.Logger

	queue chan contracts.Diagnostic

	// channel and closeConn are owned by the publish loop
	channel   Channel
	closeConn func() error

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDiagnosticsPublisher creates a publisher opening channels through factory
func NewDiagnosticsPublisher(factory ChannelFactory, opts ...PublisherOption) *DiagnosticsPublisher {
	p := &DiagnosticsPublisher{
		factory:        factory,
		exchange:       "mmate.instrument",
		routingKey:     "instrument.diagnostics",
		bufferSize:     1024,
		publishTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("diagnostics-publisher"),
			reliability.WithFailureThreshold(3),
			reliability.WithTimeout(30*time.Second),
			reliability.WithStateChange(func(name string, from, to reliability.State, reason string) {
				p.logger.Warn("diagnostics publisher circuit changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
					"reason", reason,
				)
			}),
		)
	}
	p.queue = make(chan contracts.Diagnostic, p.bufferSize)
	return p
}

// Start launches the publish loop
func (p *DiagnosticsPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	go p.loop(ctx)
	return nil
}

// Emit implements contracts.DiagnosticSink
func (p *DiagnosticsPublisher) Emit(d contracts.Diagnostic) {
	select {
	case p.queue <- d:
	default:
		p.dropped.Add(1)
	}
}

// Close flushes queued diagnostics on a best-effort basis and stops the loop.
func (p *DiagnosticsPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Stats returns delivery counters
func (p *DiagnosticsPublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *DiagnosticsPublisher) loop(ctx context.Context) {
	defer close(p.done)
	defer p.disconnect()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case d := <-p.queue:
			if ctx.Err() != nil {
				p.drain(d)
				return
			}
			p.publish(ctx, d)
		}
	}
}

// drain flushes pending and then the queue with a short deadline of its own
func (p *DiagnosticsPublisher) drain(pending ...contracts.Diagnostic) {
	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	for _, d := range pending {
		p.publish(ctx, d)
	}
	for {
		select {
		case d := <-p.queue:
			p.publish(ctx, d)
		default:
			return
		}
	}
}

func (p *DiagnosticsPublisher) publish(ctx context.Context, d contracts.Diagnostic) {
	body, err := json.Marshal(d)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("failed to encode diagnostic", "diagnosticId", d.ID, "error", err)
		return
	}

	err = p.breaker.Execute(ctx, func() error {
		if p.channel == nil {
			ch, closeConn, err := p.factory(ctx)
			if err != nil {
				return err
			}
			p.channel, p.closeConn = ch, closeConn
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()

		key := p.routingKey + "." + string(d.Kind)
		err := p.channel.PublishWithContext(publishCtx, p.exchange, key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    d.ID,
			Timestamp:    d.Timestamp,
			Type:         string(d.Kind),
			Body:         body,
		})
		if err != nil {
			p.disconnect()
			return &broker.PublishError{
				Exchange:   p.exchange,
				RoutingKey: key,
				MessageID:  d.ID,
				Err:        err,
				Timestamp:  time.Now(),
			}
		}
		return nil
	})
	if err != nil {
		p.failed.Add(1)
		if errors.Is(err, reliability.ErrCircuitOpen) {
			p.logger.Debug("diagnostic not published, circuit open", "diagnosticId", d.ID)
			return
		}
		p.logger.Warn("failed to publish diagnostic", "diagnosticId", d.ID, "kind", d.Kind, "error", err)
		return
	}
	p.published.Add(1)
}

func (p *DiagnosticsPublisher) disconnect() {
	if p.closeConn != nil {
		if err := p.closeConn(); err != nil {
			p.logger.Debug("failed to close diagnostics connection", "error", err)
		}
	}
	p.channel, p.closeConn = nil, nil
}
