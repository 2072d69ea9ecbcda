package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DialFunc opens a broker connection
type DialFunc func(url string, cfg amqp.Config) (*amqp.Connection, error)

// Dialer opens connections with a bounded wait
type Dialer struct {
	url       string
	heartbeat time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	dial      DialFunc
}

// DialerOption configures the Dialer
type DialerOption func(*Dialer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(heartbeat time.Duration) DialerOption {
	return func(d *Dialer) {
		d.heartbeat = heartbeat
	}
}

// WithDialTimeout bounds how long Dial waits for the broker
func WithDialTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		d.timeout = timeout
	}
}

// WithDialFunc replaces amqp.DialConfig
func WithDialFunc(dial DialFunc) DialerOption {
	return func(d *Dialer) {
		d.dial = dial
	}
}

// NewDialer creates a dialer for url
func NewDialer(url string, options ...DialerOption) *Dialer {
	d := &Dialer{
		url:       url,
		heartbeat: 10 * time.Second,
		timeout:   30 * time.Second,
		logger:    slog.Default(),
		dial:      amqp.DialConfig,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Dial connects to the broker. A connection that arrives after ctx or the
// dial timeout gave up is closed.
func (d *Dialer) Dial(ctx context.Context) (*amqp.Connection, error) {
	if d.url == "" {
		return nil, d.connError(ErrInvalidConfiguration)
	}

	connCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	results := make(chan result, 1)

	go func() {
		conn, err := d.dial(d.url, amqp.Config{
			Heartbeat: d.heartbeat,
			Locale:    "en_US",
		})
		results <- result{conn: conn, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, d.connError(r.err)
		}
		d.logger.Debug("connected to RabbitMQ", "url", SanitizeURL(d.url))
		return r.conn, nil

	case <-connCtx.Done():
		go func() {
			if r := <-results; r.conn != nil {
				r.conn.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, d.connError(ctx.Err())
		}
		return nil, d.connError(ErrConnectionTimeout)
	}
}

func (d *Dialer) connError(err error) error {
	return &ConnectionError{
		Op:        "connect",
		URL:       SanitizeURL(d.url),
		Err:       err,
		Timestamp: time.Now(),
	}
}

// DeclareExchange declares a durable topic exchange
func DeclareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
