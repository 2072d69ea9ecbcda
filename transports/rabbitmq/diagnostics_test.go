package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/mmate-instrument/contracts"
	broker "github.com/glimte/mmate-instrument/internal/rabbitmq"
	"github.com/glimte/mmate-instrument/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.published = append(m.published, msg)
		m.keys = append(m.keys, key)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

type factoryStub struct {
	channel Channel
	err     error
	dials   atomic.Int32
	closes  atomic.Int32
}

func (f *factoryStub) factory(context.Context) (Channel, func() error, error) {
	f.dials.Add(1)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.channel, func() error {
		f.closes.Add(1)
		return nil
	}, nil
}

func hookFailed() contracts.Diagnostic {
	d := contracts.NewDiagnostic(contracts.DiagnosticHookFailed, "counter failed in enter stage")
	d.Interceptor = "counter"
	return d
}

func TestDiagnosticsPublisher(t *testing.T) {
	t.Run("publishes diagnostics as JSON", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", "apm", "apm.diag.hook_failed").Return(nil)
		stub := &factoryStub{channel: ch}
		p := NewDiagnosticsPublisher(stub.factory, WithExchange("apm"), WithRoutingKey("apm.diag"))
		require.NoError(t, p.Start(context.Background()))

		d := hookFailed()
		p.Emit(d)

		assert.Eventually(t, func() bool { return ch.count() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, p.Close())

		msg := ch.published[0]
		assert.Equal(t, "application/json", msg.ContentType)
		assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
		assert.Equal(t, d.ID, msg.MessageId)
		assert.Equal(t, "hook_failed", msg.Type)

		var decoded contracts.Diagnostic
		require.NoError(t, json.Unmarshal(msg.Body, &decoded))
		assert.Equal(t, "counter", decoded.Interceptor)
		assert.Equal(t, d.Message, decoded.Message)

		assert.EqualValues(t, 1, stub.dials.Load())
		assert.EqualValues(t, 1, stub.closes.Load())
		assert.Equal(t, PublisherStats{Published: 1}, p.Stats())
	})

	t.Run("full queue drops instead of blocking", func(t *testing.T) {
		p := NewDiagnosticsPublisher((&factoryStub{}).factory, WithBufferSize(2))

		for i := 0; i < 5; i++ {
			p.Emit(hookFailed())
		}

		assert.EqualValues(t, 3, p.Stats().Dropped)
		require.NoError(t, p.Close())
	})

	t.Run("close flushes what is queued", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, mock.Anything).Return(nil)
		p := NewDiagnosticsPublisher((&factoryStub{channel: ch}).factory)
		for i := 0; i < 3; i++ {
			p.Emit(hookFailed())
		}

		require.NoError(t, p.Start(context.Background()))
		require.NoError(t, p.Close())

		assert.Equal(t, 3, ch.count())
		assert.ErrorIs(t, p.Start(context.Background()), ErrPublisherClosed)
		assert.NoError(t, p.Close())
	})

	t.Run("publish failure reconnects", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", mock.Anything, mock.Anything).Return(errors.New("channel closed")).Once()
		ch.On("PublishWithContext", mock.Anything, mock.Anything).Return(nil)
		stub := &factoryStub{channel: ch}
		p := NewDiagnosticsPublisher(stub.factory)
		require.NoError(t, p.Start(context.Background()))

		p.Emit(hookFailed())
		p.Emit(hookFailed())

		assert.Eventually(t, func() bool { return ch.count() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, p.Close())
		assert.EqualValues(t, 2, stub.dials.Load())
		assert.Equal(t, PublisherStats{Published: 1, Failed: 1}, p.Stats())
	})

	t.Run("open circuit stops dialling", func(t *testing.T) {
		stub := &factoryStub{err: errors.New("connection refused")}
		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(2), reliability.WithTimeout(time.Hour))
		p := NewDiagnosticsPublisher(stub.factory, WithCircuitBreaker(cb))
		require.NoError(t, p.Start(context.Background()))

		for i := 0; i < 5; i++ {
			p.Emit(hookFailed())
		}

		assert.Eventually(t, func() bool { return p.Stats().Failed == 5 }, time.Second, 5*time.Millisecond)
		require.NoError(t, p.Close())
		assert.EqualValues(t, 2, stub.dials.Load())
		assert.Equal(t, reliability.StateOpen, cb.State())
	})
}

func TestDialChannel(t *testing.T) {
	_, _, err := DialChannel("", "mmate.instrument")(context.Background())

	assert.ErrorIs(t, err, broker.ErrInvalidConfiguration)
	var connErr *broker.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}
