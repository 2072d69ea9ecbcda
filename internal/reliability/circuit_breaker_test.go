package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := NewCircuitBreaker(opts...)
	cb.now = clock.Now
	return cb
}

var errBroker = errors.New("broker unreachable")

func fail() error { return errBroker }

func succeed() error { return nil }

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("starts closed and executes", func(t *testing.T) {
		cb := NewCircuitBreaker()
		executed := false

		err := cb.Execute(ctx, func() error {
			executed = true
			return nil
		})

		assert.NoError(t, err)
		assert.True(t, executed)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("opens after failure threshold", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(3), WithName("diagnostics"))

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
		}
		require.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})

		assert.False(t, called)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, StateOpen, cbErr.State)
		assert.Equal(t, "diagnostics", cbErr.Name)
		assert.Contains(t, cbErr.Error(), "failures=3/3")
	})

	t.Run("success in closed state clears the failure run", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, succeed)
		_ = cb.Execute(ctx, fail)

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open probe closes after success threshold", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithSuccessThreshold(2), WithTimeout(time.Minute))
		_ = cb.Execute(ctx, fail)

		clock.Advance(2 * time.Minute)
		require.NoError(t, cb.Execute(ctx, succeed))
		assert.Equal(t, StateHalfOpen, cb.State())
		require.NoError(t, cb.Execute(ctx, succeed))

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithTimeout(time.Minute))
		_ = cb.Execute(ctx, fail)

		clock.Advance(2 * time.Minute)
		_ = cb.Execute(ctx, fail)

		assert.Equal(t, StateOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	})

	t.Run("half-open limits concurrent probes", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithTimeout(time.Minute), WithHalfOpenRequests(1))
		_ = cb.Execute(ctx, fail)
		clock.Advance(2 * time.Minute)

		release := make(chan struct{})
		probing := make(chan struct{})
		done := make(chan error)
		go func() {
			done <- cb.Execute(ctx, func() error {
				close(probing)
				<-release
				return nil
			})
		}()
		<-probing

		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
		close(release)
		assert.NoError(t, <-done)
	})

	t.Run("cancelled context is not counted", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, cb.Execute(cancelled, fail), context.Canceled)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("reset and metrics", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithName("m"))
		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, succeed)

		m := cb.Metrics()
		assert.Equal(t, "m", m.Name)
		assert.Equal(t, StateOpen, m.State)
		assert.EqualValues(t, 2, m.TotalRequests)
		assert.EqualValues(t, 1, m.TotalFailures)
		assert.EqualValues(t, 1, m.TotalRejected)

		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(ctx, succeed))
	})

	t.Run("state changes are reported", func(t *testing.T) {
		changes := make(chan State, 4)
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithStateChange(func(name string, from, to State, reason string) {
			changes <- to
		}))

		_ = cb.Execute(ctx, fail)

		select {
		case to := <-changes:
			assert.Equal(t, StateOpen, to)
		case <-time.After(time.Second):
			t.Fatal("no state change reported")
		}
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
