package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = errors.New("provider unavailable")

func fail(ctx context.Context) (interface{}, error)    { return nil, errProvider }
func succeed(ctx context.Context) (interface{}, error) { return "ok", nil }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(ProviderConfig("groq", 3, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.ExecuteContext(ctx, fail)
		require.ErrorIs(t, err, errProvider)
	}
	assert.Equal(t, StateOpen, cb.State())

	// While open, calls are rejected without reaching the provider.
	called := false
	_, err := cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	cb := New(ProviderConfig("groq", 3, time.Minute))
	ctx := context.Background()

	cb.ExecuteContext(ctx, fail)
	cb.ExecuteContext(ctx, fail)
	cb.ExecuteContext(ctx, succeed)
	cb.ExecuteContext(ctx, fail)
	cb.ExecuteContext(ctx, fail)

	assert.Equal(t, StateClosed, cb.State(), "interleaved success must reset the streak")
}

func TestBreakerHalfOpensAfterRecoveryTimeout(t *testing.T) {
	cb := New(ProviderConfig("groq", 1, 20*time.Millisecond))
	ctx := context.Background()

	cb.ExecuteContext(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// The single successful probe closes the circuit.
	result, err := cb.ExecuteContext(ctx, succeed)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestFailedProbeReopensImmediately(t *testing.T) {
	cb := New(ProviderConfig("groq", 1, 20*time.Millisecond))
	ctx := context.Background()

	cb.ExecuteContext(ctx, fail)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.ExecuteContext(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbeConcurrency(t *testing.T) {
	cb := New(ProviderConfig("groq", 1, 10*time.Millisecond))
	ctx := context.Background()

	cb.ExecuteContext(ctx, fail)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	release := make(chan struct{})
	go cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		<-release
		return "ok", nil
	})
	time.Sleep(10 * time.Millisecond)

	// The probe slot is taken; a second concurrent call is rejected.
	_, err := cb.ExecuteContext(ctx, succeed)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestManagerSharesBreakersByName(t *testing.T) {
	m := NewManager(ProviderConfig("", 3, time.Minute))

	a := m.GetOrCreate("groq", nil)
	b := m.GetOrCreate("groq", nil)
	c := m.GetOrCreate("ollama", nil)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateClosed, stats["groq"].State)
}
