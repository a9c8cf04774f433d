package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	name  string
	out   string
	err   error
	calls int
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	c.calls++
	return c.out, c.err
}

func TestRouterReturnsFirstHealthyProvider(t *testing.T) {
	primary := &fakeClient{name: "groq", out: `{"vendor":"Acme"}`}
	backup := &fakeClient{name: "ollama", out: `{"vendor":"Backup"}`}
	r := NewRouter([]Client{primary, backup}, 3, time.Minute, time.Second)

	out, provider, err := r.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"vendor":"Acme"}`, out)
	assert.Equal(t, "groq", provider)
	assert.Zero(t, backup.calls)
}

func TestRouterFailsOverDownTheChain(t *testing.T) {
	primary := &fakeClient{name: "groq", err: errors.New("502")}
	backup := &fakeClient{name: "ollama", out: `{"vendor":"Backup"}`}

	var hops [][2]string
	r := NewRouter([]Client{primary, backup}, 3, time.Minute, time.Second,
		WithFailoverHook(func(from, to string) { hops = append(hops, [2]string{from, to}) }))

	out, provider, err := r.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"vendor":"Backup"}`, out)
	assert.Equal(t, "ollama", provider)
	assert.Equal(t, [][2]string{{"groq", "ollama"}}, hops)
}

func TestRouterTerminatesAtRuleBased(t *testing.T) {
	primary := &fakeClient{name: "groq", err: errors.New("timeout")}
	r := NewRouter([]Client{primary, NewRuleBasedClient()}, 3, time.Minute, time.Second)

	out, provider, err := r.Complete(context.Background(), CompletionRequest{
		Prompt: "INVOICE\nInvoice No: INV-2024-0091\nVendor: Acme Industrial\nTotal: 1,249.50",
	})
	require.NoError(t, err)
	assert.Equal(t, "rule_based", provider)
	assert.Contains(t, out, MethodRuleBased)
}

func TestRouterSkipsOpenBreaker(t *testing.T) {
	primary := &fakeClient{name: "groq", err: errors.New("down")}
	backup := &fakeClient{name: "ollama", out: "ok"}
	r := NewRouter([]Client{primary, backup}, 2, time.Minute, time.Second)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := r.Complete(ctx, CompletionRequest{Prompt: "x"})
		require.NoError(t, err)
	}
	// Two real failures tripped the breaker; the third call skipped groq.
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 3, backup.calls)
}

func TestRouterAppendsRuleBasedTerminal(t *testing.T) {
	// A chain configured without a rule-based terminal still answers:
	// NewRouter appends one.
	r := NewRouter([]Client{&fakeClient{name: "groq", err: errors.New("down")}}, 3, time.Minute, time.Second)

	out, provider, err := r.Complete(context.Background(), CompletionRequest{
		Prompt: "INVOICE\nInvoice No: INV-2024-0091\nTotal: 1,249.50",
	})
	require.NoError(t, err)
	assert.Equal(t, "rule_based", provider)
	assert.Contains(t, out, MethodRuleBased)
}

func TestSafeEmbedderZeroVectorFallback(t *testing.T) {
	e := NewSafeEmbedder(failingEmbedder{}, 768)

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, vec, 768)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}
