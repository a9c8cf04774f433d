package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ventro/backend/internal/circuitbreaker"
	"github.com/ventro/backend/internal/core"
)

// Router walks an ordered provider chain. Each provider sits behind its
// own circuit breaker; an open breaker skips straight to the next hop.
// The rule-based terminal client guarantees the chain always answers.
type Router struct {
	chain       []Client
	breakers    *circuitbreaker.Manager
	callTimeout time.Duration
	onFailover  func(from, to string)
}

type RouterOption func(*Router)

// WithFailoverHook registers a callback fired whenever the router moves
// past a provider, for metrics.
func WithFailoverHook(hook func(from, to string)) RouterOption {
	return func(r *Router) { r.onFailover = hook }
}

// NewRouter builds the failover chain. failures and recovery configure
// every provider breaker; the rule-based client gets no breaker because
// it cannot fail. A chain without a rule-based terminal gets one
// appended, so Complete always has a provider that answers.
func NewRouter(chain []Client, failures uint32, recovery, callTimeout time.Duration, opts ...RouterOption) *Router {
	terminal := false
	for _, c := range chain {
		if _, ok := c.(*RuleBasedClient); ok {
			terminal = true
			break
		}
	}
	if !terminal {
		chain = append(chain, NewRuleBasedClient())
	}
	r := &Router{
		chain:       chain,
		breakers:    circuitbreaker.NewManager(circuitbreaker.ProviderConfig("", failures, recovery)),
		callTimeout: callTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Complete tries each provider in order and returns the first success
// along with the name of the provider that produced it.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (string, string, error) {
	var lastErr error
	for i, client := range r.chain {
		if _, ok := client.(*RuleBasedClient); ok {
			out, err := client.Complete(ctx, req)
			return out, client.Name(), err
		}

		cb := r.breakers.GetOrCreate(client.Name(), nil)
		result, err := cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
			return client.Complete(callCtx, req)
		})
		if err == nil {
			return result.(string), client.Name(), nil
		}

		lastErr = err
		next := "none"
		if i+1 < len(r.chain) {
			next = r.chain[i+1].Name()
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			slog.Warn("provider circuit open, failing over", "provider", client.Name(), "next", next)
		} else {
			slog.Warn("provider call failed, failing over", "provider", client.Name(), "next", next, "error", err)
		}
		if r.onFailover != nil {
			r.onFailover(client.Name(), next)
		}
	}
	return "", "", core.Wrap(core.KindTransient, "all providers exhausted", lastErr)
}

// BreakerStats exposes per-provider breaker state for health reporting.
func (r *Router) BreakerStats() map[string]circuitbreaker.Stats {
	return r.breakers.Stats()
}

// SafeEmbedder wraps an Embedder with a zero-vector fallback. A zero
// vector has defined cosine similarity 0 against anything, so downstream
// similarity checks degrade to "no signal" instead of erroring.
type SafeEmbedder struct {
	inner Embedder
	dim   int
}

func NewSafeEmbedder(inner Embedder, dim int) *SafeEmbedder {
	return &SafeEmbedder{inner: inner, dim: dim}
}

func (e *SafeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.inner.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		slog.Warn("embedding failed, using zero vector", "error", err)
		return make([]float32, e.dim), nil
	}
	return vec, nil
}
