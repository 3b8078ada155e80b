package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oceanstack/argo-insight/internal/metrics"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// Pool caps concurrent outbound capability calls and bounds each call with a timeout.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPool creates a pool admitting maxConcurrent calls at once.
func NewPool(maxConcurrent int, timeout time.Duration) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Pool{sem: semaphore.NewWeighted(int64(maxConcurrent)), timeout: timeout}
}

// Timeout returns the per-call deadline.
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

type callResult[T any] struct {
	value T
	err   error
}

// run executes fn holding one slot. The slot is released as soon as the call
// completes, times out, or the caller cancels; fn sees the cancelled context.
func run[T any](ctx context.Context, p *Pool, capability string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(callCtx, 1); err != nil {
		return zero, p.classify(ctx, capability, err)
	}
	defer p.sem.Release(1)

	done := make(chan callResult[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- callResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if callCtx.Err() != nil {
				return zero, p.classify(ctx, capability, callCtx.Err())
			}
			metrics.ObserveCapabilityCall(capability, metrics.OutcomeError)
			return zero, res.err
		}
		metrics.ObserveCapabilityCall(capability, metrics.OutcomeSuccess)
		return res.value, nil
	case <-callCtx.Done():
		return zero, p.classify(ctx, capability, callCtx.Err())
	}
}

func (p *Pool) classify(parent context.Context, capability string, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		metrics.ObserveCapabilityCall(capability, "cancelled")
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.ObserveCapabilityCall(capability, metrics.OutcomeTimeout)
		return fmt.Errorf("%s exceeded %s: %w", capability, p.timeout, utils.ErrCapabilityTimeout)
	}
	return err
}

// GuardedEmbedder routes an Embedder through a Pool.
type GuardedEmbedder struct {
	pool  *Pool
	inner Embedder
}

// GuardEmbedder wraps inner so every call holds a pool slot.
func (p *Pool) GuardEmbedder(inner Embedder) *GuardedEmbedder {
	return &GuardedEmbedder{pool: p, inner: inner}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return run(ctx, g.pool, "embed", func(ctx context.Context) ([]float32, error) {
		return g.inner.Embed(ctx, text)
	})
}

func (g *GuardedEmbedder) Model() string {
	return g.inner.Model()
}

// GuardedGenerator routes a Generator through a Pool.
type GuardedGenerator struct {
	pool  *Pool
	inner Generator
}

// GuardGenerator wraps inner so every call holds a pool slot.
func (p *Pool) GuardGenerator(inner Generator) *GuardedGenerator {
	return &GuardedGenerator{pool: p, inner: inner}
}

func (g *GuardedGenerator) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	return run(ctx, g.pool, "generate", func(ctx context.Context) (string, error) {
		return g.inner.Generate(ctx, prompt, c)
	})
}
