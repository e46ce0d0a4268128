package ml

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/franckalain/foodguard/internal/metrics"
)

// Middleware wraps an Executor with a cross-cutting behavior.
type Middleware func(Executor) Executor

// Chain applies middlewares so that the first one is outermost.
func Chain(base Executor, mws ...Middleware) Executor {
	for i := len(mws) - 1; i >= 0; i-- {
		base = mws[i](base)
	}
	return base
}

// Guard wraps a backend with the production middleware stack. Instrument
// sits outside RateLimit so calls cut short while throttled are counted.
func Guard(base Executor, m *metrics.Metrics, logger *zap.Logger, limit rate.Limit, burst int) Executor {
	return Chain(base,
		Instrument(m, logger),
		RateLimit(limit, burst),
	)
}

type rateLimitedExecutor struct {
	next    Executor
	limiter *rate.Limiter
}

// RateLimit paces requests with a token bucket shared by every executor the
// middleware wraps. A wait cut short by the context is a NetworkError so the
// caller's fallback path still applies.
func RateLimit(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next Executor) Executor {
		return &rateLimitedExecutor{next: next, limiter: limiter}
	}
}

func (r *rateLimitedExecutor) Execute(ctx context.Context, spec PromptSpec) (*RawResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("rate limit: %w", err)}
	}
	return r.next.Execute(ctx, spec)
}

func (r *rateLimitedExecutor) Name() string { return r.next.Name() }

type instrumentedExecutor struct {
	next    Executor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Instrument records latency and outcome of every call.
func Instrument(m *metrics.Metrics, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Executor) Executor {
		return &instrumentedExecutor{next: next, metrics: m, logger: logger}
	}
}

func (i *instrumentedExecutor) Execute(ctx context.Context, spec PromptSpec) (*RawResponse, error) {
	start := time.Now()
	resp, err := i.next.Execute(ctx, spec)
	elapsed := time.Since(start)

	outcome := Outcome(err)
	i.metrics.ObserveAIRequest(i.next.Name(), outcome, elapsed)
	if err != nil {
		i.logger.Warn("AI request failed",
			zap.String("backend", i.next.Name()),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	}
	return resp, err
}

func (i *instrumentedExecutor) Name() string { return i.next.Name() }
