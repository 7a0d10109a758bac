package invoker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/config"
	"github.com/finlake/tradeflow/model"
)

// Operation performs one remote call attempt and classifies the result.
type Operation func(ctx context.Context) (model.Outcome, error)

// Policy holds the retry and breaker settings for one operation name.
type Policy struct {
	Retry   config.RetryConfig
	Breaker config.CircuitBreakerConfig
}

// RetryMetrics is the subset of instrumentation the resilience wrapper
// records. *observability.Metrics satisfies it; tests may pass nil.
type RetryMetrics interface {
	RecordRetry(target string)
	SetBreakerState(target string, state float64)
}

// Resilience wraps operations with bounded retry, exponential backoff, and
// one circuit breaker per operation name. It is explicitly constructed and
// injected; there is no process-global breaker table. Safe for concurrent
// use across sessions.
type Resilience struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	policies map[string]Policy
	logger   *zap.Logger
	metrics  RetryMetrics
}

// NewResilience creates a wrapper with per-operation policies.
func NewResilience(policies map[string]Policy, logger *zap.Logger, metrics RetryMetrics) *Resilience {
	return &Resilience{
		breakers: make(map[string]*CircuitBreaker),
		policies: policies,
		logger:   logger,
		metrics:  metrics,
	}
}

// Execute runs the operation with retry and breaker protection.
//
// The returned outcome is nil, not an error, when the circuit is open or
// all retries exhaust with retryable failures, so callers can degrade
// gracefully instead of aborting. Fatal outcomes are returned on the first
// occurrence and never retried. A non-nil error means an internal failure,
// not a remote one.
func (r *Resilience) Execute(ctx context.Context, name string, op Operation) (*model.Outcome, error) {
	policy := r.policies[name]
	breaker := r.breaker(name, policy.Breaker)

	maxAttempts := policy.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if r.metrics != nil {
				r.metrics.RecordRetry(name)
			}
			delay := backoffDelay(policy.Retry, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		before := breaker.State()
		if err := breaker.Allow(); err != nil {
			status := breaker.Status()
			r.logger.Warn("circuit open, degrading",
				zap.String("operation", name),
				zap.Int("failures", status.Failures),
				zap.Time("opened_at", status.OpenedAt),
			)
			r.publishState(name, breaker)
			return nil, nil
		}
		if after := breaker.State(); after != before {
			r.logger.Info("circuit breaker transition",
				zap.String("operation", name),
				zap.String("from", before.String()),
				zap.String("to", after.String()),
			)
		}

		outcome, err := op(ctx)
		if err != nil {
			breaker.RecordFailure()
			r.publishState(name, breaker)
			return nil, err
		}

		switch outcome.Kind {
		case model.OutcomeSuccess:
			breaker.RecordSuccess()
			r.publishState(name, breaker)
			return &outcome, nil
		case model.OutcomeFatal:
			// A fatal response means our request is invalid, not that the
			// target is unhealthy. It does not count against the breaker,
			// but it must still resolve a half-open probe slot.
			breaker.ReleaseProbe()
			r.publishState(name, breaker)
			return &outcome, nil
		default:
			breaker.RecordFailure()
			r.publishState(name, breaker)
			r.logger.Warn("retryable failure",
				zap.String("operation", name),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.String("detail", outcome.Detail),
			)
		}
	}

	status := breaker.Status()
	r.logger.Warn("retries exhausted, degrading",
		zap.String("operation", name),
		zap.Int("failures", status.Failures),
	)
	return nil, nil
}

// GetStatus returns the breaker snapshot for an operation name.
func (r *Resilience) GetStatus(name string) BreakerStatus {
	policy := r.policies[name]
	return r.breaker(name, policy.Breaker).Status()
}

// breaker returns the breaker for a name, creating it on first use.
func (r *Resilience) breaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout)
		r.breakers[name] = cb
	}
	return cb
}

func (r *Resilience) publishState(name string, cb *CircuitBreaker) {
	if r.metrics == nil {
		return
	}
	// 0=closed, 1=half-open, 2=open, matching the exported gauge.
	var v float64
	switch cb.State() {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	r.metrics.SetBreakerState(name, v)
}

// backoffDelay computes the delay before the given attempt (1-based for
// the first retry): initial * multiplier^(attempt-1), capped at max.
func backoffDelay(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
