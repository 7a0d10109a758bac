package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/config"
	"github.com/finlake/tradeflow/model"
)

func testPolicies(maxAttempts, failureThreshold int) map[string]Policy {
	return map[string]Policy{
		"extraction": {
			Retry: config.RetryConfig{
				MaxAttempts:    maxAttempts,
				BackoffInitial: time.Millisecond,
				BackoffMax:     5 * time.Millisecond,
			},
			Breaker: config.CircuitBreakerConfig{
				FailureThreshold: failureThreshold,
				ResetTimeout:     time.Minute,
			},
		},
	}
}

func successOutcome() model.Outcome {
	return model.Outcome{
		Kind:     model.OutcomeSuccess,
		Response: &model.StageResponse{Success: true},
	}
}

func TestExecute_successFirstAttempt(t *testing.T) {
	r := NewResilience(testPolicies(3, 5), zap.NewNop(), nil)

	calls := 0
	outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		calls++
		return successOutcome(), nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome == nil || outcome.Kind != model.OutcomeSuccess {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_retriesThenSucceeds(t *testing.T) {
	r := NewResilience(testPolicies(3, 5), zap.NewNop(), nil)

	calls := 0
	outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		calls++
		if calls < 3 {
			return model.Outcome{Kind: model.OutcomeRetryable, StatusCode: 503}, nil
		}
		return successOutcome(), nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome == nil || outcome.Kind != model.OutcomeSuccess {
		t.Fatalf("outcome = %+v, want success on 3rd attempt", outcome)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (two 503s then success)", calls)
	}
}

func TestExecute_exhaustedRetriesDegradeToNil(t *testing.T) {
	r := NewResilience(testPolicies(3, 10), zap.NewNop(), nil)

	calls := 0
	outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		calls++
		return model.Outcome{Kind: model.OutcomeRetryable, StatusCode: 503}, nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome != nil {
		t.Errorf("outcome = %+v, want nil after exhausted retries", outcome)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_fatalReturnsImmediately(t *testing.T) {
	r := NewResilience(testPolicies(3, 5), zap.NewNop(), nil)

	calls := 0
	outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		calls++
		return model.Outcome{Kind: model.OutcomeFatal, StatusCode: 422}, nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome == nil || outcome.Kind != model.OutcomeFatal {
		t.Fatalf("outcome = %+v, want fatal", outcome)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal is never retried)", calls)
	}
}

func TestExecute_fatalDoesNotTripBreaker(t *testing.T) {
	r := NewResilience(testPolicies(1, 2), zap.NewNop(), nil)

	for i := 0; i < 5; i++ {
		_, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
			return model.Outcome{Kind: model.OutcomeFatal, StatusCode: 400}, nil
		})
		if err != nil {
			t.Fatalf("Execute error: %v", err)
		}
	}

	if st := r.GetStatus("extraction"); st.Open {
		t.Errorf("breaker opened after fatal outcomes: %+v", st)
	}
}

func TestExecute_fatalDuringHalfOpenFreesProbeSlot(t *testing.T) {
	policies := testPolicies(1, 2)
	p := policies["extraction"]
	p.Breaker.ResetTimeout = 10 * time.Millisecond
	policies["extraction"] = p
	r := NewResilience(policies, zap.NewNop(), nil)

	// Two retryable failures trip the breaker.
	for i := 0; i < 2; i++ {
		r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
			return model.Outcome{Kind: model.OutcomeRetryable, StatusCode: 503}, nil
		})
	}
	time.Sleep(20 * time.Millisecond)

	// The half-open probe draws a fatal response. The request was bad, the
	// target is reachable; the probe slot must not stay claimed.
	outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		return model.Outcome{Kind: model.OutcomeFatal, StatusCode: 422}, nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome == nil || outcome.Kind != model.OutcomeFatal {
		t.Fatalf("outcome = %+v, want fatal", outcome)
	}

	// Later calls go through; without the slot release every one of these
	// would degrade to nil with the target wedged.
	for i := 0; i < 3; i++ {
		calls := 0
		outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
			calls++
			return successOutcome(), nil
		})
		if err != nil {
			t.Fatalf("Execute #%d error: %v", i+1, err)
		}
		if outcome == nil || outcome.Kind != model.OutcomeSuccess {
			t.Fatalf("Execute #%d outcome = %+v, want success (status %+v)",
				i+1, outcome, r.GetStatus("extraction"))
		}
		if calls != 1 {
			t.Errorf("Execute #%d calls = %d, want 1", i+1, calls)
		}
	}
}

func TestExecute_openBreakerShortCircuits(t *testing.T) {
	r := NewResilience(testPolicies(1, 2), zap.NewNop(), nil)

	// Two retryable failures trip the breaker.
	for i := 0; i < 2; i++ {
		r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
			return model.Outcome{Kind: model.OutcomeRetryable, StatusCode: 503}, nil
		})
	}
	if st := r.GetStatus("extraction"); !st.Open {
		t.Fatalf("breaker not open after threshold failures: %+v", st)
	}

	calls := 0
	outcome, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		calls++
		return successOutcome(), nil
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome != nil {
		t.Errorf("outcome = %+v, want nil while circuit is open", outcome)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (no attempt while open)", calls)
	}
}

func TestExecute_internalErrorPropagates(t *testing.T) {
	r := NewResilience(testPolicies(3, 5), zap.NewNop(), nil)

	wantErr := errors.New("marshal exploded")
	_, err := r.Execute(context.Background(), "extraction", func(context.Context) (model.Outcome, error) {
		return model.Outcome{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestExecute_contextCancelledDuringBackoff(t *testing.T) {
	policies := testPolicies(3, 5)
	p := policies["extraction"]
	p.Retry.BackoffInitial = time.Second
	policies["extraction"] = p
	r := NewResilience(policies, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Execute(ctx, "extraction", func(context.Context) (model.Outcome, error) {
		return model.Outcome{Kind: model.OutcomeRetryable}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBackoffDelay_exponentialAndCapped(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(cfg, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
