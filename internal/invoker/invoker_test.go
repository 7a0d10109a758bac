package invoker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/model"
)

func testPayload() model.StageRequest {
	return model.StageRequest{
		DocumentRef:          "docs/conf-001.pdf",
		SourceClassification: model.SourceBank,
		CorrelationID:        "corr_abc123def456",
	}
}

func newTestInvoker(t *testing.T, endpoint string, timeout time.Duration) *SignedInvoker {
	t.Helper()
	signer := newTestSigner(t)
	targets := []Target{{Name: "extraction", Endpoint: endpoint, Timeout: timeout}}
	inv, err := NewSignedInvoker(signer, targets, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSignedInvoker error: %v", err)
	}
	return inv
}

func TestInvoke_successClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got == "" {
			t.Error("Authorization header missing")
		}
		if got := r.Header.Get("X-Correlation-Id"); got != "corr_abc123def456" {
			t.Errorf("X-Correlation-Id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"correlation_id":"corr_abc123def456","processing_time_ms":42}`))
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeSuccess {
		t.Errorf("Kind = %v, want success", outcome.Kind)
	}
	if outcome.Response == nil || outcome.Response.ProcessingTimeMs != 42 {
		t.Errorf("Response = %+v, want processing_time_ms 42", outcome.Response)
	}
}

func TestInvoke_serverErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeRetryable {
		t.Errorf("Kind = %v, want retryable for 503", outcome.Kind)
	}
	if outcome.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", outcome.StatusCode)
	}
}

func TestInvoke_rateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeRetryable {
		t.Errorf("Kind = %v, want retryable for 429", outcome.Kind)
	}
}

func TestInvoke_clientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeFatal {
		t.Errorf("Kind = %v, want fatal for 422", outcome.Kind)
	}
}

func TestInvoke_timeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 50*time.Millisecond)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeRetryable {
		t.Errorf("Kind = %v, want retryable for timeout", outcome.Kind)
	}
}

func TestInvoke_malformedBodyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeFatal {
		t.Errorf("Kind = %v, want fatal for malformed response", outcome.Kind)
	}
}

func TestInvoke_reportedFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":false,"correlation_id":"corr_abc123def456"}`))
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	outcome, err := inv.Invoke(context.Background(), "extraction", testPayload())
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if outcome.Kind != model.OutcomeFatal {
		t.Errorf("Kind = %v, want fatal when agent reports failure", outcome.Kind)
	}
}

func TestInvoke_unknownTarget(t *testing.T) {
	inv := newTestInvoker(t, "http://localhost:1", time.Second)
	if _, err := inv.Invoke(context.Background(), "no-such-target", testPayload()); err == nil {
		t.Error("Invoke with unknown target should fail")
	}
}
