// Package integration provides a reusable test harness for end-to-end
// testing of the tradeflow orchestrator. It starts a full HTTP server with
// mock stage agents and in-memory stores, signing outbound calls with a
// test key.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/config"
	"github.com/finlake/tradeflow/internal/idempotency"
	"github.com/finlake/tradeflow/internal/invoker"
	"github.com/finlake/tradeflow/internal/observability"
	"github.com/finlake/tradeflow/internal/orchestrator"
	"github.com/finlake/tradeflow/internal/routing"
	"github.com/finlake/tradeflow/internal/status"
	"github.com/finlake/tradeflow/internal/transport"
	"github.com/finlake/tradeflow/model"
)

const testSigningKey = "integration-test-signing-key"

// TestHarness encapsulates a fully wired orchestrator instance with mock
// stage agents for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Agents       *MockAgents
	SessionStore *status.MemorySessionStore
	RecordStore  *routing.MemoryRecordStore
	Orchestrator *orchestrator.Orchestrator
	Signer       *invoker.Signer

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	contextLookup  bool
	retry          config.RetryConfig
	breaker        config.CircuitBreakerConfig
	idempotencyTTL time.Duration
	stageTimeout   time.Duration
}

// WithContextLookup enables the prior context lookup target.
func WithContextLookup() HarnessOption {
	return func(c *harnessConfig) { c.contextLookup = true }
}

// WithRetry sets the retry policy applied to every target.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = r }
}

// WithCircuitBreaker sets the breaker policy applied to every target.
func WithCircuitBreaker(b config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = b }
}

// WithIdempotencyTTL sets the dedup window.
func WithIdempotencyTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.idempotencyTTL = d }
}

// WithStageTimeout sets the per-call timeout applied to every target.
func WithStageTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.stageTimeout = d }
}

// NewTestHarness creates and starts a full orchestrator test instance. The
// server and its mock agents are cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		retry: config.RetryConfig{
			MaxAttempts:    2,
			BackoffInitial: time.Millisecond,
			BackoffMax:     5 * time.Millisecond,
		},
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 100,
			ResetTimeout:     time.Minute,
		},
		idempotencyTTL: 10 * time.Minute,
		stageTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	agents := newMockAgents(t)

	cfg := config.Defaults()
	cfg.ContextLookup.Enabled = hc.contextLookup
	cfg.Idempotency.TTL = hc.idempotencyTTL

	targetNames := append([]string{}, model.PipelineStages...)
	if hc.contextLookup {
		targetNames = append(targetNames, orchestrator.ContextLookupTarget)
	}

	var targets []invoker.Target
	policies := make(map[string]invoker.Policy)
	for _, name := range targetNames {
		targets = append(targets, invoker.Target{
			Name:     name,
			Endpoint: agents.URL() + "/" + name,
			Timeout:  hc.stageTimeout,
		})
		policies[name] = invoker.Policy{Retry: hc.retry, Breaker: hc.breaker}
	}

	logger := zap.NewNop()
	signer, err := invoker.NewSigner([]byte(testSigningKey), cfg.Signing.Issuer, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	inv, err := invoker.NewSignedInvoker(signer, targets, logger, nil)
	if err != nil {
		t.Fatalf("NewSignedInvoker: %v", err)
	}
	res := invoker.NewResilience(policies, logger, nil)

	sessions := status.NewMemorySessionStore()
	records := routing.NewMemoryRecordStore()
	writer := status.NewWriter(sessions, logger)
	router := routing.NewRouter(records,
		cfg.RecordStore.BankTable, cfg.RecordStore.CounterpartyTable, logger, nil)
	guard := idempotency.NewMemoryGuard()

	orch := orchestrator.New(cfg, inv, res, writer, router, guard, logger, nil)

	handler := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Orchestrator: orch,
		Status:       writer,
		Logger:       logger,
		Readiness: observability.ReadinessChecks{
			SigningKeyLoaded: func() bool { return true },
		},
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &TestHarness{
		t:            t,
		server:       server,
		Agents:       agents,
		SessionStore: sessions,
		RecordStore:  records,
		Orchestrator: orch,
		Signer:       signer,
		cfg:          cfg,
	}
}

// TriggerFixture returns a valid process request body.
func TriggerFixture(correlationID string, classification model.SourceClassification) map[string]any {
	return map[string]any{
		"document_ref":          "docs/conf-001.pdf",
		"source_classification": string(classification),
		"correlation_id":        correlationID,
	}
}

// Trigger posts a process request and returns the parsed acknowledgment,
// failing the test unless the server answers 202.
func (h *TestHarness) Trigger(t *testing.T, body map[string]any) model.ProcessResponse {
	t.Helper()
	resp := h.POST("/process", body)
	var ack model.ProcessResponse
	h.AssertJSON(t, resp, http.StatusAccepted, &ack)
	return ack
}

// WaitForSession polls the status endpoint until the session reaches a
// terminal state or the deadline passes.
func (h *TestHarness) WaitForSession(t *testing.T, sessionID string) model.WorkflowSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := h.GET("/workflow/" + sessionID + "/status")
		var session model.WorkflowSession
		h.AssertJSON(t, resp, http.StatusOK, &session)
		if session.IsTerminal() {
			return session
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s never reached a terminal state: %+v", sessionID, session)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// GET issues a GET request against the harness server.
func (h *TestHarness) GET(path string) *http.Response {
	return h.do(http.MethodGet, path, nil)
}

// POST issues a POST request with a JSON body against the harness server.
func (h *TestHarness) POST(path string, body any) *http.Response {
	return h.do(http.MethodPost, path, body)
}

func (h *TestHarness) do(method, path string, body any) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}
