package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/finlake/tradeflow/model"
)

// MockAgents is a configurable HTTP test server that simulates every remote
// stage agent behind one listener, keyed by the stage name in the request
// path. It allows configuring per-stage response sequences and records all
// received requests for later assertion.
type MockAgents struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	queues   map[string][]*mockResponse
	received map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by a mock agent.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	RawBody    []byte
	Body       model.StageRequest
	ReceivedAt time.Time
}

type mockResponse struct {
	status int
	body   any
	delay  time.Duration
}

// StageMock is a builder for configuring mock responses for one stage.
type StageMock struct {
	agents *MockAgents
	stage  string
}

func newMockAgents(t *testing.T) *MockAgents {
	t.Helper()
	ma := &MockAgents{
		t:        t,
		queues:   make(map[string][]*mockResponse),
		received: make(map[string][]*RecordedRequest),
	}
	ma.server = httptest.NewServer(http.HandlerFunc(ma.serve))
	t.Cleanup(ma.server.Close)
	return ma
}

// URL returns the base URL of the mock agent server.
func (ma *MockAgents) URL() string {
	return ma.server.URL
}

// OnStage returns a builder for configuring responses for the named stage.
func (ma *MockAgents) OnStage(stage string) *StageMock {
	return &StageMock{agents: ma, stage: stage}
}

// RespondWith queues a response with the given status and body. Queued
// responses are consumed in order; once the queue drains, the default
// success response applies again.
func (sm *StageMock) RespondWith(status int, body any) *StageMock {
	sm.agents.enqueue(sm.stage, &mockResponse{status: status, body: body})
	return sm
}

// RespondWithRecord queues a successful extraction response carrying the
// given raw record.
func (sm *StageMock) RespondWithRecord(rec *model.RawRecord) *StageMock {
	return sm.RespondWith(http.StatusOK, model.StageResponse{
		Success: true,
		Record:  rec,
	})
}

// FailWith queues n responses with the given status and an empty body.
func (sm *StageMock) FailWith(status, n int) *StageMock {
	for i := 0; i < n; i++ {
		sm.RespondWith(status, nil)
	}
	return sm
}

// RespondSlowly queues a success response delayed by d.
func (sm *StageMock) RespondSlowly(d time.Duration) *StageMock {
	sm.agents.enqueue(sm.stage, &mockResponse{
		status: http.StatusOK,
		body:   model.StageResponse{Success: true},
		delay:  d,
	})
	return sm
}

// Requests returns all requests the named stage has received so far.
func (ma *MockAgents) Requests(stage string) []*RecordedRequest {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	out := make([]*RecordedRequest, len(ma.received[stage]))
	copy(out, ma.received[stage])
	return out
}

// CallCount returns how many calls the named stage has received.
func (ma *MockAgents) CallCount(stage string) int {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return len(ma.received[stage])
}

func (ma *MockAgents) enqueue(stage string, resp *mockResponse) {
	ma.mu.Lock()
	ma.queues[stage] = append(ma.queues[stage], resp)
	ma.mu.Unlock()
}

func (ma *MockAgents) serve(w http.ResponseWriter, r *http.Request) {
	stage := strings.TrimPrefix(r.URL.Path, "/")

	rec := &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	rec.RawBody, _ = io.ReadAll(r.Body)
	json.Unmarshal(rec.RawBody, &rec.Body)

	ma.mu.Lock()
	ma.received[stage] = append(ma.received[stage], rec)
	var resp *mockResponse
	if q := ma.queues[stage]; len(q) > 0 {
		resp = q[0]
		ma.queues[stage] = q[1:]
	}
	ma.mu.Unlock()

	if resp == nil {
		resp = &mockResponse{status: http.StatusOK, body: defaultStageResponse(stage, rec.Body)}
	}
	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.body != nil {
		json.NewEncoder(w).Encode(resp.body)
	}
}

// defaultStageResponse is the success envelope a stage returns when no mock
// response is queued. Extraction includes a valid record so the default
// pipeline run completes end to end.
func defaultStageResponse(stage string, req model.StageRequest) model.StageResponse {
	resp := model.StageResponse{
		Success:       true,
		CorrelationID: req.CorrelationID,
		Payload:       map[string]any{"stage": stage},
	}
	if stage == model.StageExtraction {
		resp.Record = &model.RawRecord{
			RecordID:      "TRD-2026-0001",
			Counterparty:  "Meridian Capital",
			Amount:        "1,250,000.50",
			Currency:      "USD",
			EffectiveDate: "2026-01-15",
			MaturityDate:  "2027-01-15",
			ProductType:   "FX_FORWARD",
		}
		resp.TokenUsage = &model.TokenUsage{InputTokens: 900, OutputTokens: 120, TotalTokens: 1020}
	}
	return resp
}
