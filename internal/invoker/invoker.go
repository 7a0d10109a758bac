// Package invoker issues signed, classified HTTP calls to remote stage
// agents and wraps them with retry and circuit-breaker resilience.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/observability"
	"github.com/finlake/tradeflow/model"
)

// maxResponseBytes bounds how much of a stage response is read.
const maxResponseBytes = 10 << 20

// Target describes one resolved remote agent endpoint. Endpoint identity
// comes from configuration; no account or secret values live in source.
type Target struct {
	Name     string
	Endpoint string
	Timeout  time.Duration
}

// Metrics is the subset of instrumentation the invoker records.
// *observability.Metrics satisfies it; tests may pass nil.
type Metrics interface {
	RecordStageCall(target string, status int, duration time.Duration)
}

// SignedInvoker issues authenticated HTTP calls to stage agents, enforces
// per-target timeouts, and classifies outcomes as success, retryable, or
// fatal.
type SignedInvoker struct {
	signer  *Signer
	clients map[string]*targetClient
	logger  *zap.Logger
	metrics Metrics
}

type targetClient struct {
	target Target
	client *http.Client
	path   string
}

// NewSignedInvoker creates an invoker with one HTTP client per target.
func NewSignedInvoker(signer *Signer, targets []Target, logger *zap.Logger, metrics Metrics) (*SignedInvoker, error) {
	clients := make(map[string]*targetClient, len(targets))
	for _, t := range targets {
		u, err := url.Parse(t.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("invoker: target %q endpoint: %w", t.Name, err)
		}
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		clients[t.Name] = &targetClient{
			target: t,
			client: &http.Client{
				Timeout:   timeout,
				Transport: transport,
			},
			path: u.Path,
		}
	}
	return &SignedInvoker{
		signer:  signer,
		clients: clients,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Invoke posts the payload to the named target and classifies the result.
// Transport errors, timeouts, 429, and 5xx are retryable; other 4xx are
// fatal. One structured audit event is emitted per call attempt.
func (inv *SignedInvoker) Invoke(ctx context.Context, targetName string, payload model.StageRequest) (model.Outcome, error) {
	tc, ok := inv.clients[targetName]
	if !ok {
		return model.Outcome{}, fmt.Errorf("invoker: target %q not configured", targetName)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("invoker: marshal payload: %w", err)
	}

	auth, err := inv.signer.Sign(http.MethodPost, tc.path, body, payload.CorrelationID)
	if err != nil {
		return model.Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return model.Outcome{}, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)
	req.Header.Set("X-Correlation-Id", payload.CorrelationID)
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := tc.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		outcome := classifyTransportError(ctx, err)
		inv.audit(targetName, payload.CorrelationID, 0, latency, outcome)
		return outcome, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome := model.Outcome{Kind: model.OutcomeRetryable, Detail: "read response: " + err.Error()}
		inv.audit(targetName, payload.CorrelationID, resp.StatusCode, latency, outcome)
		return outcome, nil
	}

	outcome := classifyResponse(resp.StatusCode, respBody)
	inv.audit(targetName, payload.CorrelationID, resp.StatusCode, latency, outcome)
	return outcome, nil
}

// audit emits the per-attempt structured event consumed by the
// observability collaborator.
func (inv *SignedInvoker) audit(target, correlationID string, status int, latency time.Duration, outcome model.Outcome) {
	inv.logger.Info("stage call",
		zap.String("target", target),
		zap.String("correlation_id", correlationID),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("outcome", outcome.Kind.String()),
	)
	if inv.metrics != nil {
		inv.metrics.RecordStageCall(target, status, latency)
	}
}

func classifyTransportError(ctx context.Context, err error) model.Outcome {
	detail := err.Error()
	if ctx.Err() != nil || isTimeoutError(err) {
		return model.Outcome{Kind: model.OutcomeRetryable, Detail: "timeout: " + detail}
	}
	return model.Outcome{Kind: model.OutcomeRetryable, Detail: "transport: " + detail}
}

func classifyResponse(status int, body []byte) model.Outcome {
	switch {
	case status >= 200 && status < 300:
		var sr model.StageResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return model.Outcome{
				Kind:       model.OutcomeFatal,
				StatusCode: status,
				Detail:     "malformed stage response: " + err.Error(),
			}
		}
		if !sr.Success {
			return model.Outcome{
				Kind:       model.OutcomeFatal,
				StatusCode: status,
				Response:   &sr,
				Detail:     "stage reported failure",
			}
		}
		return model.Outcome{Kind: model.OutcomeSuccess, StatusCode: status, Response: &sr}
	case status == http.StatusTooManyRequests || status >= 500:
		return model.Outcome{
			Kind:       model.OutcomeRetryable,
			StatusCode: status,
			Detail:     fmt.Sprintf("status %d", status),
		}
	default:
		return model.Outcome{
			Kind:       model.OutcomeFatal,
			StatusCode: status,
			Detail:     fmt.Sprintf("status %d", status),
		}
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
