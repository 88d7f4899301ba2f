package executor

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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/model"
)

// APICallExecutor issues the HTTP request described by an api_call step.
type APICallExecutor struct {
	client           *http.Client
	breakers         *Breakers
	maxResponseBytes int64
	userAgent        string
	logger           *zap.Logger
}

// NewAPICallExecutor builds an executor with a pooled transport. When the
// circuit breaker is enabled each upstream host gets its own breaker whose
// state is exported through metrics.
func NewAPICallExecutor(cfg config.APICallConfig, metrics *observability.Metrics, logger *zap.Logger) *APICallExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	e := &APICallExecutor{
		// No client timeout: the orchestrator bounds each step with a
		// context deadline.
		client:           &http.Client{Transport: transport},
		maxResponseBytes: cfg.MaxResponseBytes,
		userAgent:        cfg.UserAgent,
		logger:           logger,
	}
	if e.maxResponseBytes <= 0 {
		e.maxResponseBytes = 1 << 20
	}
	if cfg.CircuitBreaker.Enabled {
		cb := cfg.CircuitBreaker
		e.breakers = NewBreakers(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout,
			func(host string, state BreakerState) {
				metrics.SetCircuitBreakerState(host, float64(state))
				logger.Info("api_call circuit breaker state changed",
					zap.String("host", host),
					zap.String("state", state.String()),
				)
			})
	}
	return e
}

// Execute sends the request. A 2xx response succeeds; anything else,
// including transport errors, fails the step with the status and body
// captured when available.
func (e *APICallExecutor) Execute(ctx context.Context, cfg model.APICallConfig, sc model.StepContext) model.StepOutput {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return model.Failed(fmt.Sprintf("invalid url: %v", err))
	}
	host := u.Host

	if e.breakers != nil {
		if err := e.breakers.Allow(host); err != nil {
			return model.Failed(fmt.Sprintf("%s: %v", host, err))
		}
	}

	body, contentType, err := encodeBody(cfg.Body)
	if err != nil {
		return model.Failed(fmt.Sprintf("encode request body: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return model.Failed(fmt.Sprintf("build request: %v", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	req.Header.Set("X-Execution-Id", sc.ExecutionID)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		e.recordFailure(host)
		return model.Failed(describeTransportError(ctx, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.maxResponseBytes))
	if err != nil {
		e.recordFailure(host)
		return model.Failed(fmt.Sprintf("read response: %v", err))
	}

	switch {
	case resp.StatusCode >= 500:
		e.recordFailure(host)
	case resp.StatusCode < 400:
		e.recordSuccess(host)
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decodeResponseBody(raw),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.Debug("api_call returned non-2xx",
			zap.String("execution_id", sc.ExecutionID),
			zap.String("step_id", sc.StepID),
			zap.Int("status", resp.StatusCode),
		)
		return model.StepOutput{
			Success: false,
			Error:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Data:    data,
		}
	}
	return model.Succeeded(data)
}

func (e *APICallExecutor) recordFailure(host string) {
	if e.breakers != nil {
		e.breakers.RecordFailure(host)
	}
}

func (e *APICallExecutor) recordSuccess(host string) {
	if e.breakers != nil {
		e.breakers.RecordSuccess(host)
	}
}

// encodeBody sends strings verbatim and everything else as JSON.
func encodeBody(v any) (io.Reader, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "text/plain; charset=utf-8", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// decodeResponseBody returns the JSON value of raw, or raw as a string when
// it is not JSON.
func decodeResponseBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed
	}
	return string(raw)
}

func describeTransportError(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return "request cancelled"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("host lookup failed: %s", dnsErr.Name)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("connection failed: %v", opErr.Err)
	}
	return fmt.Sprintf("request failed: %v", err)
}
