package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// DefinitionsLoaded is required. A nil func reports not ready.
	DefinitionsLoaded func() bool

	// Optional checks, run only if non-nil.
	Store            HealthChecker
	IdempotencyStore HealthChecker
	Scheduler        HealthChecker
	EventBus         HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns the readiness handler. It answers 503 while any
// check fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checks.Run(r.Context())
		httpStatus := http.StatusOK
		if resp.Status != "ready" {
			httpStatus = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Run evaluates every configured check. Dependency checks run concurrently,
// each bounded by its own timeout.
func (c ReadinessChecks) Run(ctx context.Context) ReadinessResponse {
	results := map[string]CheckResult{"definitions": c.definitionsResult()}

	deps := map[string]HealthChecker{
		"store":             c.Store,
		"idempotency_store": c.IdempotencyStore,
		"scheduler":         c.Scheduler,
		"event_bus":         c.EventBus,
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, checker := range deps {
		if checker == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := runCheck(ctx, checker)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := "ready"
	for _, res := range results {
		if res.Status != "ok" {
			status = "not_ready"
			break
		}
	}
	return ReadinessResponse{Status: status, Checks: results}
}

func (c ReadinessChecks) definitionsResult() CheckResult {
	if c.DefinitionsLoaded != nil && c.DefinitionsLoaded() {
		return CheckResult{Status: "ok"}
	}
	return CheckResult{Status: "error", Error: "no workflow definitions loaded"}
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{
			Status:    "error",
			LatencyMs: latency,
			Error:     err.Error(),
		}
	}
	return CheckResult{
		Status:    "ok",
		LatencyMs: latency,
	}
}
