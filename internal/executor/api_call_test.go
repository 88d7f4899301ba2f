package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/model"
)

func testAPICallConfig() config.APICallConfig {
	return config.APICallConfig{
		MaxIdleConnsPerHost: 2,
		MaxResponseBytes:    1 << 16,
		UserAgent:           "flowengine-test",
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled: true, FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute,
		},
	}
}

func TestAPICallExecutor_success(t *testing.T) {
	type captured struct {
		headers http.Header
		body    map[string]any
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{headers: r.Header.Clone()}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &c.body)
		seen <- c
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ticket":"T-9"}`))
	}))
	defer srv.Close()

	e := NewAPICallExecutor(testAPICallConfig(), nil, nil)
	out := e.Execute(context.Background(), model.APICallConfig{
		URL:     srv.URL + "/tickets",
		Method:  "post",
		Headers: map[string]string{"X-Api-Key": "k1"},
		Body:    map[string]any{"title": "Broken"},
	}, model.StepContext{ExecutionID: "exec-1", StepID: "s1"})

	if !out.Success {
		t.Fatalf("api_call failed: %s", out.Error)
	}
	if out.Data["status_code"] != http.StatusCreated {
		t.Errorf("status_code = %v, want 201", out.Data["status_code"])
	}
	body, _ := out.Data["body"].(map[string]any)
	if body["ticket"] != "T-9" {
		t.Errorf("body = %v, want decoded JSON", out.Data["body"])
	}
	got := <-seen
	gotBody, gotHeaders := got.body, got.headers
	if gotBody["title"] != "Broken" {
		t.Errorf("request body = %v", gotBody)
	}
	if gotHeaders.Get("X-Api-Key") != "k1" || gotHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("request headers = %v", gotHeaders)
	}
	if gotHeaders.Get("X-Execution-Id") != "exec-1" || gotHeaders.Get("User-Agent") != "flowengine-test" {
		t.Errorf("request headers = %v", gotHeaders)
	}
}

func TestAPICallExecutor_non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	out := NewAPICallExecutor(testAPICallConfig(), nil, nil).
		Execute(context.Background(), model.APICallConfig{URL: srv.URL}, model.StepContext{})
	if out.Success {
		t.Fatal("404 should fail the step")
	}
	if out.Error != "HTTP 404 Not Found" {
		t.Errorf("error = %q", out.Error)
	}
	if out.Data["status_code"] != http.StatusNotFound {
		t.Errorf("status_code = %v, want 404", out.Data["status_code"])
	}
	if res := out.Result(); res["success"] != false || res["error"] == nil {
		t.Errorf("result = %v", res)
	}
}

func TestAPICallExecutor_unreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewAPICallExecutor(testAPICallConfig(), nil, nil).
		Execute(context.Background(), model.APICallConfig{URL: url}, model.StepContext{})
	if out.Success {
		t.Fatal("unreachable host should fail the step")
	}
	if out.Error == "" {
		t.Error("error message should be captured")
	}
}

func TestAPICallExecutor_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := NewAPICallExecutor(testAPICallConfig(), nil, nil).
		Execute(ctx, model.APICallConfig{URL: srv.URL}, model.StepContext{})
	if out.Success {
		t.Fatal("timed out request should fail")
	}
	if out.Error != "request timed out" {
		t.Errorf("error = %q, want request timed out", out.Error)
	}
}

func TestAPICallExecutor_breakerOpensOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	e := NewAPICallExecutor(testAPICallConfig(), metrics, nil)
	cfg := model.APICallConfig{URL: srv.URL}

	for i := 0; i < 3; i++ {
		if out := e.Execute(context.Background(), cfg, model.StepContext{}); out.Success {
			t.Fatalf("call %d should fail", i)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2 (third rejected by breaker)", n)
	}
	host := srv.Listener.Addr().String()
	if s := e.breakers.State(host); s != BreakerOpen {
		t.Errorf("breaker state = %v, want open", s)
	}
	if v := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues(host)); v != float64(BreakerOpen) {
		t.Errorf("breaker gauge = %v, want %v", v, float64(BreakerOpen))
	}
}

func TestAPICallExecutor_textBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("echo:"), raw...))
	}))
	defer srv.Close()

	out := NewAPICallExecutor(testAPICallConfig(), nil, nil).Execute(context.Background(),
		model.APICallConfig{URL: srv.URL, Method: "PUT", Body: "plain"}, model.StepContext{})
	if !out.Success {
		t.Fatalf("failed: %s", out.Error)
	}
	if out.Data["body"] != "echo:plain" {
		t.Errorf("body = %v, want raw string", out.Data["body"])
	}
}
