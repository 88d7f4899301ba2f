package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/model"
)

// newTestLogger writes JSON entries to buf at debug level.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

// lastEntry decodes the final line written to buf.
func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("parse log entry %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level       string
		enabled     zapcore.Level
		belowOff bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, true},
		{"warn", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"verbose", zapcore.InfoLevel, true},
		{"", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			defer func() { _ = logger.Sync() }()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%s should be enabled", tt.enabled)
			}
			if tt.belowOff && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("%s should be disabled", tt.enabled-1)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("empty context should return the fallback")
	}

	stored := zap.NewExample()
	if got := LoggerFrom(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("stored logger should win over the fallback")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(&buf).With(zap.String("correlation_id", "corr-1"))
	ctx := WithLogger(context.Background(), base)

	RequestLogger(ctx, zap.NewNop()).Info("anonymous")
	if entry := lastEntry(t, &buf); entry["tenant_id"] != nil || entry["correlation_id"] != "corr-1" {
		t.Errorf("entry without request context = %v", entry)
	}

	ctx = model.WithRequestContext(ctx, &model.RequestContext{TenantID: "acme", SubjectID: "u-42", TraceID: "trace-9"})
	RequestLogger(ctx, zap.NewNop()).Warn("lookup failed")

	entry := lastEntry(t, &buf)
	for key, want := range map[string]string{
		"tenant_id":      "acme",
		"subject_id":     "u-42",
		"trace_id":       "trace-9",
		"correlation_id": "corr-1",
		"level":          "warn",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestExecutionLogger(t *testing.T) {
	var buf bytes.Buffer
	exec := model.Execution{ID: "exec-1", WorkflowID: "wf-1", TenantID: "acme", TriggeredBy: model.TriggeredBySchedule}

	ExecutionLogger(context.Background(), newTestLogger(&buf), exec).Info("execution started")
	entry := lastEntry(t, &buf)
	for key, want := range map[string]string{
		"execution_id": "exec-1",
		"workflow_id":  "wf-1",
		"tenant_id":    "acme",
		"triggered_by": "schedule",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}

	// A request-scoped logger on the context is preferred over the base.
	var reqBuf bytes.Buffer
	ctx := WithLogger(context.Background(), newTestLogger(&reqBuf).With(zap.String("correlation_id", "corr-7")))
	ExecutionLogger(ctx, newTestLogger(&buf), exec).Info("execution started")
	if got := lastEntry(t, &reqBuf)["correlation_id"]; got != "corr-7" {
		t.Errorf("correlation_id = %v, want corr-7", got)
	}
}

func TestRedactTriggerData(t *testing.T) {
	data := map[string]any{
		"event":         "ticket.created",
		"Authorization": "Bearer abc",
		"customer": map[string]any{
			"email":    "a@example.com",
			"Password": "hunter2",
		},
		"items": []any{
			map[string]any{"sku": "A-1", "api_key": "k"},
			[]any{map[string]any{"token": "t"}},
			"plain",
		},
	}

	got := RedactTriggerData(data, "EMAIL")

	if got["event"] != "ticket.created" || got["Authorization"] != redacted {
		t.Errorf("top level = %v", got)
	}
	customer := got["customer"].(map[string]any)
	if customer["email"] != redacted || customer["Password"] != redacted {
		t.Errorf("customer = %v", customer)
	}
	items := got["items"].([]any)
	if first := items[0].(map[string]any); first["sku"] != "A-1" || first["api_key"] != redacted {
		t.Errorf("items[0] = %v", first)
	}
	if inner := items[1].([]any)[0].(map[string]any); inner["token"] != redacted {
		t.Errorf("items[1] = %v", items[1])
	}
	if items[2] != "plain" {
		t.Errorf("items[2] = %v", items[2])
	}

	if data["Authorization"] != "Bearer abc" || data["customer"].(map[string]any)["Password"] != "hunter2" {
		t.Error("input was mutated")
	}
	if RedactTriggerData(nil) != nil {
		t.Error("nil data should stay nil")
	}
}
