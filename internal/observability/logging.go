package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/model"
)

type loggerKey struct{}

// NewLogger creates a JSON zap.Logger writing to stdout, tagged with the
// service version.
//
// Level conventions:
//   - error: store failures, failed finalization, recovered panics
//   - warn:  rejected webhooks, failed executions and steps, open breakers
//   - info:  execution start and finish, schedules, seeding, requests
//   - debug: per-step results and redacted trigger data
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		InitialFields:    map[string]any{"service": "flowengine", "version": Version},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger adds the caller's tenant and subject to the context logger.
// The context logger already carries the correlation id.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rc := model.RequestContextFrom(ctx)
	if rc == nil {
		return logger
	}
	fields := []zap.Field{
		zap.String("tenant_id", rc.TenantID),
		zap.String("subject_id", rc.SubjectID),
	}
	if rc.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rc.TraceID))
	}
	return logger.With(fields...)
}

// ExecutionLogger returns the logger for one execution. It starts from the
// context logger so lines from an HTTP-triggered run keep the request's
// correlation id.
func ExecutionLogger(ctx context.Context, base *zap.Logger, exec model.Execution) *zap.Logger {
	return LoggerFrom(ctx, base).With(
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("tenant_id", exec.TenantID),
		zap.String("triggered_by", string(exec.TriggeredBy)),
	)
}

const redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively.
var sensitiveKeys = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "apikey", "authorization", "credit_card", "card_number",
	"ssn", "pin", "webhook_secret", "signature",
}

// RedactTriggerData returns a deep copy of data with sensitive keys masked,
// for debug logging of trigger payloads. Keys in extra are masked too.
func RedactTriggerData(data map[string]any, extra ...string) map[string]any {
	if data == nil {
		return nil
	}
	keys := make(map[string]bool, len(sensitiveKeys)+len(extra))
	for _, k := range sensitiveKeys {
		keys[k] = true
	}
	for _, k := range extra {
		keys[strings.ToLower(k)] = true
	}
	return redactMap(data, keys)
}

func redactMap(m map[string]any, keys map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if keys[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, keys)
	}
	return out
}

func redactValue(v any, keys map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, keys)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, keys)
		}
		return out
	default:
		return v
	}
}
