package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/model"
)

const tracerName = "github.com/opsdeck/flowengine"

// Span attribute keys for engine operations.
var (
	AttrWorkflowID  = attribute.Key("flow.workflow_id")
	AttrExecutionID = attribute.Key("flow.execution_id")
	AttrTenantID    = attribute.Key("flow.tenant_id")
	AttrTriggerID   = attribute.Key("flow.trigger_id")
	AttrTriggeredBy = attribute.Key("flow.triggered_by")
	AttrStepID      = attribute.Key("flow.step_id")
	AttrStepIndex   = attribute.Key("flow.step_index")
	AttrStepType    = attribute.Key("flow.step_type")
	AttrStepSuccess = attribute.Key("flow.step_success")
	AttrStatus      = attribute.Key("flow.status")
	AttrStepsRun    = attribute.Key("flow.steps_run")
)

// InitTracing installs the global tracer provider and W3C propagators for
// serviceName. With tracing disabled it installs nothing and returns a no-op
// shutdown. The returned shutdown flushes buffered spans.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		err = fmt.Errorf("exporter %q is not one of otlp, stdout", cfg.Exporter)
	}
	if err != nil {
		return noop, fmt.Errorf("trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return noop, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}

// sampler honours the caller's sampling decision and samples new roots at
// rate. A zero rate means 10%.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the package-level tracer for creating spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is a convenience wrapper around tracer.Start that uses the
// package-level tracer and converts attribute key-value pairs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// EndSpanWithError ends a span, setting its status to error if err is non-nil.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext extracts the trace ID from the current span context.
// Returns an empty string if no active span is found.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// StartExecutionSpan starts the span covering one execution from insert to
// finalize.
func StartExecutionSpan(ctx context.Context, exec model.Execution) (context.Context, trace.Span) {
	return StartSpan(ctx, "workflow.execute",
		AttrExecutionID.String(exec.ID),
		AttrWorkflowID.String(exec.WorkflowID),
		AttrTenantID.String(exec.TenantID),
		AttrTriggeredBy.String(string(exec.TriggeredBy)),
	)
}

// EndExecutionSpan records exec's terminal status and ends span. A non-nil
// err is a persistence failure and is reported instead of the step error.
func EndExecutionSpan(span trace.Span, exec model.Execution, err error) {
	span.SetAttributes(
		AttrStatus.String(string(exec.Status)),
		AttrStepsRun.Int(len(exec.ExecutionLog)),
	)
	if err == nil && exec.ErrorMessage != "" {
		err = errors.New(exec.ErrorMessage)
	}
	EndSpanWithError(span, err)
}

// StartStepSpan starts a child span for the step at index.
func StartStepSpan(ctx context.Context, step model.Step, index int) (context.Context, trace.Span) {
	return StartSpan(ctx, "workflow.step",
		AttrStepID.String(step.ID),
		AttrStepIndex.Int(index),
		AttrStepType.String(string(step.Type)),
	)
}

// EndStepSpan ends span with the step's outcome.
func EndStepSpan(span trace.Span, out model.StepOutput) {
	span.SetAttributes(AttrStepSuccess.Bool(out.Success))
	if !out.Success {
		EndSpanWithError(span, errors.New(out.Error))
		return
	}
	span.End()
}

// TracingMiddleware opens a server span per request, continuing any trace
// named by an inbound traceparent. Spans are named by the chi route pattern
// once routing is done so execution ids do not end up in span names.
// Webhook spans are all named "<method> webhook" and carry the trigger id.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		webhook := r.URL.Path == "/workflow-webhook"
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		}
		if id := r.URL.Query().Get("id"); webhook && id != "" {
			attrs = append(attrs, AttrTriggerID.String(id))
		}
		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		switch rc := chi.RouteContext(r.Context()); {
		case webhook:
			span.SetName(r.Method + " webhook")
		case rc != nil && rc.RoutePattern() != "":
			span.SetName(r.Method + " " + rc.RoutePattern())
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// InjectTraceHeaders injects the current trace context into outbound HTTP
// request headers. api_call steps use it so downstream services join the
// execution's trace.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
