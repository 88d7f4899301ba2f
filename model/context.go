package model

import (
	"context"
	"fmt"
)

// RequestContext is the caller identity of an authenticated management API
// request. Every read and invocation made on its behalf is scoped to
// TenantID.
type RequestContext struct {
	SubjectID     string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

// Authorize rejects contexts that cannot be scoped to a tenant. A nil
// context means authentication never ran.
func (rc *RequestContext) Authorize() error {
	if rc == nil {
		return NewUnauthorizedError("missing request context")
	}
	if rc.TenantID == "" {
		return NewForbiddenError("token carries no tenant")
	}
	return nil
}

// InvokeRequest builds a tenant-scoped manual invocation of workflowID.
// Webhook, schedule and event runs are started only by their own trigger
// paths, so any triggeredBy other than manual (or empty) is rejected.
func (rc *RequestContext) InvokeRequest(workflowID string, data map[string]any, triggeredBy TriggeredBy) (InvokeRequest, error) {
	if triggeredBy != "" && triggeredBy != TriggeredByManual {
		return InvokeRequest{}, NewBadRequestError(fmt.Sprintf("triggered_by %q cannot be set through the management API", triggeredBy))
	}
	return InvokeRequest{
		WorkflowID:  workflowID,
		TriggerData: data,
		TriggeredBy: TriggeredByManual,
		TenantID:    rc.TenantID,
	}, nil
}

type contextKey struct{}

// WithRequestContext attaches rc to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// RequestContextFrom returns the RequestContext on ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}

// TenantFrom returns the authorized tenant of the request on ctx.
func TenantFrom(ctx context.Context) (*RequestContext, error) {
	rc := RequestContextFrom(ctx)
	if err := rc.Authorize(); err != nil {
		return nil, err
	}
	return rc, nil
}
