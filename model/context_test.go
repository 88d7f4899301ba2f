package model

import (
	"context"
	"testing"
)

func TestRequestContext_Authorize(t *testing.T) {
	tests := []struct {
		name string
		rc   *RequestContext
		code string
	}{
		{"scoped", &RequestContext{SubjectID: "u-1", TenantID: "acme"}, ""},
		{"service token without subject", &RequestContext{TenantID: "acme"}, ""},
		{"no tenant", &RequestContext{SubjectID: "u-1"}, ErrForbidden},
		{"never authenticated", nil, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Authorize()
			if tt.code == "" {
				if err != nil {
					t.Fatalf("Authorize() = %v, want nil", err)
				}
				return
			}
			if !HasCode(err, tt.code) {
				t.Errorf("Authorize() = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestRequestContext_InvokeRequest(t *testing.T) {
	rc := &RequestContext{SubjectID: "u-1", TenantID: "acme"}
	data := map[string]any{"ticket": 7}

	req, err := rc.InvokeRequest("wf-1", data, "")
	if err != nil {
		t.Fatalf("InvokeRequest() error = %v", err)
	}
	if req.WorkflowID != "wf-1" || req.TenantID != "acme" || req.TriggeredBy != TriggeredByManual {
		t.Errorf("request = %+v", req)
	}
	if req.TriggerData["ticket"] != 7 {
		t.Errorf("trigger data = %v", req.TriggerData)
	}

	if req, err := rc.InvokeRequest("wf-1", nil, TriggeredByManual); err != nil || req.TriggeredBy != TriggeredByManual {
		t.Errorf("manual = %+v, %v", req, err)
	}
}

func TestRequestContext_InvokeRequest_rejectsTriggerKinds(t *testing.T) {
	rc := &RequestContext{SubjectID: "u-1", TenantID: "acme"}
	for _, by := range []TriggeredBy{TriggeredByWebhook, TriggeredBySchedule, TriggeredByEvent, "cron"} {
		if _, err := rc.InvokeRequest("wf-1", nil, by); !HasCode(err, ErrBadRequest) {
			t.Errorf("InvokeRequest(%q) error = %v, want BAD_REQUEST", by, err)
		}
	}
}

func TestTenantFrom(t *testing.T) {
	if _, err := TenantFrom(context.Background()); !HasCode(err, ErrUnauthorized) {
		t.Errorf("empty context error = %v, want UNAUTHORIZED", err)
	}

	ctx := WithRequestContext(context.Background(), &RequestContext{SubjectID: "u-1"})
	if _, err := TenantFrom(ctx); !HasCode(err, ErrForbidden) {
		t.Errorf("tenantless error = %v, want FORBIDDEN", err)
	}

	want := &RequestContext{SubjectID: "u-1", TenantID: "acme"}
	rc, err := TenantFrom(WithRequestContext(context.Background(), want))
	if err != nil || rc != want {
		t.Errorf("TenantFrom() = %v, %v", rc, err)
	}
}
