package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

func newTestSet() *Set {
	return NewSet(
		NewAPICallExecutor(config.APICallConfig{}, nil, nil),
		NewNotificationExecutor(nil, nil, nil),
		NewDatabaseOperationExecutor(store.NewMemoryStore(), nil),
		NewDelayExecutor(time.Second),
		nil,
	)
}

func TestSet_Dispatch_missingRequiredKey(t *testing.T) {
	out := newTestSet().Dispatch(context.Background(), model.Step{
		ID: "s1", Type: model.StepTypeAPICall, Config: model.APICallConfig{},
	}, model.StepContext{})
	if out.Success {
		t.Fatal("api_call without url should fail")
	}
	if !strings.Contains(out.Error, "config.url") {
		t.Errorf("error = %q, want it to name config.url", out.Error)
	}
}

func TestSet_Dispatch_nilConfigIsValidated(t *testing.T) {
	out := newTestSet().Dispatch(context.Background(), model.Step{ID: "s1", Type: model.StepTypeDelay}, model.StepContext{})
	if out.Success || !strings.Contains(out.Error, "config.duration_ms") {
		t.Errorf("output = %+v, want duration_ms required failure", out)
	}
}

func TestSet_Dispatch_unknownTypeWarns(t *testing.T) {
	step := model.Step{
		ID: "s1", Type: "send_fax",
		Config: model.DecodeStepConfig("send_fax", []byte(`{"number":"123"}`)),
	}
	out := newTestSet().Dispatch(context.Background(), step, model.StepContext{})
	if !out.Success {
		t.Fatalf("unknown step type should succeed, got %q", out.Error)
	}
	if out.Data["warning"] != "Unknown step type: send_fax" {
		t.Errorf("warning = %v", out.Data["warning"])
	}
}

func TestSet_Dispatch_invalidConfig(t *testing.T) {
	step := model.Step{
		ID: "s1", Type: model.StepTypeDelay,
		Config: model.DecodeStepConfig(model.StepTypeDelay, []byte(`{"duration_ms":"soon"}`)),
	}
	out := newTestSet().Dispatch(context.Background(), step, model.StepContext{})
	if out.Success {
		t.Fatal("undecodable config should fail the step")
	}
}

func TestSet_Dispatch_routesByConfig(t *testing.T) {
	set := newTestSet()
	sc := model.StepContext{TriggerData: map[string]any{"status": "active"}}

	out := set.Dispatch(context.Background(), model.Step{
		ID: "s1", Type: model.StepTypeCondition,
		Config: model.ConditionConfig{Field: "status", Operator: model.OpEquals, Value: "active"},
	}, sc)
	if !out.Success || out.Data["condition_met"] != true {
		t.Errorf("condition output = %+v", out)
	}

	d := int64(1)
	out = set.Dispatch(context.Background(), model.Step{
		ID: "s2", Type: model.StepTypeDelay, Config: model.DelayConfig{DurationMs: &d},
	}, sc)
	if !out.Success {
		t.Errorf("delay output = %+v", out)
	}
}
