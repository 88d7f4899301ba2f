package executor

import (
	"context"
	"testing"

	"github.com/opsdeck/flowengine/model"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       model.ConditionOperator
		expected any
		want     bool
	}{
		{"equals strings", "active", model.OpEquals, "active", true},
		{"equals mismatch", "inactive", model.OpEquals, "active", false},
		{"equals number forms", float64(3), model.OpEquals, 3, true},
		{"equals numeric string", "3", model.OpEquals, float64(3), true},
		{"equals bool", true, model.OpEquals, "true", true},
		{"equals missing vs nil", nil, model.OpEquals, nil, true},
		{"equals missing vs null string", nil, model.OpEquals, "null", false},
		{"equals null string vs missing", "null", model.OpEquals, nil, false},
		{"not_equals missing vs null string", nil, model.OpNotEquals, "null", true},
		{"not_equals missing vs nil", nil, model.OpNotEquals, nil, false},
		{"not_equals", "a", model.OpNotEquals, "b", true},
		{"not_equals same", "a", model.OpNotEquals, "a", false},
		{"greater_than", float64(10), model.OpGreaterThan, 5, true},
		{"greater_than string number", "10.5", model.OpGreaterThan, "9", true},
		{"greater_than non numeric", "abc", model.OpGreaterThan, 1, false},
		{"less_than", float64(1), model.OpLessThan, 2, true},
		{"less_than equal", float64(2), model.OpLessThan, 2, false},
		{"contains substring", "active-user", model.OpContains, "active", true},
		{"contains missing", nil, model.OpContains, "x", false},
		{"contains array element", []any{"a", "b"}, model.OpContains, "b", true},
		{"contains array miss", []any{"a", "b"}, model.OpContains, "c", false},
		{"contains nil in string", "nullable", model.OpContains, nil, false},
		{"contains nil array element", []any{"a", nil}, model.OpContains, nil, true},
		{"unknown operator", "a", model.ConditionOperator("matches"), "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.actual, tt.op, tt.expected); got != tt.want {
				t.Errorf("Evaluate(%v, %s, %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
			}
		})
	}
}

func TestConditionExecutor_reportsWithoutFailing(t *testing.T) {
	sc := model.StepContext{TriggerData: map[string]any{
		"user": map[string]any{"status": "active-user"},
	}}

	out := ConditionExecutor{}.Execute(context.Background(), model.ConditionConfig{
		Field: "user.status", Operator: model.OpContains, Value: "active",
	}, sc)
	if !out.Success {
		t.Fatal("condition step should always succeed")
	}
	if out.Data["condition_met"] != true {
		t.Errorf("condition_met = %v, want true", out.Data["condition_met"])
	}

	out = ConditionExecutor{}.Execute(context.Background(), model.ConditionConfig{
		Field: "user.missing.deep", Operator: model.OpEquals, Value: "active",
	}, sc)
	if !out.Success || out.Data["condition_met"] != false {
		t.Errorf("missing field output = %+v, want success with condition_met=false", out)
	}
}

func TestIsNumericLiteral(t *testing.T) {
	for s, want := range map[string]bool{
		"42": true, "-3.5": true, "+1": true, ".5": true,
		"": false, "-": false, ".": false, "1.2.3": false, "12a": false,
	} {
		if got := isNumericLiteral(s); got != want {
			t.Errorf("isNumericLiteral(%q) = %v, want %v", s, got, want)
		}
	}
}
