package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsdeck/flowengine/internal/dotpath"
	"github.com/opsdeck/flowengine/model"
)

// ConditionExecutor evaluates a single predicate against trigger data. The
// outcome is reported as condition_met and does not change which steps run.
type ConditionExecutor struct{}

// Execute always succeeds.
func (ConditionExecutor) Execute(_ context.Context, cfg model.ConditionConfig, sc model.StepContext) model.StepOutput {
	actual, _ := dotpath.Resolve(sc.TriggerData, cfg.Field)
	return model.Succeeded(map[string]any{
		"condition_met": Evaluate(actual, cfg.Operator, cfg.Value),
		"field":         cfg.Field,
		"operator":      string(cfg.Operator),
	})
}

// Evaluate applies op to actual and expected. Numbers compare as float64,
// nil only equals nil, and everything else compares by its JSON string form.
func Evaluate(actual any, op model.ConditionOperator, expected any) bool {
	switch op {
	case model.OpEquals:
		return looseEqual(actual, expected)
	case model.OpNotEquals:
		return !looseEqual(actual, expected)
	case model.OpGreaterThan:
		a, aok := asNumber(actual)
		b, bok := asNumber(expected)
		return aok && bok && a > b
	case model.OpLessThan:
		a, aok := asNumber(actual)
		b, bok := asNumber(expected)
		return aok && bok && a < b
	case model.OpContains:
		if list, ok := actual.([]any); ok {
			for _, item := range list {
				if looseEqual(item, expected) {
					return true
				}
			}
			return false
		}
		if actual == nil || expected == nil {
			return false
		}
		return strings.Contains(stringForm(actual), stringForm(expected))
	}
	return false
}

// looseEqual treats a missing value as equal only to another missing value,
// never to the string "null".
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := numericValue(a); ok {
		if fb, ok := numericValue(b); ok {
			return fa == fb
		}
	}
	return stringForm(a) == stringForm(b)
}

// numericValue accepts only values that are numbers in JSON.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asNumber additionally parses numeric string literals such as "42" or
// "-3.5" so that ordering works on string-typed payload fields.
func asNumber(v any) (float64, bool) {
	if f, ok := numericValue(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok || !isNumericLiteral(strings.TrimSpace(s)) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// isNumericLiteral reports whether s is an optionally signed decimal.
func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
		if start >= len(s) {
			return false
		}
	}
	digits, hasDot := 0, false
	for i := start; i < len(s); i++ {
		switch {
		case s[i] == '.':
			if hasDot {
				return false
			}
			hasDot = true
		case s[i] >= '0' && s[i] <= '9':
			digits++
		default:
			return false
		}
	}
	return digits > 0
}

func stringForm(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if f, ok := numericValue(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
