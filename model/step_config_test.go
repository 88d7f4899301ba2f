package model

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDecodeStepConfig_kinds(t *testing.T) {
	tests := []struct {
		stepType StepType
		raw      string
		want     StepType
	}{
		{StepTypeAPICall, `{"url":"https://example.com/hook","method":"POST"}`, StepTypeAPICall},
		{StepTypeDataTransform, `{"mapping":{"out":"a.b"}}`, StepTypeDataTransform},
		{StepTypeCondition, `{"field":"status","operator":"equals","value":"active"}`, StepTypeCondition},
		{StepTypeNotification, `{"channel":"slack","message":"hi"}`, StepTypeNotification},
		{StepTypeDatabaseOperation, `{"table":"tickets","operation":"insert","data":{"a":1}}`, StepTypeDatabaseOperation},
		{StepTypeDelay, `{"duration_ms":10}`, StepTypeDelay},
	}
	for _, tt := range tests {
		t.Run(string(tt.stepType), func(t *testing.T) {
			cfg := DecodeStepConfig(tt.stepType, json.RawMessage(tt.raw))
			if cfg.Kind() != tt.want {
				t.Errorf("Kind() = %q, want %q", cfg.Kind(), tt.want)
			}
			if errs := cfg.Validate(); len(errs) != 0 {
				t.Errorf("Validate() = %v, want none", errs)
			}
		})
	}
}

func TestDecodeStepConfig_unknownType(t *testing.T) {
	cfg := DecodeStepConfig("send_fax", json.RawMessage(`{"number":"123"}`))
	u, ok := cfg.(UnknownStepConfig)
	if !ok {
		t.Fatalf("config type = %T, want UnknownStepConfig", cfg)
	}
	if u.Raw["number"] != "123" {
		t.Errorf("Raw[number] = %v, want 123", u.Raw["number"])
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want none", errs)
	}
}

func TestDecodeStepConfig_malformed(t *testing.T) {
	cfg := DecodeStepConfig(StepTypeDelay, json.RawMessage(`{"duration_ms":"soon"}`))
	if _, ok := cfg.(InvalidStepConfig); !ok {
		t.Fatalf("config type = %T, want InvalidStepConfig", cfg)
	}
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Errorf("Validate() returned %d errors, want 1", len(errs))
	}
}

func TestStepConfig_requiredKeys(t *testing.T) {
	tests := []struct {
		name      string
		stepType  StepType
		raw       string
		wantField string
	}{
		{"api_call without url", StepTypeAPICall, `{}`, "config.url"},
		{"api_call relative url", StepTypeAPICall, `{"url":"/hooks"}`, "config.url"},
		{"api_call bad method", StepTypeAPICall, `{"url":"http://x.test","method":"BREW"}`, "config.method"},
		{"transform without mapping", StepTypeDataTransform, `{}`, "config.mapping"},
		{"condition without field", StepTypeCondition, `{"operator":"equals"}`, "config.field"},
		{"condition bad operator", StepTypeCondition, `{"field":"a","operator":"matches"}`, "config.operator"},
		{"db without table", StepTypeDatabaseOperation, `{"operation":"insert","data":{"a":1}}`, "config.table"},
		{"db update without filters", StepTypeDatabaseOperation, `{"table":"t","operation":"update","data":{"a":1}}`, "config.filters"},
		{"db delete without filters", StepTypeDatabaseOperation, `{"table":"t","operation":"delete"}`, "config.filters"},
		{"db bad operation", StepTypeDatabaseOperation, `{"table":"t","operation":"truncate"}`, "config.operation"},
		{"delay without duration", StepTypeDelay, `{}`, "config.duration_ms"},
		{"delay negative", StepTypeDelay, `{"duration_ms":-5}`, "config.duration_ms"},
		{"delay overflowing duration", StepTypeDelay, `{"duration_ms":9300000000000}`, "config.duration_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := DecodeStepConfig(tt.stepType, json.RawMessage(tt.raw)).Validate()
			if len(errs) == 0 {
				t.Fatal("Validate() returned no errors")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", errs, tt.wantField)
			}
		})
	}
}

func TestDelayConfig_zeroIsValid(t *testing.T) {
	cfg := DecodeStepConfig(StepTypeDelay, json.RawMessage(`{"duration_ms":0}`))
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want none", errs)
	}
}

func TestStep_JSONRoundTrip(t *testing.T) {
	in := `{"id":"s1","name":"Call","type":"api_call","timeout_ms":500,"config":{"url":"https://example.com","headers":{"X-A":"1"}}}`
	var s Step
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	cfg, ok := s.Config.(APICallConfig)
	if !ok {
		t.Fatalf("Config type = %T, want APICallConfig", s.Config)
	}
	if cfg.URL != "https://example.com" || cfg.Headers["X-A"] != "1" {
		t.Errorf("Config = %+v", cfg)
	}
	if s.TimeoutMs != 500 {
		t.Errorf("TimeoutMs = %d, want 500", s.TimeoutMs)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Step
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal again: %v", err)
	}
	if back.Config.(APICallConfig).URL != cfg.URL {
		t.Errorf("round-tripped URL = %q", back.Config.(APICallConfig).URL)
	}
}

func TestStep_UnmarshalYAML(t *testing.T) {
	src := `
id: wait
name: Wait a bit
type: delay
config:
  duration_ms: 250
`
	var s Step
	if err := yaml.Unmarshal([]byte(src), &s); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	cfg, ok := s.Config.(DelayConfig)
	if !ok {
		t.Fatalf("Config type = %T, want DelayConfig", s.Config)
	}
	if cfg.DurationMs == nil || *cfg.DurationMs != 250 {
		t.Errorf("DurationMs = %v, want 250", cfg.DurationMs)
	}
}
