package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepConfig is the type-specific configuration of a step. The set of
// implementations is closed; the engine dispatches on the concrete type.
type StepConfig interface {
	// Kind returns the step type this configuration belongs to.
	Kind() StepType
	// Validate reports missing or malformed keys. An empty result means the
	// configuration can be dispatched.
	Validate() []FieldError

	isStepConfig()
}

// ConditionOperator is a binary predicate supported by condition steps.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
)

// DBOperation is a write operation supported by database_operation steps.
type DBOperation string

const (
	DBInsert DBOperation = "insert"
	DBUpdate DBOperation = "update"
	DBDelete DBOperation = "delete"
)

// APICallConfig configures an api_call step.
type APICallConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// DataTransformConfig configures a data_transform step. Mapping keys are
// output keys; values are dot-paths into the trigger data.
type DataTransformConfig struct {
	Mapping map[string]string `json:"mapping"`
}

// ConditionConfig configures a condition step.
type ConditionConfig struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// NotificationConfig configures a notification step.
type NotificationConfig struct {
	Channel    string   `json:"channel,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// DatabaseOperationConfig configures a database_operation step.
type DatabaseOperationConfig struct {
	Table     string         `json:"table"`
	Operation DBOperation    `json:"operation"`
	Data      map[string]any `json:"data,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
}

// DelayConfig configures a delay step.
type DelayConfig struct {
	DurationMs *int64 `json:"duration_ms"`
}

// UnknownStepConfig holds the raw configuration of a step whose type this
// engine does not recognise.
type UnknownStepConfig struct {
	Type StepType       `json:"-"`
	Raw  map[string]any `json:"-"`
}

// InvalidStepConfig records a configuration that could not be decoded into
// its typed form. Dispatching it fails the step.
type InvalidStepConfig struct {
	Type   StepType `json:"-"`
	Reason string   `json:"-"`
}

func (APICallConfig) Kind() StepType           { return StepTypeAPICall }
func (DataTransformConfig) Kind() StepType     { return StepTypeDataTransform }
func (ConditionConfig) Kind() StepType         { return StepTypeCondition }
func (NotificationConfig) Kind() StepType      { return StepTypeNotification }
func (DatabaseOperationConfig) Kind() StepType { return StepTypeDatabaseOperation }
func (DelayConfig) Kind() StepType             { return StepTypeDelay }
func (c UnknownStepConfig) Kind() StepType     { return c.Type }
func (c InvalidStepConfig) Kind() StepType     { return c.Type }

func (APICallConfig) isStepConfig()           {}
func (DataTransformConfig) isStepConfig()     {}
func (ConditionConfig) isStepConfig()         {}
func (NotificationConfig) isStepConfig()      {}
func (DatabaseOperationConfig) isStepConfig() {}
func (DelayConfig) isStepConfig()             {}
func (UnknownStepConfig) isStepConfig()       {}
func (InvalidStepConfig) isStepConfig()       {}

// Validate checks that url is present and absolute, and that the method is a
// known HTTP verb.
func (c APICallConfig) Validate() []FieldError {
	var errs []FieldError
	if c.URL == "" {
		errs = append(errs, requiredField("config.url"))
	} else if u, err := url.Parse(c.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{Field: "config.url", Code: "INVALID", Message: "url must be absolute"})
	}
	switch strings.ToUpper(c.Method) {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
	default:
		errs = append(errs, FieldError{Field: "config.method", Code: "INVALID", Message: fmt.Sprintf("unsupported method %q", c.Method)})
	}
	return errs
}

func (c DataTransformConfig) Validate() []FieldError {
	if c.Mapping == nil {
		return []FieldError{requiredField("config.mapping")}
	}
	return nil
}

func (c ConditionConfig) Validate() []FieldError {
	var errs []FieldError
	if c.Field == "" {
		errs = append(errs, requiredField("config.field"))
	}
	switch c.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains:
	case "":
		errs = append(errs, requiredField("config.operator"))
	default:
		errs = append(errs, FieldError{Field: "config.operator", Code: "INVALID", Message: fmt.Sprintf("unsupported operator %q", c.Operator)})
	}
	return errs
}

// Validate always passes: every notification key has a default.
func (c NotificationConfig) Validate() []FieldError { return nil }

func (c DatabaseOperationConfig) Validate() []FieldError {
	var errs []FieldError
	if c.Table == "" {
		errs = append(errs, requiredField("config.table"))
	}
	switch c.Operation {
	case DBInsert:
		if len(c.Data) == 0 {
			errs = append(errs, requiredField("config.data"))
		}
	case DBUpdate:
		if len(c.Data) == 0 {
			errs = append(errs, requiredField("config.data"))
		}
		if len(c.Filters) == 0 {
			errs = append(errs, requiredField("config.filters"))
		}
	case DBDelete:
		if len(c.Filters) == 0 {
			errs = append(errs, requiredField("config.filters"))
		}
	case "":
		errs = append(errs, requiredField("config.operation"))
	default:
		errs = append(errs, FieldError{Field: "config.operation", Code: "INVALID", Message: fmt.Sprintf("unsupported operation %q", c.Operation)})
	}
	return errs
}

// MaxDelayMs bounds a delay step at seven days.
const MaxDelayMs int64 = 7 * 24 * 60 * 60 * 1000

func (c DelayConfig) Validate() []FieldError {
	if c.DurationMs == nil {
		return []FieldError{requiredField("config.duration_ms")}
	}
	if *c.DurationMs < 0 {
		return []FieldError{{Field: "config.duration_ms", Code: "INVALID", Message: "duration_ms must not be negative"}}
	}
	if *c.DurationMs > MaxDelayMs {
		return []FieldError{{Field: "config.duration_ms", Code: "INVALID", Message: fmt.Sprintf("duration_ms must not exceed %d", MaxDelayMs)}}
	}
	return nil
}

// Validate passes: unknown steps are skipped, not failed.
func (c UnknownStepConfig) Validate() []FieldError { return nil }

func (c InvalidStepConfig) Validate() []FieldError {
	return []FieldError{{Field: "config", Code: "INVALID", Message: c.Reason}}
}

func requiredField(field string) FieldError {
	return FieldError{Field: field, Code: "REQUIRED", Message: field + " is required"}
}

// DecodeStepConfig decodes raw JSON configuration into the typed config for
// t. It never fails: undecodable input yields an InvalidStepConfig and an
// unrecognised type yields an UnknownStepConfig.
func DecodeStepConfig(t StepType, raw json.RawMessage) StepConfig {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	var cfg StepConfig
	var err error
	switch t {
	case StepTypeAPICall:
		var c APICallConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case StepTypeDataTransform:
		var c DataTransformConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case StepTypeCondition:
		var c ConditionConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case StepTypeNotification:
		var c NotificationConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case StepTypeDatabaseOperation:
		var c DatabaseOperationConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case StepTypeDelay:
		var c DelayConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		return UnknownStepConfig{Type: t, Raw: m}
	}
	if err != nil {
		return InvalidStepConfig{Type: t, Reason: fmt.Sprintf("decode %s config: %v", t, err)}
	}
	return cfg
}

// stepWire is the serialized form of a Step.
type stepWire struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      StepType        `json:"type"`
	TimeoutMs int64           `json:"timeout_ms,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the step with its typed config under "config".
func (s Step) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	switch c := s.Config.(type) {
	case nil, InvalidStepConfig:
		raw = nil
	case UnknownStepConfig:
		b, err := json.Marshal(c.Raw)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(stepWire{
		ID:        s.ID,
		Name:      s.Name,
		Type:      s.Type,
		TimeoutMs: s.TimeoutMs,
		Config:    raw,
	})
}

// UnmarshalJSON decodes a step and its config into the typed union.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ID = w.ID
	s.Name = w.Name
	s.Type = w.Type
	s.TimeoutMs = w.TimeoutMs
	s.Config = DecodeStepConfig(w.Type, w.Config)
	return nil
}

// UnmarshalYAML decodes a step from a YAML definition file.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var w struct {
		ID        string         `yaml:"id"`
		Name      string         `yaml:"name"`
		Type      StepType       `yaml:"type"`
		TimeoutMs int64          `yaml:"timeout_ms"`
		Config    map[string]any `yaml:"config"`
	}
	if err := value.Decode(&w); err != nil {
		return err
	}
	raw, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("step %q: encode config: %w", w.ID, err)
	}
	s.ID = w.ID
	s.Name = w.Name
	s.Type = w.Type
	s.TimeoutMs = w.TimeoutMs
	s.Config = DecodeStepConfig(w.Type, raw)
	return nil
}
