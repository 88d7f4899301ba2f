// Package executor implements the six step types a workflow can run. Every
// executor reports failure through model.StepOutput rather than an error so
// that the orchestrator can record it in the execution log.
package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/model"
)

// Set holds one executor per known step type and dispatches steps to them.
type Set struct {
	APICall           *APICallExecutor
	DataTransform     *DataTransformExecutor
	Condition         *ConditionExecutor
	Notification      *NotificationExecutor
	DatabaseOperation *DatabaseOperationExecutor
	Delay             *DelayExecutor

	logger *zap.Logger
}

// NewSet assembles a dispatcher from its executors.
func NewSet(
	apiCall *APICallExecutor,
	notification *NotificationExecutor,
	database *DatabaseOperationExecutor,
	delay *DelayExecutor,
	logger *zap.Logger,
) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		APICall:           apiCall,
		DataTransform:     &DataTransformExecutor{},
		Condition:         &ConditionExecutor{},
		Notification:      notification,
		DatabaseOperation: database,
		Delay:             delay,
		logger:            logger,
	}
}

// Dispatch runs step with the executor for its config type. A config that
// fails validation fails only this step. An unrecognised step type
// succeeds with a warning.
func (s *Set) Dispatch(ctx context.Context, step model.Step, sc model.StepContext) model.StepOutput {
	if step.Config == nil {
		step.Config = model.DecodeStepConfig(step.Type, nil)
	}
	if errs := step.Config.Validate(); len(errs) > 0 {
		return model.Failed(describeFieldErrors(errs))
	}

	switch cfg := step.Config.(type) {
	case model.APICallConfig:
		return s.APICall.Execute(ctx, cfg, sc)
	case model.DataTransformConfig:
		return s.DataTransform.Execute(ctx, cfg, sc)
	case model.ConditionConfig:
		return s.Condition.Execute(ctx, cfg, sc)
	case model.NotificationConfig:
		return s.Notification.Execute(ctx, cfg, sc)
	case model.DatabaseOperationConfig:
		return s.DatabaseOperation.Execute(ctx, cfg, sc)
	case model.DelayConfig:
		return s.Delay.Execute(ctx, cfg, sc)
	case model.UnknownStepConfig:
		s.logger.Warn("unknown step type, skipping",
			zap.String("step_id", step.ID),
			zap.String("step_type", string(step.Type)),
		)
		return model.Succeeded(map[string]any{
			"warning": fmt.Sprintf("Unknown step type: %s", step.Type),
		})
	default:
		return model.Failed(fmt.Sprintf("unsupported step config %T", cfg))
	}
}

func describeFieldErrors(errs []model.FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Message
	}
	return "invalid step config: " + strings.Join(parts, "; ")
}
