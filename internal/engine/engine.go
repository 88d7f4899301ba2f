// Package engine runs workflows. An invocation passes pre-flight checks,
// inserts a running execution, runs each step in order until one fails, and
// finalizes the execution with the log of the steps that ran.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

const (
	defaultFinalizeTimeout = 5 * time.Second
	defaultPageSize        = 20
	maxPageSize            = 100
)

// Dispatcher runs a single step. It must report failure through the
// returned output; the engine still recovers panics.
type Dispatcher interface {
	Dispatch(ctx context.Context, step model.Step, sc model.StepContext) model.StepOutput
}

// Engine orchestrates executions.
type Engine struct {
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	steps      Dispatcher
	cfg        config.EngineConfig
	metrics    *observability.Metrics
	logger     *zap.Logger

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New creates an engine.
func New(
	workflows store.WorkflowStore,
	executions store.ExecutionStore,
	steps Dispatcher,
	cfg config.EngineConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	return &Engine{
		workflows:  workflows,
		executions: executions,
		steps:      steps,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}
}

// Invoke runs one execution of req.WorkflowID to completion.
//
// Pre-flight failures (bad request, missing or inactive workflow) are
// returned as errors and leave no execution behind. Once the execution row
// exists the result is always returned, with Success reporting whether
// every step succeeded. An error alongside a result means the terminal
// state could not be persisted.
func (e *Engine) Invoke(ctx context.Context, req model.InvokeRequest) (model.InvokeResult, error) {
	if !e.begin() {
		return model.InvokeResult{}, model.NewUnavailableError("engine is shutting down")
	}
	defer e.inflight.Done()

	wf, err := e.preflight(ctx, req)
	if err != nil {
		return model.InvokeResult{}, err
	}

	triggerData := req.TriggerData
	if triggerData == nil {
		triggerData = map[string]any{}
	}

	exec := model.Execution{
		ID:           e.newID(),
		WorkflowID:   wf.ID,
		TenantID:     wf.TenantID,
		TriggeredBy:  req.TriggeredBy,
		TriggerData:  triggerData,
		Status:       model.ExecutionRunning,
		StartedAt:    e.now(),
		ExecutionLog: []model.StepResult{},
	}

	ctx, span := observability.StartExecutionSpan(ctx, exec)
	logger := observability.ExecutionLogger(ctx, e.logger, exec)

	if err := e.executions.CreateExecution(ctx, exec); err != nil {
		err = fmt.Errorf("create execution: %w", err)
		observability.EndSpanWithError(span, err)
		return model.InvokeResult{}, err
	}
	e.metrics.RecordExecutionStart(wf.ID, string(req.TriggeredBy))
	logger.Info("execution started", zap.Int("steps", len(wf.Steps)))
	if ce := logger.Check(zap.DebugLevel, "trigger data"); ce != nil {
		ce.Write(zap.Any("trigger_data", observability.RedactTriggerData(exec.TriggerData)))
	}

	log, failure := e.runSteps(ctx, wf, exec, logger)

	exec.ExecutionLog = log.Entries()
	completedAt := e.now()
	exec.CompletedAt = &completedAt
	exec.Status = model.ExecutionCompleted
	if failure != "" {
		exec.Status = model.ExecutionFailed
		exec.ErrorMessage = failure
	}

	result := model.InvokeResult{
		Success:      failure == "",
		ExecutionID:  exec.ID,
		ExecutionLog: exec.ExecutionLog,
		Error:        failure,
	}

	finalizeErr := e.finalize(ctx, exec)
	duration := completedAt.Sub(exec.StartedAt)
	e.metrics.RecordExecutionFinish(wf.ID, string(exec.Status), duration)

	if finalizeErr != nil {
		logger.Error("finalize execution failed", zap.Error(finalizeErr))
		observability.EndExecutionSpan(span, exec, finalizeErr)
		return result, finalizeErr
	}

	if failure != "" {
		logger.Warn("execution failed",
			zap.String("error", failure),
			zap.Int("steps_run", len(exec.ExecutionLog)),
			zap.Duration("duration", duration),
		)
	} else {
		logger.Info("execution completed",
			zap.Int("steps_run", len(exec.ExecutionLog)),
			zap.Duration("duration", duration),
		)
	}
	observability.EndExecutionSpan(span, exec, nil)
	return result, nil
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Drain stops accepting invocations and waits for running ones to be
// finalized, or for ctx to end. Stores must stay open until it returns.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain executions: %w", ctx.Err())
	}
}

func (e *Engine) preflight(ctx context.Context, req model.InvokeRequest) (*model.Workflow, error) {
	if req.WorkflowID == "" {
		e.metrics.RecordPreflightReject("bad_request")
		return nil, model.NewBadRequestError("workflow_id is required")
	}
	if !req.TriggeredBy.Valid() {
		e.metrics.RecordPreflightReject("bad_request")
		return nil, model.NewBadRequestError(fmt.Sprintf("unsupported triggered_by %q", req.TriggeredBy))
	}

	wf, err := e.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		if model.HasCode(err, model.ErrWorkflowNotFound) {
			e.metrics.RecordPreflightReject("workflow_not_found")
			return nil, err
		}
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	// A workflow of another tenant is reported as missing.
	if req.TenantID != "" && req.TenantID != wf.TenantID {
		e.metrics.RecordPreflightReject("workflow_not_found")
		return nil, model.NewWorkflowNotFoundError(req.WorkflowID)
	}
	if !wf.IsActive {
		e.metrics.RecordPreflightReject("workflow_not_active")
		return nil, model.NewWorkflowNotActiveError(req.WorkflowID)
	}
	return wf, nil
}

// runSteps executes the workflow's steps in order and returns the log and,
// when a step failed, the execution error message.
func (e *Engine) runSteps(ctx context.Context, wf *model.Workflow, exec model.Execution, logger *zap.Logger) (*model.ExecutionLog, string) {
	log := model.NewExecutionLog(len(wf.Steps))

	// The run continues if the caller goes away; only the execution
	// deadline stops it.
	runCtx := context.WithoutCancel(ctx)
	if e.cfg.ExecutionDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, e.cfg.ExecutionDeadline)
		defer cancel()
	}

	for i, step := range wf.Steps {
		sc := model.StepContext{
			ExecutionID: exec.ID,
			WorkflowID:  wf.ID,
			TenantID:    wf.TenantID,
			StepID:      step.ID,
			StepName:    step.Name,
			TriggerData: exec.TriggerData,
		}

		started := e.now()
		out := e.runStep(runCtx, i, step, sc, logger)
		duration := e.now().Sub(started)

		log.Append(model.StepResult{
			StepID:     step.ID,
			StepName:   step.Name,
			StepType:   step.Type,
			DurationMs: duration.Milliseconds(),
			Result:     out.Result(),
			Timestamp:  started,
		})

		if !out.Success {
			return log, fmt.Sprintf("Step %s failed: %s", stepLabel(step), out.Error)
		}
	}
	return log, ""
}

// runStep dispatches one step under its timeout. The executor runs on its
// own goroutine so that one ignoring its context cannot hold the execution
// past the deadline.
func (e *Engine) runStep(ctx context.Context, index int, step model.Step, sc model.StepContext, logger *zap.Logger) model.StepOutput {
	ctx, span := observability.StartStepSpan(ctx, step, index)

	timeout := e.stepTimeout(step)
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	done := make(chan model.StepOutput, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("step panicked",
					zap.String("step_id", step.ID),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				done <- model.Failed(fmt.Sprintf("step panicked: %v", r))
			}
		}()
		done <- e.steps.Dispatch(stepCtx, step, sc)
	}()

	var out model.StepOutput
	timedOut := false
	select {
	case out = <-done:
		timedOut = !out.Success && stepCtx.Err() != nil
	case <-stepCtx.Done():
		timedOut = true
	}

	outcome := "success"
	switch {
	case timedOut:
		outcome = "timeout"
		out = model.Failed(timeoutMessage(ctx, timeout))
		e.metrics.RecordStepTimeout(string(step.Type))
	case !out.Success:
		outcome = "failure"
	}
	e.metrics.RecordStep(string(step.Type), outcome, time.Since(start))

	if out.Success {
		logger.Debug("step completed",
			zap.String("step_id", step.ID),
			zap.String("step_type", string(step.Type)),
		)
	} else {
		logger.Warn("step failed",
			zap.String("step_id", step.ID),
			zap.String("step_type", string(step.Type)),
			zap.String("error", out.Error),
		)
	}
	observability.EndStepSpan(span, out)
	return out
}

func (e *Engine) stepTimeout(step model.Step) time.Duration {
	if step.TimeoutMs > 0 {
		return time.Duration(step.TimeoutMs) * time.Millisecond
	}
	return e.cfg.StepTimeout
}

// timeoutMessage distinguishes the step's own timeout from the execution
// deadline expiring underneath it.
func timeoutMessage(execCtx context.Context, timeout time.Duration) string {
	if execCtx.Err() != nil {
		return "execution deadline exceeded"
	}
	return fmt.Sprintf("step timed out after %s", timeout)
}

// finalize persists the terminal state on a context that outlives both the
// caller and the execution deadline.
func (e *Engine) finalize(ctx context.Context, exec model.Execution) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FinalizeTimeout)
	defer cancel()
	if err := e.executions.FinalizeExecution(fctx, exec); err != nil {
		return fmt.Errorf("finalize execution %s: %w", exec.ID, err)
	}
	return nil
}

func stepLabel(step model.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.ID
}

// GetExecution returns one execution visible to tenantID.
func (e *Engine) GetExecution(ctx context.Context, tenantID, id string) (*model.Execution, error) {
	return e.executions.GetExecution(ctx, tenantID, id)
}

// ListExecutions returns one page of tenantID's executions, newest first.
func (e *Engine) ListExecutions(ctx context.Context, tenantID string, filters model.ExecutionFilters, page model.Pagination) (model.ExecutionPage, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return model.ExecutionPage{}, model.NewBadRequestError(fmt.Sprintf("unknown status %q", filters.Status))
	}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize <= 0 {
		page.PageSize = defaultPageSize
	}
	if page.PageSize > maxPageSize {
		page.PageSize = maxPageSize
	}
	filters.Limit = page.PageSize
	filters.Offset = page.Offset()

	items, err := e.executions.ListExecutions(ctx, tenantID, filters)
	if err != nil {
		return model.ExecutionPage{}, fmt.Errorf("list executions: %w", err)
	}
	if items == nil {
		items = []model.Execution{}
	}
	return model.ExecutionPage{Items: items, Page: page.Page, PageSize: page.PageSize}, nil
}
