package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/opsdeck/flowengine/model"
)

// DelayExecutor suspends the calling execution for the configured time.
// Waits longer than maxWait are cut to maxWait.
type DelayExecutor struct {
	maxWait time.Duration
}

// NewDelayExecutor creates the executor. A non-positive maxWait disables the cap.
func NewDelayExecutor(maxWait time.Duration) *DelayExecutor {
	return &DelayExecutor{maxWait: maxWait}
}

// Execute waits, returning early with a failure if ctx ends first.
func (e *DelayExecutor) Execute(ctx context.Context, cfg model.DelayConfig, _ model.StepContext) model.StepOutput {
	d := time.Duration(*cfg.DurationMs) * time.Millisecond
	capped := false
	if e.maxWait > 0 && d > e.maxWait {
		d, capped = e.maxWait, true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return model.Failed(fmt.Sprintf("delay interrupted: %v", ctx.Err()))
	}

	data := map[string]any{"delayed_ms": d.Milliseconds()}
	if capped {
		data["capped"] = true
	}
	return model.Succeeded(data)
}
