package executor

import (
	"context"
	"testing"
	"time"

	"github.com/opsdeck/flowengine/model"
)

func ms(n int64) *int64 { return &n }

func TestDelayExecutor_waits(t *testing.T) {
	e := NewDelayExecutor(time.Minute)
	start := time.Now()
	out := e.Execute(context.Background(), model.DelayConfig{DurationMs: ms(30)}, model.StepContext{})
	if !out.Success {
		t.Fatalf("delay failed: %s", out.Error)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 30ms", elapsed)
	}
	if out.Data["delayed_ms"] != int64(30) {
		t.Errorf("delayed_ms = %v, want 30", out.Data["delayed_ms"])
	}
}

func TestDelayExecutor_zero(t *testing.T) {
	out := NewDelayExecutor(0).Execute(context.Background(), model.DelayConfig{DurationMs: ms(0)}, model.StepContext{})
	if !out.Success {
		t.Errorf("zero delay should succeed: %s", out.Error)
	}
}

func TestDelayExecutor_capped(t *testing.T) {
	out := NewDelayExecutor(10*time.Millisecond).Execute(context.Background(),
		model.DelayConfig{DurationMs: ms(60_000)}, model.StepContext{})
	if !out.Success {
		t.Fatalf("capped delay failed: %s", out.Error)
	}
	if out.Data["capped"] != true || out.Data["delayed_ms"] != int64(10) {
		t.Errorf("data = %v, want capped at 10ms", out.Data)
	}
}

func TestDelayExecutor_cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := NewDelayExecutor(0).Execute(ctx, model.DelayConfig{DurationMs: ms(10_000)}, model.StepContext{})
	if out.Success {
		t.Fatal("delay should fail when its context ends")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("delay did not return promptly after cancellation")
	}
}

func TestSet_rejectsOverflowingDelay(t *testing.T) {
	s := &Set{Delay: NewDelayExecutor(time.Minute)}
	step := model.Step{ID: "wait", Type: model.StepTypeDelay, Config: model.DelayConfig{DurationMs: ms(1 << 62)}}

	start := time.Now()
	out := s.Dispatch(context.Background(), step, model.StepContext{})
	if out.Success {
		t.Fatalf("overflowing delay succeeded with %v", out.Data)
	}
	if time.Since(start) > time.Second {
		t.Error("rejected delay should not wait")
	}
}
