// Package scheduler fires schedule triggers on their cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

// Invoker starts an execution.
type Invoker interface {
	Invoke(ctx context.Context, req model.InvokeRequest) (model.InvokeResult, error)
}

// NewParser returns the cron parser for the configured expression form.
// Descriptors such as @hourly and @every 5m are always accepted.
func NewParser(withSeconds bool) cron.Parser {
	fields := cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor
	if withSeconds {
		fields |= cron.Second
	}
	return cron.NewParser(fields)
}

// ValidateSchedule reports whether expr parses.
func ValidateSchedule(expr string, withSeconds bool) error {
	if _, err := NewParser(withSeconds).Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Scheduler owns one cron entry per enabled schedule trigger.
type Scheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	triggers store.TriggerStore
	invoker  Invoker
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
	resync   time.Duration

	mu       sync.Mutex
	entries  map[string]scheduledEntry
	running  bool
	resyncID cron.EntryID
}

type scheduledEntry struct {
	id   cron.EntryID
	expr string
}

// New creates a stopped scheduler.
func New(
	cfg config.SchedulerConfig,
	triggers store.TriggerStore,
	invoker Invoker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := NewParser(cfg.WithSeconds)
	cl := cronLogger{logger.Sugar().Named("cron")}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:   parser,
		triggers: triggers,
		invoker:  invoker,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		resync:   cfg.ResyncInterval,
		entries:  make(map[string]scheduledEntry),
	}
}

// Sync reconciles cron entries with the schedule triggers in the store.
// Disabled or deleted triggers are removed and changed expressions are
// re-registered. Triggers with invalid expressions are skipped and
// reported in the returned error.
func (s *Scheduler) Sync(ctx context.Context) error {
	triggers, err := s.triggers.ListTriggers(ctx, model.TriggerKindSchedule)
	if err != nil {
		return fmt.Errorf("list schedule triggers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(triggers))
	var errs []error
	for _, trg := range triggers {
		if !trg.Enabled {
			continue
		}
		wanted[trg.ID] = true
		if err := s.registerLocked(trg); err != nil {
			errs = append(errs, err)
			delete(wanted, trg.ID)
		}
	}
	for id, entry := range s.entries {
		if !wanted[id] {
			s.cron.Remove(entry.id)
			delete(s.entries, id)
			s.logger.Info("schedule removed", zap.String("trigger_id", id))
		}
	}

	s.metrics.SetScheduleJobs(len(s.entries))
	return errors.Join(errs...)
}

func (s *Scheduler) registerLocked(trg model.WorkflowTrigger) error {
	if existing, ok := s.entries[trg.ID]; ok {
		if existing.expr == trg.Schedule {
			return nil
		}
		s.cron.Remove(existing.id)
		delete(s.entries, trg.ID)
	}

	sched, err := s.parser.Parse(trg.Schedule)
	if err != nil {
		return fmt.Errorf("trigger %s: invalid cron expression %q: %w", trg.ID, trg.Schedule, err)
	}
	triggerID := trg.ID
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(triggerID) }))
	s.entries[trg.ID] = scheduledEntry{id: id, expr: trg.Schedule}

	s.logger.Info("schedule registered",
		zap.String("trigger_id", trg.ID),
		zap.String("workflow_id", trg.WorkflowID),
		zap.String("schedule", trg.Schedule),
	)
	return nil
}

// fire runs one scheduled invocation. The trigger is re-read so that a
// trigger disabled since the last Sync does not fire.
func (s *Scheduler) fire(triggerID string) {
	ctx := context.Background()
	logger := s.logger.With(zap.String("trigger_id", triggerID))

	trg, err := s.triggers.GetTrigger(ctx, triggerID)
	if err != nil {
		s.metrics.RecordScheduledRun("skipped")
		logger.Warn("scheduled trigger could not be loaded", zap.Error(err))
		return
	}
	if !trg.Enabled {
		s.metrics.RecordScheduledRun("skipped")
		return
	}

	firedAt := s.now()
	if err := s.triggers.TouchTrigger(ctx, trg.ID, firedAt); err != nil {
		logger.Warn("failed to record last_triggered_at", zap.Error(err))
	}

	res, err := s.invoker.Invoke(ctx, model.InvokeRequest{
		WorkflowID:  trg.WorkflowID,
		TriggeredBy: model.TriggeredBySchedule,
		TenantID:    trg.TenantID,
		TriggerData: map[string]any{
			"trigger_id":   trg.ID,
			"schedule":     trg.Schedule,
			"scheduled_at": firedAt.Format(time.RFC3339),
		},
	})
	switch {
	case err != nil:
		s.metrics.RecordScheduledRun("rejected")
		logger.Warn("scheduled invocation rejected", zap.Error(err))
	case !res.Success:
		s.metrics.RecordScheduledRun("failed")
	default:
		s.metrics.RecordScheduledRun("completed")
	}
}

// Fire runs triggerID's workflow immediately, outside its schedule.
func (s *Scheduler) Fire(triggerID string) { s.fire(triggerID) }

// Start begins running entries in the background. With a resync interval
// configured, triggers added, changed or disabled in the store are picked
// up on that interval. cron rounds intervals below a second up to one.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resync > 0 && s.resyncID == 0 {
		s.resyncID = s.cron.Schedule(cron.Every(s.resync), cron.FuncJob(s.resyncTriggers))
	}
	s.cron.Start()
	s.running = true
}

func (s *Scheduler) resyncTriggers() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("schedule resync incomplete", zap.Error(err))
	}
}

// Stop halts the scheduler and waits for running jobs to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the ids of the registered triggers.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

// HealthCheck fails when the scheduler is not running.
func (s *Scheduler) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("scheduler not running")
	}
	return nil
}

// cronLogger routes cron's logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
