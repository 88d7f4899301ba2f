package definition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/store"
)

// SeedStore is the part of the store seeding writes to.
type SeedStore interface {
	store.WorkflowStore
	store.TriggerStore
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Workflows int
	Triggers  int
}

// Seed upserts every workflow and then every trigger in reg into s.
// Definitions already in the store are replaced; a trigger's
// last_triggered_at survives the upsert.
func Seed(ctx context.Context, s SeedStore, reg *Registry, logger *zap.Logger) (SeedResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res SeedResult
	for _, wf := range reg.Workflows() {
		if err := s.SaveWorkflow(ctx, wf); err != nil {
			return res, fmt.Errorf("seed workflow %s: %w", wf.ID, err)
		}
		res.Workflows++
	}
	for _, trg := range reg.Triggers() {
		if err := s.SaveTrigger(ctx, trg); err != nil {
			return res, fmt.Errorf("seed trigger %s: %w", trg.ID, err)
		}
		res.Triggers++
	}
	logger.Info("definitions seeded",
		zap.Int("workflows", res.Workflows),
		zap.Int("triggers", res.Triggers),
		zap.String("checksum", reg.Checksum()),
	)
	return res, nil
}

// LoadAndValidate loads every definition file under directories and
// validates them as a set. Validation errors are returned separately from
// I/O and parse errors.
func LoadAndValidate(directories []string, cronWithSeconds bool) (*Registry, []VError, error) {
	files, err := NewLoader().LoadAll(directories)
	if err != nil {
		return nil, nil, err
	}
	if verrs := NewValidator(cronWithSeconds).Validate(files); len(verrs) > 0 {
		return nil, verrs, nil
	}
	return NewRegistry(files), nil, nil
}
