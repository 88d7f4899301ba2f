package executor

import (
	"context"

	"github.com/opsdeck/flowengine/internal/dotpath"
	"github.com/opsdeck/flowengine/model"
)

// DataTransformExecutor projects trigger data through a key → dot-path
// mapping. It never fails; paths that do not resolve yield null.
type DataTransformExecutor struct{}

// Execute builds the mapped object under "data".
func (DataTransformExecutor) Execute(_ context.Context, cfg model.DataTransformConfig, sc model.StepContext) model.StepOutput {
	out := make(map[string]any, len(cfg.Mapping))
	for key, path := range cfg.Mapping {
		out[key] = dotpath.Lookup(sc.TriggerData, path)
	}
	return model.Succeeded(map[string]any{"data": out})
}
