package definition

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/opsdeck/flowengine/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	workflows map[string]model.Workflow
	triggers  map[string]model.WorkflowTrigger
	files     int
	checksum  string
}

// Registry holds the most recently loaded definitions. Reads are lock-free;
// Replace swaps in a new snapshot atomically.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given files.
func NewRegistry(files []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given files.
func (r *Registry) Replace(files []model.DefinitionFile) {
	s := &snapshot{
		workflows: make(map[string]model.Workflow),
		triggers:  make(map[string]model.WorkflowTrigger),
		files:     len(files),
	}

	checksumParts := make([]string, 0, len(files))
	for _, f := range files {
		checksumParts = append(checksumParts, f.Checksum)
		for _, w := range f.Workflows {
			s.workflows[w.ID] = w
		}
		for _, t := range f.Triggers {
			s.triggers[t.ID] = t
		}
	}

	slices.Sort(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Workflow returns the workflow with the given ID.
func (r *Registry) Workflow(id string) (model.Workflow, bool) {
	w, ok := r.current().workflows[id]
	return w, ok
}

// Trigger returns the trigger with the given ID.
func (r *Registry) Trigger(id string) (model.WorkflowTrigger, bool) {
	t, ok := r.current().triggers[id]
	return t, ok
}

// Workflows returns all workflows ordered by ID.
func (r *Registry) Workflows() []model.Workflow {
	s := r.current()
	out := make([]model.Workflow, 0, len(s.workflows))
	for _, id := range sortedIDs(s.workflows) {
		out = append(out, s.workflows[id])
	}
	return out
}

// Triggers returns all triggers ordered by ID.
func (r *Registry) Triggers() []model.WorkflowTrigger {
	s := r.current()
	out := make([]model.WorkflowTrigger, 0, len(s.triggers))
	for _, id := range sortedIDs(s.triggers) {
		out = append(out, s.triggers[id])
	}
	return out
}

// Loaded reports whether at least one definition file has been loaded.
func (r *Registry) Loaded() bool {
	return r.current().files > 0
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
