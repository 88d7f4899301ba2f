package definition

import (
	"testing"

	"github.com/opsdeck/flowengine/model"
)

func registryFiles() []model.DefinitionFile {
	return []model.DefinitionFile{
		{
			TenantID:  "acme",
			Checksum:  "aaa",
			Workflows: []model.Workflow{
				{ID: "wf-b", TenantID: "acme"},
				{ID: "wf-a", TenantID: "acme"},
			},
			Triggers: []model.WorkflowTrigger{{ID: "trg-2", WorkflowID: "wf-a"}, {ID: "trg-1", WorkflowID: "wf-b"}},
		},
		{TenantID: "globex", Checksum: "bbb", Workflows: []model.Workflow{{ID: "wf-c", TenantID: "globex"}}},
	}
}

func TestRegistry_lookups(t *testing.T) {
	reg := NewRegistry(registryFiles())

	if !reg.Loaded() {
		t.Error("Loaded() = false")
	}
	if w, ok := reg.Workflow("wf-c"); !ok || w.TenantID != "globex" {
		t.Errorf("Workflow(wf-c) = %+v, %v", w, ok)
	}
	if _, ok := reg.Workflow("wf-z"); ok {
		t.Error("unknown workflow found")
	}
	if trg, ok := reg.Trigger("trg-1"); !ok || trg.WorkflowID != "wf-b" {
		t.Errorf("Trigger(trg-1) = %+v, %v", trg, ok)
	}

	wfs := reg.Workflows()
	if len(wfs) != 3 || wfs[0].ID != "wf-a" || wfs[2].ID != "wf-c" {
		t.Errorf("Workflows() order = %v", wfs)
	}
	trgs := reg.Triggers()
	if len(trgs) != 2 || trgs[0].ID != "trg-1" {
		t.Errorf("Triggers() order = %v", trgs)
	}
}

func TestRegistry_checksumIgnoresFileOrder(t *testing.T) {
	files := registryFiles()
	a := NewRegistry(files)
	b := NewRegistry([]model.DefinitionFile{files[1], files[0]})
	if a.Checksum() != b.Checksum() {
		t.Errorf("checksums differ: %s vs %s", a.Checksum(), b.Checksum())
	}

	files[0].Checksum = "changed"
	c := NewRegistry(files)
	if c.Checksum() == a.Checksum() {
		t.Error("checksum should change with file contents")
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry(nil)
	if reg.Loaded() {
		t.Error("empty registry reports loaded")
	}
	reg.Replace(registryFiles())
	if len(reg.Workflows()) != 3 {
		t.Errorf("after Replace: %d workflows", len(reg.Workflows()))
	}
	reg.Replace(registryFiles()[1:])
	if _, ok := reg.Workflow("wf-a"); ok {
		t.Error("replaced snapshot still holds wf-a")
	}
}
