package definition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

func TestSeed(t *testing.T) {
	t.Setenv("TEST_TICKET_HOOK_SECRET", "hook-secret")
	reg, verrs, err := LoadAndValidate([]string{"testdata/support"}, false)
	if err != nil || len(verrs) != 0 {
		t.Fatalf("LoadAndValidate() = %v, %v", verrs, err)
	}

	mem := store.NewMemoryStore()
	ctx := context.Background()
	touched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := Seed(ctx, mem, reg, nil)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if res.Workflows != 2 || res.Triggers != 3 {
		t.Errorf("result = %+v", res)
	}
	if err := mem.TouchTrigger(ctx, "trg-ticket-hook", touched); err != nil {
		t.Fatal(err)
	}

	// Re-seeding is an upsert that keeps trigger history.
	if _, err := Seed(ctx, mem, reg, nil); err != nil {
		t.Fatal(err)
	}
	wfs, err := mem.ListWorkflows(ctx, "acme")
	if err != nil || len(wfs) != 2 {
		t.Errorf("ListWorkflows = %d, %v", len(wfs), err)
	}
	trg, err := mem.GetTrigger(ctx, "trg-ticket-hook")
	if err != nil {
		t.Fatal(err)
	}
	if trg.WebhookSecret != "hook-secret" || trg.LastTriggeredAt == nil || !trg.LastTriggeredAt.Equal(touched) {
		t.Errorf("trigger after reseed = %+v", trg)
	}
}

func TestLoadAndValidate_reportsValidationErrors(t *testing.T) {
	reg, verrs, err := LoadAndValidate([]string{"testdata/broken"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if reg != nil || len(verrs) == 0 {
		t.Errorf("LoadAndValidate() = %v, %d errors", reg, len(verrs))
	}
}

type failingSeedStore struct {
	*store.MemoryStore
}

func (failingSeedStore) SaveTrigger(context.Context, model.WorkflowTrigger) error {
	return errors.New("disk full")
}

func TestSeed_storeError(t *testing.T) {
	reg := NewRegistry([]model.DefinitionFile{{
		TenantID:  "acme",
		Workflows: []model.Workflow{{ID: "wf", TenantID: "acme"}},
		Triggers:  []model.WorkflowTrigger{{ID: "trg", WorkflowID: "wf"}},
	}})
	res, err := Seed(context.Background(), failingSeedStore{store.NewMemoryStore()}, reg, nil)
	if err == nil || res.Workflows != 1 || res.Triggers != 0 {
		t.Errorf("Seed() = %+v, %v", res, err)
	}
}
