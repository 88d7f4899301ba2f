package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

// Invoker starts an execution.
type Invoker interface {
	Invoke(ctx context.Context, req model.InvokeRequest) (model.InvokeResult, error)
}

// TriggerConsumer starts one execution per enabled event trigger matching
// each consumed event.
type TriggerConsumer struct {
	triggers store.TriggerStore
	invoker  Invoker
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewTriggerConsumer creates a consumer. Register it with Attach.
func NewTriggerConsumer(triggers store.TriggerStore, invoker Invoker, metrics *observability.Metrics, logger *zap.Logger) *TriggerConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerConsumer{triggers: triggers, invoker: invoker, metrics: metrics, logger: logger}
}

// Attach subscribes the consumer to the bus's event topic.
func (c *TriggerConsumer) Attach(b *Bus) {
	b.AddConsumer("event_triggers", b.cfg.Topic, c.Handle)
}

// Handle processes one message. It never returns an error: a message that
// cannot be processed is logged and acknowledged so it is not redelivered
// forever.
func (c *TriggerConsumer) Handle(msg *message.Message) error {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil || e.Type == "" {
		c.metrics.RecordEventConsumed("malformed")
		c.logger.Warn("dropping malformed event", zap.String("message_id", msg.UUID), zap.Error(err))
		return nil
	}
	ctx := msg.Context()
	logger := c.logger.With(zap.String("event_id", e.ID), zap.String("event_type", e.Type))

	triggers, err := c.triggers.ListTriggers(ctx, model.TriggerKindEvent)
	if err != nil {
		c.metrics.RecordEventConsumed("error")
		logger.Error("failed to list event triggers", zap.Error(err))
		return nil
	}

	matched := 0
	for _, trg := range triggers {
		if !matches(trg, e) {
			continue
		}
		matched++
		c.invoke(ctx, trg, e, logger)
	}
	if matched == 0 {
		c.metrics.RecordEventConsumed("unmatched")
		logger.Debug("no trigger for event")
	}
	return nil
}

func matches(trg model.WorkflowTrigger, e Event) bool {
	if !trg.Enabled || trg.EventType != e.Type {
		return false
	}
	// Tenant-scoped events only reach that tenant's triggers.
	return e.TenantID == "" || e.TenantID == trg.TenantID
}

func (c *TriggerConsumer) invoke(ctx context.Context, trg model.WorkflowTrigger, e Event, logger *zap.Logger) {
	at := e.OccurredAt.UTC()
	if e.OccurredAt.IsZero() {
		at = time.Now().UTC()
	}
	if err := c.triggers.TouchTrigger(ctx, trg.ID, at); err != nil {
		logger.Warn("failed to record last_triggered_at", zap.String("trigger_id", trg.ID), zap.Error(err))
	}

	res, err := c.invoker.Invoke(ctx, model.InvokeRequest{
		WorkflowID:  trg.WorkflowID,
		TriggerData: e.Data,
		TriggeredBy: model.TriggeredByEvent,
		TenantID:    trg.TenantID,
	})
	switch {
	case err != nil:
		c.metrics.RecordEventConsumed("rejected")
		logger.Warn("event invocation rejected", zap.String("trigger_id", trg.ID), zap.Error(err))
	case !res.Success:
		c.metrics.RecordEventConsumed("failed")
	default:
		c.metrics.RecordEventConsumed("completed")
	}
}
