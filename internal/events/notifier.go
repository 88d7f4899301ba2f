package events

import (
	"context"

	"github.com/opsdeck/flowengine/internal/executor"
)

// BusNotifier publishes notification intents on the notification topic
// for an external delivery service to pick up.
type BusNotifier struct {
	bus *Bus
}

// NewBusNotifier creates a notifier publishing on b.
func NewBusNotifier(b *Bus) *BusNotifier {
	return &BusNotifier{bus: b}
}

// Notify publishes n.
func (n *BusNotifier) Notify(_ context.Context, note executor.Notification) error {
	return n.bus.Publish(n.bus.cfg.NotificationTopic, "", note, map[string]string{
		"channel":      note.Channel,
		"tenant_id":    note.TenantID,
		"execution_id": note.ExecutionID,
	})
}
