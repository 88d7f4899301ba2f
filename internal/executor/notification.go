package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/model"
)

// DefaultNotificationChannel is used when a step does not name one.
const DefaultNotificationChannel = "email"

// Notification is the intent recorded by a notification step. Delivery
// happens outside the engine.
type Notification struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	TenantID    string    `json:"tenant_id"`
	StepID      string    `json:"step_id"`
	Channel     string    `json:"channel"`
	Recipients  []string  `json:"recipients,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier hands a notification to whatever delivers it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier records notifications in the service log only.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify logs n.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification recorded",
		zap.String("execution_id", n.ExecutionID),
		zap.String("channel", n.Channel),
		zap.Int("recipients", len(n.Recipients)),
		zap.String("subject", n.Subject),
	)
	return nil
}

// NotificationExecutor records notification intent. It always succeeds; a
// notifier error is reported in the result but does not fail the step.
type NotificationExecutor struct {
	notifier Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationExecutor creates the executor. A nil notifier logs only.
func NewNotificationExecutor(notifier Notifier, metrics *observability.Metrics, logger *zap.Logger) *NotificationExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &NotificationExecutor{notifier: notifier, metrics: metrics, logger: logger, now: time.Now}
}

// Execute publishes the notification.
func (e *NotificationExecutor) Execute(ctx context.Context, cfg model.NotificationConfig, sc model.StepContext) model.StepOutput {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultNotificationChannel
	}
	n := Notification{
		ExecutionID: sc.ExecutionID,
		WorkflowID:  sc.WorkflowID,
		TenantID:    sc.TenantID,
		StepID:      sc.StepID,
		Channel:     channel,
		Recipients:  cfg.Recipients,
		Subject:     cfg.Subject,
		Message:     cfg.Message,
		CreatedAt:   e.now().UTC(),
	}

	data := map[string]any{
		"notification_sent": true,
		"channel":           channel,
		"recipients":        len(cfg.Recipients),
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification hand-off failed",
			zap.String("execution_id", sc.ExecutionID),
			zap.String("step_id", sc.StepID),
			zap.Error(err),
		)
		data["notification_sent"] = false
		data["delivery_error"] = err.Error()
	}
	e.metrics.RecordNotification(channel)
	return model.Succeeded(data)
}
