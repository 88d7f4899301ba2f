package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/opsdeck/flowengine/model"
)

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestNotificationExecutor_recordsIntent(t *testing.T) {
	rec := &recordingNotifier{}
	e := NewNotificationExecutor(rec, nil, nil)

	out := e.Execute(context.Background(), model.NotificationConfig{
		Recipients: []string{"ops@example.com"},
		Subject:    "Ticket opened",
	}, model.StepContext{ExecutionID: "exec-1", WorkflowID: "wf-1", TenantID: "t1", StepID: "s3"})

	if !out.Success {
		t.Fatalf("notification failed: %s", out.Error)
	}
	if len(rec.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(rec.got))
	}
	n := rec.got[0]
	if n.Channel != DefaultNotificationChannel || n.TenantID != "t1" || n.Subject != "Ticket opened" {
		t.Errorf("notification = %+v", n)
	}
	if out.Data["notification_sent"] != true {
		t.Errorf("notification_sent = %v", out.Data["notification_sent"])
	}
}

func TestNotificationExecutor_notifierErrorStillSucceeds(t *testing.T) {
	e := NewNotificationExecutor(&recordingNotifier{err: errors.New("bus closed")}, nil, nil)

	out := e.Execute(context.Background(), model.NotificationConfig{Channel: "sms"}, model.StepContext{})
	if !out.Success {
		t.Fatal("notification step should succeed even when hand-off fails")
	}
	if out.Data["delivery_error"] != "bus closed" || out.Data["notification_sent"] != false {
		t.Errorf("data = %v", out.Data)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), Notification{Channel: "email"}); err != nil {
		t.Errorf("Notify() = %v", err)
	}
}
