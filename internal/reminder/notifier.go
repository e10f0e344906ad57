package reminder

import (
	"context"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
)

// Notifier delivers a single due reminder.
type Notifier interface {
	Notify(ctx context.Context, due calendar.DueReminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, due calendar.DueReminder) error

func (f NotifierFunc) Notify(ctx context.Context, due calendar.DueReminder) error {
	return f(ctx, due)
}

// LogNotifier announces reminders as INFO log lines. Recipient, when set,
// is included so email reminders show who they are meant for.
type LogNotifier struct {
	Recipient string
}

func (n LogNotifier) Notify(_ context.Context, due calendar.DueReminder) error {
	kv := []any{
		"event", due.Event.ID,
		"title", due.Event.Title,
		"date", due.Event.Date,
		"start", due.Event.Start,
		"kind", due.Reminder.Kind,
		"at", due.Reminder.At.Format("2006-01-02 15:04:05"),
	}
	if n.Recipient != "" {
		kv = append(kv, "to", n.Recipient)
	}
	appLog.Info("reminder due", kv...)
	return nil
}
