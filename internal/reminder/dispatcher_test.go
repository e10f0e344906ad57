package reminder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

var start = time.Date(2026, time.October, 16, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	got []calendar.DueReminder
}

func (r *recorder) Notify(_ context.Context, due calendar.DueReminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, due)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, d := range r.got {
		out = append(out, d.Event.ID)
	}
	return out
}

// newFixture returns a calendar with three events whose reminders fall at
// 07:00, 08:10, 08:20 (system) and 08:20 (email) on 2026-10-16.
func newFixture(t *testing.T) *calendar.Guarded {
	t.Helper()
	cal := calendar.New(
		calendar.WithClock(func() time.Time { return start }),
		calendar.WithLocation(time.UTC),
	)
	date := model.DateOf(start)
	mk := func(id string, h int, reminders ...model.Reminder) {
		require.NoError(t, cal.Restore(model.Event{
			ID:        id,
			Title:     id,
			Date:      date,
			Start:     model.MustTimeOfDay(h, 0),
			End:       model.MustTimeOfDay(h+1, 0),
			Reminders: reminders,
		}))
	}
	at := func(h, m int) time.Time { return time.Date(2026, time.October, 16, h, m, 0, 0, time.UTC) }
	mk("early", 7, model.NewReminder(at(7, 0), model.ReminderSystem))
	mk("review", 9,
		model.NewReminder(at(8, 20), model.ReminderEmail),
		model.NewReminder(at(8, 10), model.ReminderSystem),
	)
	mk("lunch", 12, model.NewReminder(at(8, 20), model.ReminderSystem))
	return calendar.NewGuarded(cal)
}

func TestRunOnceDeliversEachReminderOnce(t *testing.T) {
	email, system := &recorder{}, &recorder{}
	d := New(newFixture(t),
		WithClock(func() time.Time { return start }),
		WithNotifier(model.ReminderEmail, email),
		WithNotifier(model.ReminderSystem, system),
	)

	sent, err := d.RunOnce(start.Add(15 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"review"}, system.ids())
	assert.Equal(t, 1, system.got[0].Index)

	sent, err = d.RunOnce(start.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"review"}, email.ids())
	assert.Equal(t, []string{"review", "lunch"}, system.ids())

	// Same tick again, and a tick from the past.
	sent, err = d.RunOnce(start.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Zero(t, sent)
	sent, err = d.RunOnce(start)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, system.ids(), 2)
}

func TestRunOnceDoesNotReplayPastReminders(t *testing.T) {
	system := &recorder{}
	d := New(newFixture(t),
		WithClock(func() time.Time { return start }),
		WithNotifier(model.ReminderSystem, system),
	)
	_, err := d.RunOnce(start.Add(5 * time.Minute))
	require.NoError(t, err)
	assert.Empty(t, system.ids(), "the 07:00 reminder fell due before the dispatcher existed")
}

func TestRunOnceSkipsKindsWithoutNotifier(t *testing.T) {
	system := &recorder{}
	d := New(newFixture(t),
		WithClock(func() time.Time { return start }),
		WithNotifier(model.ReminderSystem, system),
	)
	sent, err := d.RunOnce(start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"review", "lunch"}, system.ids())
}

func TestRunOnceCollectsNotifierErrors(t *testing.T) {
	boom := errors.New("smtp down")
	var attempts []string
	email := NotifierFunc(func(_ context.Context, due calendar.DueReminder) error {
		attempts = append(attempts, due.Event.ID)
		return boom
	})
	system := &recorder{}
	d := New(newFixture(t),
		WithClock(func() time.Time { return start }),
		WithNotifier(model.ReminderEmail, email),
		WithNotifier(model.ReminderSystem, system),
	)
	sent, err := d.RunOnce(start.Add(time.Hour))
	assert.Equal(t, 2, sent)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "event review reminder 0")
	assert.Equal(t, []string{"review"}, attempts)
}

func TestRunOnceSeesLaterChanges(t *testing.T) {
	g := newFixture(t)
	system := &recorder{}
	d := New(g,
		WithClock(func() time.Time { return start }),
		WithNotifier(model.ReminderSystem, system),
	)
	require.NoError(t, g.Do(func(c *calendar.Calendar) error {
		if err := c.DeleteEvent("lunch"); err != nil {
			return err
		}
		return c.AddReminder("early", start.Add(2*time.Minute), model.ReminderSystem)
	}))

	sent, err := d.RunOnce(start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"early", "review"}, system.ids())
}

func TestDefaultNotifiersLog(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	d := New(newFixture(t), WithClock(func() time.Time { return start }))
	sent, err := d.RunOnce(start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Contains(t, buf.String(), "reminder due")
	assert.Contains(t, buf.String(), "event=lunch")
}

func TestLogNotifierRecipient(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	due := calendar.DueReminder{
		Event:    model.Event{ID: "ev-1", Title: "Dentist", Date: model.DateOf(start), Start: model.MustTimeOfDay(9, 0)},
		Reminder: model.NewReminder(start, model.ReminderEmail),
	}
	require.NoError(t, LogNotifier{Recipient: "me@example.com"}.Notify(context.Background(), due))
	out := buf.String()
	assert.Contains(t, out, "title=Dentist")
	assert.Contains(t, out, "kind=email")
	assert.Contains(t, out, "to=me@example.com")
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("* * * * *"))
	assert.NoError(t, ValidateSchedule("*/5 8-18 * * 1-5"))
	assert.Error(t, ValidateSchedule("* * * * * *"))
	assert.Error(t, ValidateSchedule("every minute"))
}

func TestStartStop(t *testing.T) {
	d := New(newFixture(t), WithSchedule("bogus"))
	assert.Error(t, d.Start(context.Background()))

	d = New(newFixture(t))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
	d.Stop()
}
