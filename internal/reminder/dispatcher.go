package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// DefaultSchedule scans for due reminders once a minute.
const DefaultSchedule = "* * * * *"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether spec is a 5-field cron expression.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", spec, err)
	}
	return nil
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier routes reminders of kind to n, replacing any earlier notifier.
func WithNotifier(kind model.ReminderKind, n Notifier) Option {
	return func(d *Dispatcher) { d.notifiers[kind] = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSchedule sets the cron spec for Start. Empty keeps DefaultSchedule.
func WithSchedule(spec string) Option {
	return func(d *Dispatcher) {
		if spec != "" {
			d.schedule = spec
		}
	}
}

// Dispatcher delivers reminders as they fall due. Every tick covers the
// window (previous tick, now], so a reminder is delivered at most once per
// process. Reminders that fell due before the dispatcher was created are
// not replayed.
type Dispatcher struct {
	cal       *calendar.Guarded
	notifiers map[model.ReminderKind]Notifier
	schedule  string
	now       func() time.Time

	cron *cron.Cron

	mu       sync.Mutex
	ctx      context.Context
	lastTick time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Dispatcher over cal. Without WithNotifier options every
// kind is written to the log.
func New(cal *calendar.Guarded, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cal:       cal,
		notifiers: make(map[model.ReminderKind]Notifier),
		schedule:  DefaultSchedule,
		now:       time.Now,
		ctx:       context.Background(),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if len(d.notifiers) == 0 {
		d.notifiers[model.ReminderEmail] = LogNotifier{}
		d.notifiers[model.ReminderSystem] = LogNotifier{}
	}
	d.lastTick = d.now()
	d.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)
	return d
}

// Start registers the scan job and starts the cron runner. The dispatcher
// stops when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := ValidateSchedule(d.schedule); err != nil {
		return err
	}

	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	if _, err := d.cron.AddFunc(d.schedule, func() {
		if _, err := d.RunOnce(d.now()); err != nil {
			appLog.Error("reminder dispatch incomplete", err)
		}
	}); err != nil {
		return err
	}

	d.cron.Start()
	appLog.Info("reminder dispatcher started", "schedule", d.schedule, "kinds", len(d.notifiers))

	go func() {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.stopped:
		}
	}()
	return nil
}

// Stop halts the cron runner and waits for a running scan. Safe to call
// more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		<-d.cron.Stop().Done()
		close(d.stopped)
		appLog.Info("reminder dispatcher stopped")
	})
}

// Done is closed once Stop has finished.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stopped
}

// RunOnce delivers every reminder due in (previous tick, now] and returns
// how many were handed to a notifier successfully. A now that is not after
// the previous tick delivers nothing.
func (d *Dispatcher) RunOnce(now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !now.After(d.lastTick) {
		return 0, nil
	}
	after := d.lastTick
	d.lastTick = now

	var due []calendar.DueReminder
	_ = d.cal.Do(func(c *calendar.Calendar) error {
		due = c.DueReminders(after, now)
		return nil
	})
	if len(due) == 0 {
		return 0, nil
	}

	sent := 0
	var errs []error
	for _, r := range due {
		n, ok := d.notifiers[r.Reminder.Kind]
		if !ok {
			appLog.Warn("no notifier for reminder kind; skipped",
				"event", r.Event.ID, "index", r.Index, "kind", r.Reminder.Kind)
			continue
		}
		if err := n.Notify(d.ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("event %s reminder %d: %w", r.Event.ID, r.Index, err))
			continue
		}
		sent++
	}
	appLog.Debug("reminder scan done", "due", len(due), "sent", sent)
	return sent, errors.Join(errs...)
}

// cronLogger forwards robfig/cron's own messages to the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
