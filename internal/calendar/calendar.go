package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"daycal/internal/model"
)

// ErrMissingID is returned by Restore for an event without an id.
var ErrMissingID = errors.New("event id is empty")

// IDGenerator produces a globally unique event id on each call.
type IDGenerator func() string

// Option configures a Calendar.
type Option func(*Calendar)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Calendar) { c.newID = gen }
}

// WithClock sets the source of "now" used to reject past dates.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) { c.now = now }
}

// WithLocation sets the location in which dates, times and reminders are
// interpreted. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// Calendar owns every event and every day grid and keeps the two consistent:
// each slot in an event's range holds the event's id, and each occupied slot
// belongs to a live event covering it.
//
// A Calendar is not safe for concurrent use; see Guarded.
type Calendar struct {
	events map[string]*model.Event
	days   map[model.Date]*Day

	newID IDGenerator
	now   func() time.Time
	loc   *time.Location
}

func New(opts ...Option) *Calendar {
	c := &Calendar{
		events: make(map[string]*model.Event),
		days:   make(map[model.Date]*Day),
		newID:  uuid.NewString,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Today is the current date in the calendar's location.
func (c *Calendar) Today() model.Date {
	return model.DateOf(c.now().In(c.loc))
}

// day returns the grid for date without registering a new one.
func (c *Calendar) day(date model.Date) (*Day, bool) {
	d, ok := c.days[date]
	if !ok {
		return NewDay(date), false
	}
	return d, true
}

func (c *Calendar) Len() int {
	return len(c.events)
}

// AddEvent schedules a new event. It fails with ErrInvalidDate for past
// dates and with ErrSlotNotAvailable if any slot of the range is taken.
func (c *Calendar) AddEvent(title, description string, date model.Date, start, end model.TimeOfDay) (model.Event, error) {
	if date.Before(c.Today()) {
		return model.Event{}, model.ErrInvalidDate
	}
	ev := &model.Event{
		ID:          c.newID(),
		Title:       title,
		Description: description,
		Date:        date,
		Start:       start,
		End:         end,
	}
	if err := c.insert(ev); err != nil {
		return model.Event{}, err
	}
	return ev.Clone(), nil
}

// Restore registers an event that already has an id, e.g. one loaded from
// storage. Past dates are allowed.
func (c *Calendar) Restore(ev model.Event) error {
	if ev.ID == "" {
		return ErrMissingID
	}
	if _, exists := c.events[ev.ID]; exists {
		return model.ErrDuplicateEvent
	}
	for _, r := range ev.Reminders {
		if !r.Kind.Valid() {
			return fmt.Errorf("%w %q", model.ErrInvalidReminderKind, r.Kind)
		}
	}
	cp := ev.Clone()
	return c.insert(&cp)
}

func (c *Calendar) insert(ev *model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	d, known := c.day(ev.Date)
	if err := d.AddEvent(ev.ID, ev.Start, ev.End); err != nil {
		return err
	}
	if !known {
		c.days[ev.Date] = d
	}
	c.events[ev.ID] = ev
	return nil
}

// Event returns a copy of the event with the given id.
func (c *Calendar) Event(id string) (model.Event, error) {
	ev, ok := c.events[id]
	if !ok {
		return model.Event{}, model.ErrEventNotFound
	}
	return ev.Clone(), nil
}

// Events returns copies of all events ordered by date, then start time.
func (c *Calendar) Events() []model.Event {
	out := make([]model.Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Clone())
	}
	sortEvents(out)
	return out
}

// AddReminder appends a reminder to the event. An empty kind means the
// default kind.
func (c *Calendar) AddReminder(eventID string, at time.Time, kind model.ReminderKind) error {
	ev, ok := c.events[eventID]
	if !ok {
		return model.ErrEventNotFound
	}
	if kind != "" && !kind.Valid() {
		return fmt.Errorf("%w %q", model.ErrInvalidReminderKind, kind)
	}
	ev.AddReminder(at, kind)
	return nil
}

func (c *Calendar) DeleteReminder(eventID string, index int) error {
	ev, ok := c.events[eventID]
	if !ok {
		return model.ErrEventNotFound
	}
	return ev.DeleteReminder(index)
}

// ListReminders returns the event's reminders in insertion order.
func (c *Calendar) ListReminders(eventID string) ([]model.Reminder, error) {
	ev, ok := c.events[eventID]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	out := make([]model.Reminder, len(ev.Reminders))
	copy(out, ev.Reminders)
	return out, nil
}

// FindAvailableSlots lists the free slots of date in order. A date without
// any event is entirely free.
func (c *Calendar) FindAvailableSlots(date model.Date) []model.TimeOfDay {
	d, ok := c.days[date]
	if !ok {
		return AllSlots()
	}
	return d.AvailableSlots()
}

// UpdateEvent replaces the event's fields and moves its reservation. A
// failed update leaves the event and every day exactly as they were.
func (c *Calendar) UpdateEvent(eventID, title, description string, date model.Date, start, end model.TimeOfDay) (model.Event, error) {
	ev, ok := c.events[eventID]
	if !ok {
		return model.Event{}, model.ErrEventNotFound
	}
	next := model.Event{Start: start, End: end}
	if err := next.Validate(); err != nil {
		return model.Event{}, err
	}

	if date == ev.Date {
		d, known := c.day(date)
		if err := d.UpdateEvent(eventID, start, end); err != nil {
			return model.Event{}, err
		}
		if !known {
			c.days[date] = d
		}
	} else {
		if date.Before(c.Today()) {
			return model.Event{}, model.ErrInvalidDate
		}
		to, known := c.day(date)
		if err := to.check("", start, end); err != nil {
			return model.Event{}, err
		}
		if from, ok := c.days[ev.Date]; ok {
			from.release(eventID)
		}
		to.reserve(eventID, start, end)
		if !known {
			c.days[date] = to
		}
	}

	ev.Title = title
	ev.Description = description
	ev.Date = date
	ev.Start = start
	ev.End = end
	return ev.Clone(), nil
}

// DeleteEvent drops the event and frees its slots.
func (c *Calendar) DeleteEvent(eventID string) error {
	ev, ok := c.events[eventID]
	if !ok {
		return model.ErrEventNotFound
	}
	if d, ok := c.days[ev.Date]; ok {
		d.release(eventID)
	}
	delete(c.events, eventID)
	return nil
}

// FindEvents groups the events dated within [from, to] by date, each group
// ordered by start time. Dates without events are absent from the result.
func (c *Calendar) FindEvents(from, to model.Date) map[model.Date][]model.Event {
	out := make(map[model.Date][]model.Event)
	if to.Before(from) {
		return out
	}
	for _, ev := range c.events {
		if ev.Date.Before(from) || ev.Date.After(to) {
			continue
		}
		out[ev.Date] = append(out[ev.Date], ev.Clone())
	}
	for _, evs := range out {
		sortEvents(evs)
	}
	return out
}

// DueReminder is a reminder that fell due, with a copy of its event.
type DueReminder struct {
	Event    model.Event
	Index    int
	Reminder model.Reminder
}

// DueReminders returns reminders with after < At <= upTo, ordered by time.
func (c *Calendar) DueReminders(after, upTo time.Time) []DueReminder {
	var out []DueReminder
	for _, ev := range c.events {
		for i, r := range ev.Reminders {
			if r.At.After(after) && !r.At.After(upTo) {
				out = append(out, DueReminder{Event: ev.Clone(), Index: i, Reminder: r})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Reminder.At.Equal(out[j].Reminder.At) {
			return out[i].Reminder.At.Before(out[j].Reminder.At)
		}
		if out[i].Event.ID != out[j].Event.ID {
			return out[i].Event.ID < out[j].Event.ID
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func sortEvents(evs []model.Event) {
	sort.Slice(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
}
