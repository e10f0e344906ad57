package model

import (
	"fmt"
	"time"
)

// Event is a single scheduled block on one date. Its range [Start, End) is
// half-open and never crosses midnight.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        Date      `json:"date"`
	Start       TimeOfDay `json:"start"`
	End         TimeOfDay `json:"end"`

	// Reminders are kept in insertion order.
	Reminders []Reminder `json:"reminders"`
}

// Validate checks the time range invariant 0 <= Start < End <= 24:00.
func (e *Event) Validate() error {
	if !e.Start.Valid() || !e.End.Valid() || e.Start >= e.End {
		return ErrInvalidTimeRange
	}
	return nil
}

func (e *Event) AddReminder(at time.Time, kind ReminderKind) {
	e.Reminders = append(e.Reminders, NewReminder(at, kind))
}

// DeleteReminder removes the reminder at index, keeping the order of the rest.
func (e *Event) DeleteReminder(index int) error {
	if index < 0 || index >= len(e.Reminders) {
		return ErrReminderNotFound
	}
	e.Reminders = append(e.Reminders[:index], e.Reminders[index+1:]...)
	return nil
}

// StartTime and EndTime place the event on the time line of loc.
func (e *Event) StartTime(loc *time.Location) time.Time { return e.Date.At(e.Start, loc) }
func (e *Event) EndTime(loc *time.Location) time.Time   { return e.Date.At(e.End, loc) }

// Clone returns a deep copy; the reminder slice is not shared.
func (e *Event) Clone() Event {
	c := *e
	if e.Reminders != nil {
		c.Reminders = make([]Reminder, len(e.Reminders))
		copy(c.Reminders, e.Reminders)
	}
	return c
}

func (e *Event) String() string {
	return fmt.Sprintf("ID: %s\nEvent title: %s\nDescription: %s\nTime: %s - %s",
		e.ID, e.Title, e.Description, e.Start, e.End)
}
