package model

import (
	"fmt"
	"strings"
	"time"
)

// ReminderKind selects how a reminder is delivered.
type ReminderKind string

const (
	ReminderEmail  ReminderKind = "email"
	ReminderSystem ReminderKind = "system"

	DefaultReminderKind = ReminderEmail
)

func (k ReminderKind) Valid() bool {
	return k == ReminderEmail || k == ReminderSystem
}

// ParseReminderKind accepts the kind names case-insensitively; "" yields the default.
func ParseReminderKind(s string) (ReminderKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultReminderKind, nil
	}
	k := ReminderKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidReminderKind, s)
	}
	return k, nil
}

// Reminder is a point in time at which the owning event should be announced.
type Reminder struct {
	At   time.Time    `json:"at"`
	Kind ReminderKind `json:"kind"`
}

func NewReminder(at time.Time, kind ReminderKind) Reminder {
	if kind == "" {
		kind = DefaultReminderKind
	}
	return Reminder{At: at, Kind: kind}
}

func (r Reminder) String() string {
	return fmt.Sprintf("Reminder on %s of type %s", r.At.Format("2006-01-02 15:04:05"), r.Kind)
}
