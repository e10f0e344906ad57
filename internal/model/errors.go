package model

import "errors"

// Failure kinds reported by the calendar core. They are caller-input problems;
// none of them is worth retrying.
var (
	ErrInvalidDate      = errors.New("event date is before today")
	ErrEventNotFound    = errors.New("event not found")
	ErrReminderNotFound = errors.New("reminder not found")
	ErrSlotNotAvailable = errors.New("slot not available")

	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrDuplicateEvent   = errors.New("event id already exists")

	ErrInvalidReminderKind = errors.New("invalid reminder kind")
)
