package calendar

import (
	"fmt"

	"daycal/internal/model"
)

const (
	// SlotMinutes is the length of one slot.
	SlotMinutes = 15
	// SlotsPerDay is the number of slots in the 24h grid.
	SlotsPerDay = 24 * 60 / SlotMinutes
)

// SlotConflictError reports the first slot, in chronological order, that
// blocks a reservation. It matches model.ErrSlotNotAvailable under errors.Is.
type SlotConflictError struct {
	Date   model.Date
	Slot   model.TimeOfDay
	HeldBy string
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot not available: %s %s is held by event %s", e.Date, e.Slot, e.HeldBy)
}

func (e *SlotConflictError) Is(target error) bool {
	return target == model.ErrSlotNotAvailable
}

// Day is the slot grid of one date. Each slot holds the id of the event
// occupying it, or "" when free.
type Day struct {
	date  model.Date
	slots [SlotsPerDay]string
}

func NewDay(date model.Date) *Day {
	d := &Day{date: date}
	d.initialize()
	return d
}

func (d *Day) initialize() {
	for i := range d.slots {
		d.slots[i] = ""
	}
}

func (d *Day) Date() model.Date {
	return d.date
}

// SlotIndex maps a time of day to its slot; it is hour*4 + minute/15.
func SlotIndex(t model.TimeOfDay) int {
	return t.Hour()*(60/SlotMinutes) + t.Minute()/SlotMinutes
}

// SlotTime is the start time of slot i.
func SlotTime(i int) model.TimeOfDay {
	return model.TimeOfDay(i * SlotMinutes)
}

// slotRange returns the indexes [first, last) of slots s with start <= s < end.
func slotRange(start, end model.TimeOfDay) (int, int) {
	first := (int(start) + SlotMinutes - 1) / SlotMinutes
	last := (int(end) + SlotMinutes - 1) / SlotMinutes
	if last > SlotsPerDay {
		last = SlotsPerDay
	}
	if first > last {
		first = last
	}
	return first, last
}

// Slot returns the id held by the slot containing t, or "".
func (d *Day) Slot(t model.TimeOfDay) string {
	i := SlotIndex(t)
	if i < 0 || i >= SlotsPerDay {
		return ""
	}
	return d.slots[i]
}

// check walks the range in order and reports the first slot held by an
// event other than ignore. Pass ignore "" to treat every occupied slot as a
// conflict.
func (d *Day) check(ignore string, start, end model.TimeOfDay) error {
	first, last := slotRange(start, end)
	for i := first; i < last; i++ {
		if held := d.slots[i]; held != "" && held != ignore {
			return &SlotConflictError{Date: d.date, Slot: SlotTime(i), HeldBy: held}
		}
	}
	return nil
}

func (d *Day) reserve(eventID string, start, end model.TimeOfDay) {
	first, last := slotRange(start, end)
	for i := first; i < last; i++ {
		d.slots[i] = eventID
	}
}

// release frees every slot held by eventID and returns how many there were.
func (d *Day) release(eventID string) int {
	n := 0
	for i, held := range d.slots {
		if held == eventID {
			d.slots[i] = ""
			n++
		}
	}
	return n
}

// AddEvent reserves [start, end) for eventID. Nothing is written unless the
// whole range is free.
func (d *Day) AddEvent(eventID string, start, end model.TimeOfDay) error {
	if err := d.check("", start, end); err != nil {
		return err
	}
	d.reserve(eventID, start, end)
	return nil
}

// DeleteEvent frees the slots held by eventID.
func (d *Day) DeleteEvent(eventID string) error {
	if d.release(eventID) == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// UpdateEvent moves eventID to [start, end). Slots it already holds do not
// count as conflicts. On error the day is left untouched.
func (d *Day) UpdateEvent(eventID string, start, end model.TimeOfDay) error {
	if err := d.check(eventID, start, end); err != nil {
		return err
	}
	d.release(eventID)
	d.reserve(eventID, start, end)
	return nil
}

// AvailableSlots lists the start time of every free slot in order.
func (d *Day) AvailableSlots() []model.TimeOfDay {
	out := make([]model.TimeOfDay, 0, SlotsPerDay)
	for i, held := range d.slots {
		if held == "" {
			out = append(out, SlotTime(i))
		}
	}
	return out
}

// Occupied lists the slots held by eventID in order.
func (d *Day) Occupied(eventID string) []model.TimeOfDay {
	var out []model.TimeOfDay
	for i, held := range d.slots {
		if held == eventID {
			out = append(out, SlotTime(i))
		}
	}
	return out
}

// EventIDs returns the ids present on the day ordered by their first slot.
func (d *Day) EventIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, held := range d.slots {
		if held == "" || seen[held] {
			continue
		}
		seen[held] = true
		ids = append(ids, held)
	}
	return ids
}

func (d *Day) IsEmpty() bool {
	for _, held := range d.slots {
		if held != "" {
			return false
		}
	}
	return true
}

// AllSlots is the full grid 00:00, 00:15, ..., 23:45.
func AllSlots() []model.TimeOfDay {
	out := make([]model.TimeOfDay, SlotsPerDay)
	for i := range out {
		out[i] = SlotTime(i)
	}
	return out
}
