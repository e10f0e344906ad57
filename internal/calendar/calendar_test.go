package calendar

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycal/internal/model"
)

// testNow makes "today" 2026-10-16 for calendars built by newTestCalendar.
var testNow = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

var (
	today     = model.DateOf(testNow)
	yesterday = today.AddDays(-1)
)

func newTestCalendar() *Calendar {
	n := 0
	return New(
		WithClock(func() time.Time { return testNow }),
		WithLocation(time.UTC),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("ev-%d", n)
		}),
	)
}

// assertConsistent checks both directions of the slot/event invariant.
func assertConsistent(t *testing.T, c *Calendar) {
	t.Helper()
	for id, ev := range c.events {
		first, last := slotRange(ev.Start, ev.End)
		if first == last {
			continue
		}
		d, ok := c.days[ev.Date]
		require.True(t, ok, "day for %s missing", id)
		for i := first; i < last; i++ {
			assert.Equal(t, id, d.slots[i], "event %s slot %s", id, SlotTime(i))
		}
	}
	for date, d := range c.days {
		for i, held := range d.slots {
			if held == "" {
				continue
			}
			ev, ok := c.events[held]
			require.True(t, ok, "slot %s %s held by unknown event %s", date, SlotTime(i), held)
			first, last := slotRange(ev.Start, ev.End)
			assert.Equal(t, date, ev.Date)
			assert.True(t, i >= first && i < last, "slot %s outside range of %s", SlotTime(i), held)
		}
	}
}

// snapshot captures everything a failed operation must leave alone.
type snapshot struct {
	events map[string]model.Event
	days   map[model.Date][SlotsPerDay]string
}

func takeSnapshot(c *Calendar) snapshot {
	s := snapshot{
		events: make(map[string]model.Event),
		days:   make(map[model.Date][SlotsPerDay]string),
	}
	for id, ev := range c.events {
		s.events[id] = ev.Clone()
	}
	for date, d := range c.days {
		s.days[date] = d.slots
	}
	return s
}

func TestAddEventReservesSlots(t *testing.T) {
	c := newTestCalendar()

	ev, err := c.AddEvent("Dentist", "checkup", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "Dentist", ev.Title)
	assert.Equal(t, 1, c.Len())

	free := c.FindAvailableSlots(testDate)
	assert.Len(t, free, 92)
	for _, s := range []string{"09:00", "09:15", "09:30", "09:45"} {
		assert.NotContains(t, free, tod(s))
	}
	assert.Contains(t, free, tod("08:45"))
	assert.Contains(t, free, tod("10:00"))
	assertConsistent(t, c)
}

func TestAddEventToday(t *testing.T) {
	c := newTestCalendar()
	// Earlier today is still today; only the date is compared.
	_, err := c.AddEvent("breakfast", "", today, tod("07:00"), tod("07:30"))
	assert.NoError(t, err)
}

func TestAddEventRejectsPastDate(t *testing.T) {
	c := newTestCalendar()

	_, err := c.AddEvent("late", "", yesterday, tod("09:00"), tod("10:00"))
	assert.ErrorIs(t, err, model.ErrInvalidDate)
	assert.Zero(t, c.Len())
	assert.Empty(t, c.days)
}

func TestAddEventRejectsBadRange(t *testing.T) {
	c := newTestCalendar()

	_, err := c.AddEvent("backwards", "", testDate, tod("10:00"), tod("09:00"))
	assert.ErrorIs(t, err, model.ErrInvalidTimeRange)
	_, err = c.AddEvent("empty", "", testDate, tod("10:00"), tod("10:00"))
	assert.ErrorIs(t, err, model.ErrInvalidTimeRange)
	assert.Zero(t, c.Len())
}

func TestAddOverlappingEventLeavesStateUnchanged(t *testing.T) {
	c := newTestCalendar()
	_, err := c.AddEvent("first", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	before := takeSnapshot(c)

	_, err = c.AddEvent("second", "", testDate, tod("09:30"), tod("11:00"))
	require.ErrorIs(t, err, model.ErrSlotNotAvailable)

	assert.Equal(t, before, takeSnapshot(c))
	assertConsistent(t, c)
}

func TestFailedAddDoesNotKeepNewDay(t *testing.T) {
	c := newTestCalendar()
	other := testDate.AddDays(1)
	_, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)

	_, err = c.AddEvent("b", "", other, tod("09:00"), tod("09:00"))
	require.Error(t, err)
	_, known := c.days[other]
	assert.False(t, known)
}

func TestAdjacentEventsDoNotConflict(t *testing.T) {
	c := newTestCalendar()
	_, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("b", "", testDate, tod("10:00"), tod("11:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("c", "", testDate, tod("08:00"), tod("09:00"))
	require.NoError(t, err)
	assert.Len(t, c.FindAvailableSlots(testDate), 96-12)
	assertConsistent(t, c)
}

func TestFindAvailableSlotsWithoutDay(t *testing.T) {
	c := newTestCalendar()
	free := c.FindAvailableSlots(testDate)
	require.Len(t, free, 96)
	assert.Equal(t, AllSlots(), free)
}

func TestUpdateEventSameDate(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("b", "", testDate, tod("12:00"), tod("13:00"))
	require.NoError(t, err)

	updated, err := c.UpdateEvent(ev.ID, "a2", "moved", testDate, tod("10:00"), tod("11:00"))
	require.NoError(t, err)
	assert.Equal(t, "a2", updated.Title)
	assert.Equal(t, tod("10:00"), updated.Start)

	free := c.FindAvailableSlots(testDate)
	for _, s := range []string{"09:00", "09:15", "09:30", "09:45"} {
		assert.Contains(t, free, tod(s), "old range must be free again")
	}
	assert.NotContains(t, free, tod("10:30"))
	assertConsistent(t, c)
}

func TestUpdateEventOverlappingItself(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)

	_, err = c.UpdateEvent(ev.ID, "a", "", testDate, tod("09:30"), tod("10:30"))
	require.NoError(t, err)
	assert.Equal(t, "", c.days[testDate].Slot(tod("09:15")))
	assert.Equal(t, ev.ID, c.days[testDate].Slot(tod("10:15")))
	assertConsistent(t, c)
}

func TestUpdateEventConflictLeavesEverythingUntouched(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "desc", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("b", "", testDate, tod("12:00"), tod("13:00"))
	require.NoError(t, err)
	before := takeSnapshot(c)

	_, err = c.UpdateEvent(ev.ID, "renamed", "", testDate, tod("11:00"), tod("12:30"))
	require.ErrorIs(t, err, model.ErrSlotNotAvailable)

	assert.Equal(t, before, takeSnapshot(c))
	got, err := c.Event(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)
	assert.Equal(t, tod("09:00"), got.Start)
}

func TestUpdateEventMovesToOtherDate(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	next := testDate.AddDays(1)

	moved, err := c.UpdateEvent(ev.ID, "a", "", next, tod("14:00"), tod("15:00"))
	require.NoError(t, err)
	assert.Equal(t, next, moved.Date)

	assert.Len(t, c.FindAvailableSlots(testDate), 96)
	assert.Len(t, c.FindAvailableSlots(next), 92)
	assertConsistent(t, c)
}

func TestUpdateEventCrossDateConflictRollsBack(t *testing.T) {
	c := newTestCalendar()
	next := testDate.AddDays(1)
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("b", "", next, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	before := takeSnapshot(c)

	_, err = c.UpdateEvent(ev.ID, "a", "", next, tod("09:45"), tod("10:15"))
	require.ErrorIs(t, err, model.ErrSlotNotAvailable)

	assert.Equal(t, before, takeSnapshot(c))
	assert.Len(t, c.FindAvailableSlots(testDate), 92, "event stays scheduled on its old day")
	assertConsistent(t, c)
}

func TestUpdateEventToPastDate(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	before := takeSnapshot(c)

	_, err = c.UpdateEvent(ev.ID, "a", "", yesterday, tod("09:00"), tod("10:00"))
	assert.ErrorIs(t, err, model.ErrInvalidDate)
	assert.Equal(t, before, takeSnapshot(c))
}

func TestUpdateEventErrors(t *testing.T) {
	c := newTestCalendar()
	_, err := c.UpdateEvent("missing", "a", "", testDate, tod("09:00"), tod("10:00"))
	assert.ErrorIs(t, err, model.ErrEventNotFound)

	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	_, err = c.UpdateEvent(ev.ID, "a", "", testDate, tod("10:00"), tod("09:00"))
	assert.ErrorIs(t, err, model.ErrInvalidTimeRange)
	assertConsistent(t, c)
}

func TestDeleteEvent(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)

	require.NoError(t, c.DeleteEvent(ev.ID))
	assert.Len(t, c.FindAvailableSlots(testDate), 96)
	assert.Zero(t, c.Len())

	assert.ErrorIs(t, c.DeleteEvent(ev.ID), model.ErrEventNotFound)
	_, err = c.Event(ev.ID)
	assert.ErrorIs(t, err, model.ErrEventNotFound)
	assertConsistent(t, c)
}

func TestDeleteEventWithoutSlots(t *testing.T) {
	c := newTestCalendar()
	// 09:05-09:10 contains no slot boundary.
	ev, err := c.AddEvent("tiny", "", testDate, tod("09:05"), tod("09:10"))
	require.NoError(t, err)
	assert.Len(t, c.FindAvailableSlots(testDate), 96)

	require.NoError(t, c.DeleteEvent(ev.ID))
}

func TestReminders(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	at := testDate.At(tod("08:00"), time.UTC)

	require.NoError(t, c.AddReminder(ev.ID, at, ""))
	require.NoError(t, c.AddReminder(ev.ID, at.Add(15*time.Minute), model.ReminderSystem))
	require.NoError(t, c.AddReminder(ev.ID, at.Add(30*time.Minute), model.ReminderEmail))
	assert.ErrorIs(t, c.AddReminder("missing", at, ""), model.ErrEventNotFound)
	assert.ErrorIs(t, c.AddReminder(ev.ID, at, "pager"), model.ErrInvalidReminderKind)

	rs, err := c.ListReminders(ev.ID)
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, model.ReminderEmail, rs[0].Kind)
	assert.Equal(t, model.ReminderSystem, rs[1].Kind)

	assert.ErrorIs(t, c.DeleteReminder(ev.ID, 3), model.ErrReminderNotFound)
	assert.ErrorIs(t, c.DeleteReminder("missing", 0), model.ErrEventNotFound)

	require.NoError(t, c.DeleteReminder(ev.ID, 1))
	rs, err = c.ListReminders(ev.ID)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, at, rs[0].At)
	assert.Equal(t, at.Add(30*time.Minute), rs[1].At)

	_, err = c.ListReminders("missing")
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestReturnedEventsAreCopies(t *testing.T) {
	c := newTestCalendar()
	ev, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	require.NoError(t, c.AddReminder(ev.ID, testNow, model.ReminderEmail))

	got, err := c.Event(ev.ID)
	require.NoError(t, err)
	got.Title = "mutated"
	got.Reminders[0].Kind = model.ReminderSystem

	again, err := c.Event(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Title)
	assert.Equal(t, model.ReminderEmail, again.Reminders[0].Kind)
}

func TestFindEvents(t *testing.T) {
	c := newTestCalendar()
	d1, d2, d4 := testDate, testDate.AddDays(1), testDate.AddDays(3)

	late, err := c.AddEvent("late", "", d1, tod("15:00"), tod("16:00"))
	require.NoError(t, err)
	early, err := c.AddEvent("early", "", d1, tod("08:00"), tod("09:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("next day", "", d2, tod("10:00"), tod("11:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("outside", "", d4, tod("10:00"), tod("11:00"))
	require.NoError(t, err)

	got := c.FindEvents(d1, d1.AddDays(2))
	require.Len(t, got, 2)
	require.Len(t, got[d1], 2)
	assert.Equal(t, early.ID, got[d1][0].ID)
	assert.Equal(t, late.ID, got[d1][1].ID)
	assert.Len(t, got[d2], 1)
	_, hasEmpty := got[d1.AddDays(2)]
	assert.False(t, hasEmpty)

	assert.Empty(t, c.FindEvents(d2, d1))
	assert.Len(t, c.FindEvents(d4, d4), 1)
}

func TestEventsOrdered(t *testing.T) {
	c := newTestCalendar()
	_, err := c.AddEvent("b", "", testDate.AddDays(1), tod("08:00"), tod("09:00"))
	require.NoError(t, err)
	_, err = c.AddEvent("a", "", testDate, tod("10:00"), tod("11:00"))
	require.NoError(t, err)

	evs := c.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "a", evs[0].Title)
	assert.Equal(t, "b", evs[1].Title)
}

func TestRestore(t *testing.T) {
	c := newTestCalendar()
	past := model.Event{
		ID:    "stored-1",
		Title: "last week",
		Date:  today.AddDays(-7),
		Start: tod("09:00"),
		End:   tod("10:00"),
	}
	require.NoError(t, c.Restore(past))
	assert.ErrorIs(t, c.Restore(past), model.ErrDuplicateEvent)

	clash := past
	clash.ID = "stored-2"
	assert.ErrorIs(t, c.Restore(clash), model.ErrSlotNotAvailable)

	assert.ErrorIs(t, c.Restore(model.Event{Title: "no id"}), ErrMissingID)

	odd := past
	odd.ID = "stored-3"
	odd.Date = today.AddDays(-6)
	odd.Reminders = []model.Reminder{{At: testNow, Kind: "pager"}}
	assert.ErrorIs(t, c.Restore(odd), model.ErrInvalidReminderKind)
	assert.Equal(t, 1, c.Len())
	assertConsistent(t, c)
}

func TestDueReminders(t *testing.T) {
	c := newTestCalendar()
	a, err := c.AddEvent("a", "", testDate, tod("09:00"), tod("10:00"))
	require.NoError(t, err)
	b, err := c.AddEvent("b", "", testDate, tod("11:00"), tod("12:00"))
	require.NoError(t, err)

	base := testDate.At(tod("08:00"), time.UTC)
	require.NoError(t, c.AddReminder(a.ID, base.Add(10*time.Minute), model.ReminderEmail))
	require.NoError(t, c.AddReminder(b.ID, base.Add(5*time.Minute), model.ReminderSystem))
	require.NoError(t, c.AddReminder(a.ID, base, model.ReminderSystem))
	require.NoError(t, c.AddReminder(b.ID, base.Add(2*time.Hour), model.ReminderEmail))

	due := c.DueReminders(base, base.Add(10*time.Minute))
	require.Len(t, due, 2, "lower bound is exclusive, upper bound inclusive")
	assert.Equal(t, b.ID, due[0].Event.ID)
	assert.Equal(t, a.ID, due[1].Event.ID)
	assert.Equal(t, 0, due[1].Index)
}

func TestGuardedSerializesAccess(t *testing.T) {
	g := NewGuarded(newTestCalendar())

	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(hour int) {
			defer wg.Done()
			start := model.MustTimeOfDay(hour, 0)
			_ = g.Do(func(c *Calendar) error {
				_, err := c.AddEvent("slot", "", testDate, start, start+60)
				return err
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, g.Do(func(c *Calendar) error {
		assert.Equal(t, 24, c.Len())
		assert.Empty(t, c.FindAvailableSlots(testDate))
		assertConsistent(t, c)
		return nil
	}))
}
