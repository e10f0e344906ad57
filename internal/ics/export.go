package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"daycal/internal/model"
)

const productID = "-//daycal//daycal//EN"

// Export writes events as a VCALENDAR. Event times are placed in loc and
// written in UTC; each reminder becomes a VALARM with an absolute trigger.
func Export(w io.Writer, events []model.Event, loc *time.Location, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for i := range events {
		ev := &events[i]
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.StartTime(loc))
		ve.SetEndAt(ev.EndTime(loc))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}

		for _, r := range ev.Reminders {
			alarm := ve.AddAlarm()
			alarm.SetAction(alarmAction(r.Kind))
			alarm.SetTrigger(r.At.UTC().Format("20060102T150405Z"),
				&ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE-TIME"}})
			if r.Kind == model.ReminderEmail {
				alarm.SetProperty(ical.ComponentPropertySummary, ev.Title)
			}
			alarm.SetProperty(ical.ComponentPropertyDescription, r.String())
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func alarmAction(kind model.ReminderKind) ical.Action {
	if kind == model.ReminderEmail {
		return ical.ActionEmail
	}
	return ical.ActionDisplay
}
