package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/sosodev/duration"

	appLog "daycal/internal/log"
	"daycal/internal/model"
)

var (
	errAllDay    = errors.New("all-day entries do not occupy slots")
	errRecurring = errors.New("recurring entries are not expanded")
	errMultiDay  = errors.New("entry spans more than one day")
)

// ParsedAlarm is a VALARM reduced to an absolute time and a delivery kind.
type ParsedAlarm struct {
	At   time.Time
	Kind model.ReminderKind
}

// ParsedEvent is the normalized representation of a VEVENT.
type ParsedEvent struct {
	Source Source

	UID         string
	Summary     string
	Description string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	Alarms   []ParsedAlarm
}

// ParseICS parses an ICS payload into ParsedEvents. VEVENTs that cannot be
// read are logged and skipped.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", out.UID, err)
	}
	end, err := ve.GetEndAt()
	switch {
	case errors.Is(err, ical.ErrorPropertyNotFound):
		// DTSTART with DURATION instead of DTEND.
		p := ve.GetProperty(ical.ComponentPropertyDuration)
		if p == nil {
			return out, fmt.Errorf("uid %s: neither DTEND nor DURATION set", out.UID)
		}
		d, derr := parseICSDuration(p.Value)
		if derr != nil {
			return out, fmt.Errorf("uid %s: DURATION: %w", out.UID, derr)
		}
		end = start.Add(d)
	case err != nil:
		return out, fmt.Errorf("uid %s: DTEND: %w", out.UID, err)
	}
	out.Start = start
	out.End = end

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if !strings.Contains(p.Value, "T") {
			out.AllDay = true
		}
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, sub := range ve.Components {
		alarm, ok := sub.(*ical.VAlarm)
		if !ok {
			continue
		}
		pa, err := parseAlarm(alarm, out.Start, out.End)
		if err != nil {
			appLog.Warn("ics valarm skipped", "uid", out.UID, "err", err)
			continue
		}
		out.Alarms = append(out.Alarms, pa)
	}

	return out, nil
}

// parseAlarm resolves a TRIGGER that is either absolute (VALUE=DATE-TIME)
// or a duration relative to the event start, or to its end with RELATED=END.
func parseAlarm(a *ical.VAlarm, start, end time.Time) (ParsedAlarm, error) {
	var out ParsedAlarm

	out.Kind = model.ReminderSystem
	if p := a.GetProperty(ical.ComponentPropertyAction); p != nil && strings.EqualFold(p.Value, string(ical.ActionEmail)) {
		out.Kind = model.ReminderEmail
	}

	p := a.GetProperty(ical.ComponentPropertyTrigger)
	if p == nil || p.Value == "" {
		return out, errors.New("missing TRIGGER")
	}
	v := strings.TrimSpace(p.Value)
	if strings.Contains(v, "P") {
		d, err := parseICSDuration(v)
		if err != nil {
			return out, err
		}
		anchor := start
		if vs, ok := p.ICalParameters[string(ical.ParameterRelated)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "END") {
			anchor = end
		}
		out.At = anchor.Add(d)
		return out, nil
	}
	at, err := parseICSTime(v)
	if err != nil {
		return out, err
	}
	out.At = at
	return out, nil
}

// ToEvent converts a parsed entry into a calendar event on one date in loc.
// The UID becomes the event id. An end at midnight of the following day is
// read as 24:00.
func (p ParsedEvent) ToEvent(loc *time.Location) (model.Event, error) {
	if p.AllDay {
		return model.Event{}, errAllDay
	}
	if p.RawRRule != "" {
		return model.Event{}, errRecurring
	}
	start := p.Start.In(loc)
	end := p.End.In(loc)

	ev := model.Event{
		ID:          p.UID,
		Title:       p.Summary,
		Description: p.Description,
		Date:        model.DateOf(start),
		Start:       model.TimeOf(start),
	}
	switch endDate := model.DateOf(end); {
	case endDate == ev.Date:
		ev.End = model.TimeOf(end)
	case endDate == ev.Date.AddDays(1) && model.TimeOf(end) == 0:
		ev.End = model.EndOfDay
	default:
		return model.Event{}, errMultiDay
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	for _, a := range p.Alarms {
		ev.AddReminder(a.At, a.Kind)
	}
	return ev, nil
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, time.Local)
}

// parseICSDuration parses RFC 5545 durations such as -PT15M, P1D, PT1H30M
// or -P1W. Years, months and fractions are not part of the ICS grammar.
func parseICSDuration(v string) (time.Duration, error) {
	s := strings.TrimPrefix(strings.TrimSpace(v), "+")
	if s == "" || strings.ContainsRune(s, '.') || strings.ContainsAny(s[len(s)-1:], "0123456789") {
		return 0, fmt.Errorf("bad duration %q", v)
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", v, err)
	}
	if d.Years != 0 || d.Months != 0 {
		return 0, fmt.Errorf("bad duration %q: years and months are not allowed", v)
	}
	return d.ToTimeDuration(), nil
}
