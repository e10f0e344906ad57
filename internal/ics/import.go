package ics

import (
	"errors"
	"time"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// ImportResult lists what Import did with each parsed entry, by UID.
type ImportResult struct {
	Imported []model.Event
	Existing []string
	Skipped  map[string]error
}

// Import restores every parsed entry that fits the slot grid into cal.
// Entries whose UID is already present are left alone; entries that are
// all-day, recurring, multi-day or clash with booked slots are skipped.
func Import(cal *calendar.Calendar, entries []ParsedEvent, loc *time.Location) ImportResult {
	res := ImportResult{Skipped: make(map[string]error)}

	for _, p := range entries {
		ev, err := p.ToEvent(loc)
		if err != nil {
			res.Skipped[p.UID] = err
			appLog.Debug("ics entry skipped", "uid", p.UID, "summary", p.Summary, "reason", err)
			continue
		}
		switch err := cal.Restore(ev); {
		case err == nil:
			res.Imported = append(res.Imported, ev)
		case errors.Is(err, model.ErrDuplicateEvent):
			res.Existing = append(res.Existing, ev.ID)
		default:
			res.Skipped[p.UID] = err
			appLog.Warn("ics entry not scheduled", "uid", p.UID, "summary", p.Summary, "reason", err)
		}
	}

	appLog.Info("ics import completed",
		"imported", len(res.Imported),
		"existing", len(res.Existing),
		"skipped", len(res.Skipped),
	)
	return res
}
