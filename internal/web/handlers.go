package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"daycal/internal/calendar"
	"daycal/internal/ics"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

const (
	maxJSONBody = 1 << 20
	maxICSBody  = 8 << 20

	// defaultRangeDays is the window listed by GET /api/events without "to".
	defaultRangeDays = 7
)

var errNotPersisted = errors.New("change applied but not persisted")

// eventRequest is the body of POST /api/events and PUT /api/events/{id}.
// Dates are YYYY-MM-DD, times HH:MM; "24:00" is accepted as an end.
type eventRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Date        model.Date      `json:"date"`
	Start       model.TimeOfDay `json:"start"`
	End         model.TimeOfDay `json:"end"`
}

// reminderRequest is the body of POST /api/events/{id}/reminders.
type reminderRequest struct {
	At   time.Time `json:"at"`
	Kind string    `json:"kind"`
}

type dayEventsDTO struct {
	Date   model.Date    `json:"date"`
	Events []model.Event `json:"events"`
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	From     model.Date     `json:"from"`
	To       model.Date     `json:"to"`
	Timezone string         `json:"timezone"`
	Days     []dayEventsDTO `json:"days"`
}

type reminderDTO struct {
	Index int                `json:"index"`
	At    time.Time          `json:"at"`
	Kind  model.ReminderKind `json:"kind"`
	Text  string             `json:"text"`
}

type slotsResponse struct {
	Date  model.Date        `json:"date"`
	Free  int               `json:"free"`
	Slots []model.TimeOfDay `json:"slots"`
}

type importResponse struct {
	Imported []string          `json:"imported"`
	Existing []string          `json:"existing"`
	Skipped  map[string]string `json:"skipped"`
}

// handleListEvents returns events grouped by date.
//
// GET /api/events?from=2026-10-20&to=2026-10-27
//   - from: first date (default today)
//   - to:   last date, inclusive (default from + 6 days)
//   - days: window length used when "to" is absent (default 7)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		from, to model.Date
		err      error
	)
	if v := q.Get("from"); v != "" {
		if from, err = model.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = model.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
	}
	days := parseIntDefault(q.Get("days"), defaultRangeDays)
	if days <= 0 {
		days = defaultRangeDays
	}

	var (
		found map[model.Date][]model.Event
		tz    string
	)
	_ = s.cal.Do(func(c *calendar.Calendar) error {
		if from.IsZero() {
			from = c.Today()
		}
		if to.IsZero() {
			to = from.AddDays(days - 1)
		}
		found = c.FindEvents(from, to)
		tz = c.Location().String()
		return nil
	})

	resp := eventsResponse{From: from, To: to, Timezone: tz, Days: make([]dayEventsDTO, 0, len(found))}
	for date, evs := range found {
		for i := range evs {
			evs[i] = eventJSON(evs[i])
		}
		resp.Days = append(resp.Days, dayEventsDTO{Date: date, Events: evs})
	}
	sort.Slice(resp.Days, func(i, j int) bool { return resp.Days[i].Date.Before(resp.Days[j].Date) })

	appLog.Debug("api events request", "from", from, "to", to, "days", len(resp.Days))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	var ev model.Event
	err := s.cal.Do(func(c *calendar.Calendar) error {
		var err error
		ev, err = c.AddEvent(req.Title, req.Description, req.Date, req.Start, req.End)
		if err != nil {
			return err
		}
		return s.persist(&ev, "")
	})
	if err != nil && !errors.Is(err, errNotPersisted) {
		writeCalendarError(w, err)
		return
	}
	s.exportSnapshot()
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	appLog.Info("event created", "id", ev.ID, "date", ev.Date, "start", ev.Start, "end", ev.End)
	w.Header().Set("Location", "/api/events/"+ev.ID)
	writeJSON(w, http.StatusCreated, eventJSON(ev))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var ev model.Event
	err := s.cal.Do(func(c *calendar.Calendar) error {
		var err error
		ev, err = c.Event(id)
		return err
	})
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventJSON(ev))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	var ev model.Event
	err := s.cal.Do(func(c *calendar.Calendar) error {
		var err error
		ev, err = c.UpdateEvent(id, req.Title, req.Description, req.Date, req.Start, req.End)
		if err != nil {
			return err
		}
		return s.persist(&ev, "")
	})
	if err != nil && !errors.Is(err, errNotPersisted) {
		writeCalendarError(w, err)
		return
	}
	s.exportSnapshot()
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	appLog.Info("event updated", "id", ev.ID, "date", ev.Date, "start", ev.Start, "end", ev.End)
	writeJSON(w, http.StatusOK, eventJSON(ev))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.cal.Do(func(c *calendar.Calendar) error {
		if err := c.DeleteEvent(id); err != nil {
			return err
		}
		return s.persist(nil, id)
	})
	if err != nil && !errors.Is(err, errNotPersisted) {
		writeCalendarError(w, err)
		return
	}
	s.exportSnapshot()
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	appLog.Info("event deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var rs []model.Reminder
	err := s.cal.Do(func(c *calendar.Calendar) error {
		var err error
		rs, err = c.ListReminders(id)
		return err
	})
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	out := make([]reminderDTO, 0, len(rs))
	for i, rem := range rs {
		out = append(out, toReminderDTO(i, rem))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req reminderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.At.IsZero() {
		writeError(w, http.StatusBadRequest, "at is required")
		return
	}
	kind, err := model.ParseReminderKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var added reminderDTO
	err = s.cal.Do(func(c *calendar.Calendar) error {
		if err := c.AddReminder(id, req.At, kind); err != nil {
			return err
		}
		ev, err := c.Event(id)
		if err != nil {
			return err
		}
		last := len(ev.Reminders) - 1
		added = toReminderDTO(last, ev.Reminders[last])
		return s.persist(&ev, "")
	})
	if err != nil && !errors.Is(err, errNotPersisted) {
		writeCalendarError(w, err)
		return
	}
	s.exportSnapshot()
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	appLog.Info("reminder added", "event", id, "index", added.Index, "kind", added.Kind)
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reminder index")
		return
	}

	err = s.cal.Do(func(c *calendar.Calendar) error {
		if err := c.DeleteReminder(id, index); err != nil {
			return err
		}
		ev, err := c.Event(id)
		if err != nil {
			return err
		}
		return s.persist(&ev, "")
	})
	if err != nil && !errors.Is(err, errNotPersisted) {
		writeCalendarError(w, err)
		return
	}
	s.exportSnapshot()
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	appLog.Info("reminder deleted", "event", id, "index", index)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	date, err := model.ParseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var slots []model.TimeOfDay
	_ = s.cal.Do(func(c *calendar.Calendar) error {
		slots = c.FindAvailableSlots(date)
		return nil
	})
	writeJSON(w, http.StatusOK, slotsResponse{Date: date, Free: len(slots), Slots: slots})
}

// handleExport serves the whole calendar as an ICS document.
func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	var (
		events []model.Event
		loc    *time.Location
	)
	_ = s.cal.Do(func(c *calendar.Calendar) error {
		events = c.Events()
		loc = c.Location()
		return nil
	})

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	if err := ics.Export(w, events, loc, s.now()); err != nil {
		appLog.Error("ics export failed", err)
	}
}

// handleImport restores the VEVENTs of an uploaded ICS body.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxICSBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	parsed, err := ics.ParseICS(ics.Source{ID: "upload"}, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ICS: "+err.Error())
		return
	}

	var res ics.ImportResult
	err = s.cal.Do(func(c *calendar.Calendar) error {
		res = ics.Import(c, parsed, c.Location())
		var failed int
		for i := range res.Imported {
			if err := s.persist(&res.Imported[i], ""); err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d events", errNotPersisted, failed)
		}
		return nil
	})
	if len(res.Imported) > 0 {
		s.exportSnapshot()
	}
	if err != nil {
		writeCalendarError(w, err)
		return
	}

	resp := importResponse{
		Imported: make([]string, 0, len(res.Imported)),
		Existing: res.Existing,
		Skipped:  make(map[string]string, len(res.Skipped)),
	}
	if resp.Existing == nil {
		resp.Existing = []string{}
	}
	for _, ev := range res.Imported {
		resp.Imported = append(resp.Imported, ev.ID)
	}
	for uid, reason := range res.Skipped {
		resp.Skipped[uid] = reason.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// eventJSON makes an empty reminder list encode as [] rather than null.
func eventJSON(ev model.Event) model.Event {
	if ev.Reminders == nil {
		ev.Reminders = []model.Reminder{}
	}
	return ev
}

func toReminderDTO(i int, r model.Reminder) reminderDTO {
	return reminderDTO{Index: i, At: r.At, Kind: r.Kind, Text: r.String()}
}
