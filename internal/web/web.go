package web

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"daycal/internal/calendar"
	"daycal/internal/config"
	"daycal/internal/ics"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// Persister receives every change made through the API. *store.Store
// satisfies it.
type Persister interface {
	SaveEvent(ev model.Event) error
	DeleteEvent(id string) error
}

// Server provides the JSON API over a shared calendar.
type Server struct {
	cfg   *config.Config
	cal   *calendar.Guarded
	store Persister
	mux   *http.ServeMux
	now   func() time.Time

	// exportMu orders ICS snapshots so a later change never gets
	// overwritten by an older one.
	exportMu sync.Mutex
}

// NewServer constructs a new Server. store may be nil, in which case
// changes live only in memory.
func NewServer(cfg *config.Config, cal *calendar.Guarded, store Persister) *Server {
	s := &Server{
		cfg:   cfg,
		cal:   cal,
		store: store,
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Half-configured credentials disable auth rather than lock everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /api/events/{id}/reminders", s.handleListReminders)
	s.mux.HandleFunc("POST /api/events/{id}/reminders", s.handleAddReminder)
	s.mux.HandleFunc("DELETE /api/events/{id}/reminders/{index}", s.handleDeleteReminder)

	s.mux.HandleFunc("GET /api/days/{date}/slots", s.handleSlots)

	s.mux.HandleFunc("GET /calendar.ics", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// persist writes ev (or its deletion) through the store. Failures are
// logged; the in-memory calendar keeps the change and the next successful
// save of the same event rewrites it completely.
func (s *Server) persist(ev *model.Event, deletedID string) error {
	if s.store == nil {
		return nil
	}
	var err error
	if ev != nil {
		err = s.store.SaveEvent(*ev)
	} else {
		err = s.store.DeleteEvent(deletedID)
		if errors.Is(err, model.ErrEventNotFound) {
			err = nil
		}
	}
	if err != nil {
		id := deletedID
		if ev != nil {
			id = ev.ID
		}
		appLog.Error("persist change failed", err, "event", id)
		return fmt.Errorf("%w: %v", errNotPersisted, err)
	}
	return nil
}

// exportSnapshot rewrites cfg.ExportPath with the current calendar, if
// configured. The file is replaced atomically.
func (s *Server) exportSnapshot() {
	if s.cfg == nil || s.cfg.ExportPath == "" {
		return
	}
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	var (
		events []model.Event
		loc    *time.Location
	)
	_ = s.cal.Do(func(c *calendar.Calendar) error {
		events = c.Events()
		loc = c.Location()
		return nil
	})

	var buf bytes.Buffer
	if err := ics.Export(&buf, events, loc, s.now()); err != nil {
		appLog.Error("ics export failed", err)
		return
	}
	path := s.cfg.ExportPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		appLog.Error("ics export failed", err, "path", path)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		appLog.Error("ics export failed", err, "path", path)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		appLog.Error("ics export failed", err, "path", path)
		return
	}
	appLog.Debug("ics snapshot written", "path", path, "events", len(events))
}

// statusFor maps calendar errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrEventNotFound), errors.Is(err, model.ErrReminderNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSlotNotAvailable), errors.Is(err, model.ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidDate), errors.Is(err, model.ErrInvalidTimeRange),
		errors.Is(err, model.ErrInvalidReminderKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeCalendarError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if errors.Is(err, errNotPersisted) {
		writeError(w, status, errNotPersisted.Error())
		return
	}
	if status == http.StatusInternalServerError {
		appLog.Error("api request failed", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
