package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"daycal/internal/model"
)

// Store persists events and their reminders in SQLite. It holds no calendar
// logic; the calendar is rebuilt from LoadEvents at startup.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reminders (
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		remind_at DATETIME NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (event_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
	CREATE INDEX IF NOT EXISTS idx_reminders_time ON reminders(remind_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEvent upserts ev and replaces its reminder list in one transaction.
func (s *Store) SaveEvent(ev model.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO events (id, title, description, date, start_min, end_min, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			date = excluded.date,
			start_min = excluded.start_min,
			end_min = excluded.end_min,
			updated_at = excluded.updated_at
	`, ev.ID, ev.Title, ev.Description, ev.Date.String(), int(ev.Start), int(ev.End), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM reminders WHERE event_id = ?", ev.ID); err != nil {
		return fmt.Errorf("clear reminders of %s: %w", ev.ID, err)
	}
	for i, r := range ev.Reminders {
		_, err := tx.Exec(
			"INSERT INTO reminders (event_id, position, remind_at, kind) VALUES (?, ?, ?, ?)",
			ev.ID, i, r.At.UTC(), string(r.Kind),
		)
		if err != nil {
			return fmt.Errorf("save reminder %d of %s: %w", i, ev.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteEvent removes the event and, by cascade, its reminders. Deleting an
// unknown id returns model.ErrEventNotFound.
func (s *Store) DeleteEvent(id string) error {
	res, err := s.db.Exec("DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// LoadEvents returns every stored event ordered by date and start time, with
// reminders in their saved order.
func (s *Store) LoadEvents() ([]model.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, title, description, date, start_min, end_min
		FROM events
		ORDER BY date, start_min, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	index := make(map[string]int)
	for rows.Next() {
		var (
			ev         model.Event
			date       string
			start, end int
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &date, &start, &end); err != nil {
			return nil, err
		}
		if ev.Date, err = model.ParseDate(date); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		ev.Start = model.TimeOfDay(start)
		ev.End = model.TimeOfDay(end)
		index[ev.ID] = len(events)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := s.db.Query("SELECT event_id, remind_at, kind FROM reminders ORDER BY event_id, position")
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rrows.Close()

	for rrows.Next() {
		var (
			eventID string
			at      time.Time
			kind    string
		)
		if err := rrows.Scan(&eventID, &at, &kind); err != nil {
			return nil, err
		}
		i, ok := index[eventID]
		if !ok {
			continue
		}
		k := model.ReminderKind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("event %s: %w %q", eventID, model.ErrInvalidReminderKind, kind)
		}
		events[i].Reminders = append(events[i].Reminders, model.NewReminder(at, k))
	}
	return events, rrows.Err()
}
