package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"daycal/internal/calendar"
	"daycal/internal/config"
	appLog "daycal/internal/log"
	"daycal/internal/model"
	"daycal/internal/store"
)

const defaultConfigPath = "./daycal.yaml"

// app is the state shared by every subcommand: the loaded config, the
// SQLite store and the calendar rebuilt from it.
type app struct {
	configPath string

	cfg   *config.Config
	loc   *time.Location
	store *store.Store
	cal   *calendar.Calendar
}

// open loads the config, applies the log level and restores the calendar
// from the store.
func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", a.configPath, err)
	}
	a.cfg = cfg

	level, err := appLog.ParseLevel(cfg.LogLevel)
	if err != nil {
		appLog.Warn("unknown log level; using info", "log_level", cfg.LogLevel)
	}
	appLog.SetLevel(level)

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}
	a.loc = loc

	if dir := filepath.Dir(cfg.Database); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	a.store = st

	a.cal = calendar.New(calendar.WithLocation(loc))
	events, err := st.LoadEvents()
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, ev := range events {
		if err := a.cal.Restore(ev); err != nil {
			appLog.Warn("stored event not restored", "id", ev.ID, "date", ev.Date, "reason", err)
		}
	}
	appLog.Debug("calendar restored", "events", a.cal.Len(), "database", cfg.Database, "timezone", loc.String())
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// save persists the current state of event id.
func (a *app) save(id string) error {
	ev, err := a.cal.Event(id)
	if err != nil {
		return err
	}
	return a.store.SaveEvent(ev)
}

// saveAll persists a batch of events, stopping at the first failure.
func (a *app) saveAll(events []model.Event) error {
	for _, ev := range events {
		if err := a.store.SaveEvent(ev); err != nil {
			return fmt.Errorf("save %s: %w", ev.ID, err)
		}
	}
	return nil
}
