package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen           = "127.0.0.1:8080"
	defaultTimezone         = "Local"
	defaultLogLevel         = "info"
	defaultDatabase         = "./var/daycal.db"
	defaultCacheDir         = "./var/ics-cache"
	defaultReminderSchedule = "* * * * *"
)

// SubscriptionConfig describes an ICS feed whose events are imported by `daycal sync`.
type SubscriptionConfig struct {
	// URL is the ICS endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for cache keys and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RemindersConfig controls reminder dispatch.
type RemindersConfig struct {
	// Schedule is a 5-field cron spec; the dispatcher scans for due
	// reminders on every tick.
	Schedule string `yaml:"schedule" json:"schedule"`
	// EmailTo is the recipient shown on email reminders.
	EmailTo string `yaml:"email_to" json:"email_to"`
	// Disabled turns the dispatcher off in `serve`.
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which event dates and times are read
	// (e.g. "Europe/Berlin"). "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the SQLite file holding events and reminders.
	Database string `yaml:"database" json:"database"`

	// ExportPath, if set, receives an ICS snapshot after each change made
	// through the API.
	ExportPath string `yaml:"export_path,omitempty" json:"export_path,omitempty"`

	// CacheDir stores ETag/Last-Modified metadata for subscriptions.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Reminders RemindersConfig `yaml:"reminders" json:"reminders"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		LogLevel:      defaultLogLevel,
		Database:      defaultDatabase,
		CacheDir:      defaultCacheDir,
		Reminders:     RemindersConfig{Schedule: defaultReminderSchedule},
		Subscriptions: []SubscriptionConfig{},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Reminders.Schedule == "" {
		c.Reminders.Schedule = defaultReminderSchedule
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
	for i := range c.Subscriptions {
		if c.Subscriptions[i].ID == "" {
			if c.Subscriptions[i].Name != "" {
				c.Subscriptions[i].ID = c.Subscriptions[i].Name
			} else {
				c.Subscriptions[i].ID = c.Subscriptions[i].URL
			}
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to time.Local when it is unknown.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename in the same
// directory. The parent directory is created 0700 and the file ends up 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".daycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
