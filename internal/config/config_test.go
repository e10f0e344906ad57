package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, defaultReminderSchedule, cfg.Reminders.Schedule)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen: 0.0.0.0:9000
timezone: UTC
reminders:
  email_to: me@example.com
subscriptions:
  - url: https://example.com/work.ics
    name: work
  - url: https://example.com/other.ics
basic_auth:
  username: admin
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "me@example.com", cfg.Reminders.EmailTo)
	assert.Equal(t, defaultReminderSchedule, cfg.Reminders.Schedule)
	assert.Equal(t, defaultDatabase, cfg.Database)
	require.Len(t, cfg.Subscriptions, 2)
	assert.Equal(t, "work", cfg.Subscriptions[0].ID)
	assert.Equal(t, "https://example.com/other.ics", cfg.Subscriptions[1].ID)
	assert.Nil(t, cfg.BasicAuth, "half-configured basic auth is dropped")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLocation_UnknownZoneFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"

	loc, err := cfg.Location()
	assert.Error(t, err)
	assert.NotNil(t, loc)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.ExportPath = "/tmp/daycal.ics"
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/daycal.ics", loaded.ExportPath)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "u", loaded.BasicAuth.Username)

	assert.Error(t, Save("", cfg))
	assert.Error(t, Save(path, nil))
}
