package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, DefaultStartTime, cfg.Calendar.DefaultStartTime)
	assert.Equal(t, 60, cfg.Calendar.DefaultDurationMinutes)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []string{"WeightTraining", "Workout", "Crossfit"}, cfg.Matching.BootcampActivityTypes)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := []byte(`
timezone: Europe/London
calendar:
  name: Marathon Block
  default_duration_minutes: 45
matching:
  bootcamp_prefix: F45
`)
	require.NoError(t, os.WriteFile(path, yamlDoc, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", cfg.Timezone)
	assert.Equal(t, "Marathon Block", cfg.Calendar.Name)
	assert.Equal(t, 45, cfg.Calendar.DefaultDurationMinutes)
	assert.Equal(t, "F45", cfg.Matching.BootcampPrefix)
	assert.Equal(t, "training-plan", cfg.Calendar.UIDDomain)
	assert.Equal(t, 2026, cfg.Plan.Year)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", loc.String())
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("STRAVA_CLIENT_ID", "12345")
	t.Setenv("STRAVA_CLIENT_SECRET", "s3cret")
	t.Setenv("TRAINCAL_DATABASE_URL", "postgres://u:p@localhost/traincal")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strava:\n  client_id: from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "12345", cfg.Strava.ClientID)
	assert.Equal(t, "s3cret", cfg.Strava.ClientSecret)
	assert.Equal(t, "postgres://u:p@localhost/traincal", cfg.Store.DSN)
	assert.False(t, cfg.Fulcrum.Enabled())
}

func TestFulcrumFromEnv(t *testing.T) {
	t.Setenv("FULCRUM_FORM_ID", "form-1")
	t.Setenv("FULCRUM_API_TOKEN", "tok")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Fulcrum.Enabled())
	assert.Equal(t, "https://api.fulcrumapp.com", cfg.Fulcrum.BaseURL)
	assert.Equal(t, 30, cfg.Strava.RecentDays)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:9999"
	cfg.BasicAuth = &BasicAuthConfig{Username: "me", Password: "pw"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", loaded.Listen)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "me", loaded.BasicAuth.Username)
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ics")
	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
