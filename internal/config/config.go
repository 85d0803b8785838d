package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTimezone        = "America/New_York"
	DefaultStartTime       = "06:30:00"
	DefaultDurationMinutes = 60
	DefaultBootcampPrefix  = "Burn Bootcamp"
)

// StoreConfig selects and locates the record store backend.
type StoreConfig struct {
	// Driver is one of "sqlite" (default), "postgres" or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the sqlite database file.
	Path string `yaml:"path" json:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// CalendarConfig controls the generated feed.
type CalendarConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	// OutputPath is where the rendered .ics document is written.
	OutputPath string `yaml:"output_path" json:"output_path"`
	// DefaultStartTime is used for planned rows without a start time and
	// for activities that carry none ("HH:MM:SS").
	DefaultStartTime       string `yaml:"default_start_time" json:"default_start_time"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	// UIDDomain is the right-hand side of every event UID.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`
	// Refresh is a cron expression for periodic regeneration so the
	// visibility window advances even without new activities.
	Refresh string `yaml:"refresh" json:"refresh"`
}

// MatchingConfig parameterizes the planned/completed type rules.
type MatchingConfig struct {
	BootcampPrefix        string   `yaml:"bootcamp_prefix" json:"bootcamp_prefix"`
	BootcampActivityTypes []string `yaml:"bootcamp_activity_types" json:"bootcamp_activity_types"`
}

// PlanConfig holds CSV import settings.
type PlanConfig struct {
	// Year is applied to MM-DD dates in the plan CSV.
	Year int `yaml:"year" json:"year"`
}

// StravaConfig holds tracker API credentials and webhook settings.
type StravaConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	VerifyToken  string `yaml:"verify_token,omitempty" json:"verify_token,omitempty"`
	CallbackURL  string `yaml:"callback_url,omitempty" json:"callback_url,omitempty"`
	TokenPath    string `yaml:"token_path" json:"token_path"`
	BaseURL      string `yaml:"base_url" json:"base_url"`
	// RecentDays bounds how far back sync-recent looks.
	RecentDays int `yaml:"recent_days" json:"recent_days"`
}

// FulcrumConfig enables exporting newly created activities as Fulcrum
// records. Export is off unless both FormID and APIToken are set.
type FulcrumConfig struct {
	FormID   string `yaml:"form_id,omitempty" json:"form_id,omitempty"`
	APIToken string `yaml:"api_token,omitempty" json:"api_token,omitempty"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
}

// Enabled reports whether export is configured.
func (f FulcrumConfig) Enabled() bool {
	return f.FormID != "" && f.APIToken != ""
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the feed and webhook.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone every timed event is placed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Store    StoreConfig    `yaml:"store" json:"store"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Matching MatchingConfig `yaml:"matching" json:"matching"`
	Plan     PlanConfig     `yaml:"plan" json:"plan"`
	Strava   StravaConfig   `yaml:"strava" json:"strava"`
	Fulcrum  FulcrumConfig  `yaml:"fulcrum" json:"fulcrum"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and the tracker webhook.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8080"
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	case "":
		c.Store.Driver = "sqlite"
	default:
		// Unknown driver; keep it so Open reports it instead of silently
		// writing to a different backend.
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join("training_calendar", "training_plan.db")
	}

	if c.Calendar.Name == "" {
		c.Calendar.Name = "Phase 1 Training - 50K Prep"
	}
	if c.Calendar.Description == "" {
		c.Calendar.Description = "Training plan with Strava activity integration"
	}
	if c.Calendar.OutputPath == "" {
		c.Calendar.OutputPath = filepath.Join("training_calendar", "training_calendar.ics")
	}
	if c.Calendar.DefaultStartTime == "" {
		c.Calendar.DefaultStartTime = DefaultStartTime
	}
	if c.Calendar.DefaultDurationMinutes <= 0 {
		c.Calendar.DefaultDurationMinutes = DefaultDurationMinutes
	}
	if c.Calendar.UIDDomain == "" {
		c.Calendar.UIDDomain = "training-plan"
	}
	if c.Calendar.Refresh == "" {
		// Just after local midnight, when yesterday's skipped workouts drop out.
		c.Calendar.Refresh = "5 0 * * *"
	}

	if c.Matching.BootcampPrefix == "" {
		c.Matching.BootcampPrefix = DefaultBootcampPrefix
	}
	if c.Matching.BootcampActivityTypes == nil {
		c.Matching.BootcampActivityTypes = []string{"WeightTraining", "Workout", "Crossfit"}
	}

	if c.Plan.Year <= 0 {
		c.Plan.Year = 2026
	}

	if c.Strava.TokenPath == "" {
		c.Strava.TokenPath = ".strava-tokens.json"
	}
	if c.Strava.BaseURL == "" {
		c.Strava.BaseURL = "https://www.strava.com"
	}
	if c.Strava.RecentDays <= 0 {
		c.Strava.RecentDays = 30
	}

	if c.Fulcrum.BaseURL == "" {
		c.Fulcrum.BaseURL = "https://api.fulcrumapp.com"
	}
}

// ApplyEnv overlays secrets from the environment. Environment values win
// over the file so credentials need not be written to disk.
func (c *Config) ApplyEnv() {
	overlay := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	overlay(&c.Strava.ClientID, "STRAVA_CLIENT_ID")
	overlay(&c.Strava.ClientSecret, "STRAVA_CLIENT_SECRET")
	overlay(&c.Strava.VerifyToken, "STRAVA_VERIFY_TOKEN")
	overlay(&c.Strava.CallbackURL, "CALLBACK_URL")
	overlay(&c.Store.DSN, "TRAINCAL_DATABASE_URL")
	overlay(&c.Fulcrum.FormID, "FULCRUM_FORM_ID")
	overlay(&c.Fulcrum.APIToken, "FULCRUM_API_TOKEN")
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, defaults are normalized and environment
//     secrets are applied.
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
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to path atomically (temp file in the
// same directory, then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file next to path and renames it over
// path, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
