package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResourceConfig describes a bookable resource (attorney, room).
type ResourceConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// Color is a stable visual token (CSS color or palette name).
	Color string `yaml:"color" json:"color"`
}

// ICSConfig describes a single ICS subscription merged read-only into the
// calendar (court dockets, firm holidays).
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// ResourceID assigns every imported event to this resource.
	ResourceID string `yaml:"resource_id" json:"resource_id"`
	// EventType tags imported events (court-date, deadline, ...).
	EventType string `yaml:"event_type" json:"event_type"`
}

// BackendConfig points at the practice events API.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Token          string `yaml:"token" json:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the practice-wide IANA timezone (e.g. "America/New_York").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DefaultView is the view a new session opens with: day, week or month.
	DefaultView string `yaml:"default_view" json:"default_view"`

	// DayStartHour / DayEndHour bound the hourly rows of the week and day
	// views. DayEndHour is exclusive.
	DayStartHour int `yaml:"day_start_hour" json:"day_start_hour"`
	DayEndHour   int `yaml:"day_end_hour" json:"day_end_hour"`

	// MonthCellLimit caps how many events a month cell lists before "+N more".
	MonthCellLimit int `yaml:"month_cell_limit" json:"month_cell_limit"`

	// TitleMaxLen truncates event titles in grid cells.
	TitleMaxLen int `yaml:"title_max_len" json:"title_max_len"`

	Backend BackendConfig `yaml:"backend" json:"backend"`

	// CachePath is the SQLite file holding last-good API and feed payloads.
	// Empty keeps the cache in memory.
	CachePath string `yaml:"cache_path" json:"cache_path"`

	// CacheRetentionDays prunes cached payloads older than this.
	CacheRetentionDays int `yaml:"cache_retention_days" json:"cache_retention_days"`

	// RefreshCron is a cron-style schedule for ICS feed refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// SessionTTLMinutes expires idle calendar sessions.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" json:"session_ttl_minutes"`

	Resources []ResourceConfig `yaml:"resources" json:"resources"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "America/New_York"
	defaultRefreshCron  = "*/15 * * * *"
	defaultDayStartHour = 8
	defaultDayEndHour   = 18
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		WeekStart:      "monday",
		DefaultView:    "week",
		DayStartHour:   defaultDayStartHour,
		DayEndHour:     defaultDayEndHour,
		MonthCellLimit: 3,
		TitleMaxLen:    28,
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:5000",
			TimeoutSeconds: 15,
		},
		CachePath:          "/var/lib/casecal/cache.db",
		CacheRetentionDays: 30,
		RefreshCron:        defaultRefreshCron,
		SessionTTLMinutes:  120,
		Resources:          []ResourceConfig{},
		ICS:                []ICSConfig{},
		BasicAuth:          nil,
		LogLevel:           "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	switch c.DefaultView {
	case "day", "week", "month":
	default:
		c.DefaultView = "week"
	}

	if c.DayStartHour < 0 || c.DayStartHour > 23 {
		c.DayStartHour = defaultDayStartHour
	}
	if c.DayEndHour <= c.DayStartHour || c.DayEndHour > 24 {
		c.DayEndHour = defaultDayEndHour
		if c.DayEndHour <= c.DayStartHour {
			c.DayEndHour = 24
		}
	}
	if c.MonthCellLimit <= 0 {
		c.MonthCellLimit = 3
	}
	if c.TitleMaxLen <= 0 {
		c.TitleMaxLen = 28
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 15
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.CacheRetentionDays <= 0 {
		c.CacheRetentionDays = 30
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = 120
	}
	if c.Resources == nil {
		c.Resources = []ResourceConfig{}
	}
	for i := range c.Resources {
		if c.Resources[i].Name == "" {
			c.Resources[i].Name = c.Resources[i].ID
		}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ApplyEnv overrides selected fields from CASECAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CASECAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CASECAL_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("CASECAL_BACKEND_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("CASECAL_BACKEND_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Backend.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("CASECAL_CACHE_PATH"); v != "" {
		c.CachePath = v
	}
	if v := os.Getenv("CASECAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
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

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".casecal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
