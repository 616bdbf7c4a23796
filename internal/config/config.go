package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: Load creates a default config file on first run; Save always writes
// atomically with 0600 permissions since basic auth credentials live here.

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Europe/Prague"
	defaultStoragePath = "/var/lib/tariffd"
	defaultUpdateSpec  = "@every 30s"
	defaultCheckSpec   = "@every 60m"
	defaultMarker      = "|1"
	defaultLogLevel    = "info"
	defaultHorizonDays = 7
)

// DefaultWeekdays are the Monday..Sunday names of the distributor export.
var DefaultWeekdays = []string{"Pondělí", "Úterý", "Středa", "Čtvrtek", "Pátek", "Sobota", "Neděle"}

// SourceConfig describes where new schedule files come from.
type SourceConfig struct {
	// InboxDir is scanned for dropped .xlsx/.xlsm/.csv files. Defaults to
	// <storage_path>/inbox.
	InboxDir string `yaml:"inbox_dir" json:"inbox_dir"`
	// URL, if set, is polled with conditional GET for a published export.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// RelayConfig drives an optional GPIO output while NT is active.
type RelayConfig struct {
	// Pin is a periph.io pin name such as "GPIO17". Empty disables the relay.
	Pin       string `yaml:"pin" json:"pin"`
	ActiveLow bool   `yaml:"active_low" json:"active_low"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the weekly schedule is written in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// StoragePath holds tariff_data.json, the HTTP cache and the inbox.
	StoragePath string `yaml:"storage_path" json:"storage_path"`

	// Update is the cron spec for re-evaluating the tariff state.
	Update string `yaml:"update" json:"update"`

	// Check is the cron spec for looking at the schedule sources.
	Check string `yaml:"check" json:"check"`

	// Weekdays are the exact weekday labels of the export, Monday first.
	Weekdays []string `yaml:"weekdays" json:"weekdays"`

	// Marker is the column-0 suffix identifying NT rows.
	Marker string `yaml:"marker" json:"marker"`

	// HorizonDays is the default look-ahead for /api/windows and the ICS feed.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Source SourceConfig `yaml:"source" json:"source"`

	Relay RelayConfig `yaml:"relay" json:"relay"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.StoragePath == "" {
		c.StoragePath = defaultStoragePath
	}
	if c.Update == "" {
		c.Update = defaultUpdateSpec
	}
	if c.Check == "" {
		c.Check = defaultCheckSpec
	}
	if len(c.Weekdays) != 7 {
		c.Weekdays = append([]string(nil), DefaultWeekdays...)
	}
	if c.Marker == "" {
		c.Marker = defaultMarker
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Source.InboxDir == "" {
		c.Source.InboxDir = filepath.Join(c.StoragePath, "inbox")
	}
}

// Validate checks values Normalize cannot repair.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := cron.ParseStandard(c.Update); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if _, err := cron.ParseStandard(c.Check); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	seen := make(map[string]bool, len(c.Weekdays))
	for _, d := range c.Weekdays {
		if d == "" || seen[d] {
			return fmt.Errorf("weekdays: empty or duplicate name %q", d)
		}
		seen[d] = true
	}
	return nil
}

// StorePath is the location of the canonical schedule document.
func (c *Config) StorePath() string {
	return filepath.Join(c.StoragePath, "tariff_data.json")
}

// CacheDir holds the HTTP source cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.StoragePath, "cache")
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path via a temp file + rename in the same directory.
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

	tmp, err := os.CreateTemp(dir, ".tariffd-config-*.tmp")
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
