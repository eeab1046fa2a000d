package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

// Config is the top-level application configuration. The synchronized
// job state lives in a separate JSON file (StatePath); this file only
// carries operator settings.
type Config struct {
	// Source selects the calendar backend: "google" or "ics".
	Source string `yaml:"source"`

	// CalendarID is the Google calendar to read (the account email for
	// the primary calendar). Prompted for interactively when empty.
	CalendarID string `yaml:"calendar_id"`

	// ICSURL is the feed endpoint when Source is "ics".
	ICSURL string `yaml:"ics_url"`

	// CredentialsFile is the OAuth client-secrets JSON path.
	CredentialsFile string `yaml:"credentials_file"`
	// TokenFile caches the obtained OAuth token.
	TokenFile string `yaml:"token_file"`

	// StatePath is the persisted sync state (event → job id mapping).
	StatePath string `yaml:"state_path"`
	// CacheDir holds the ICS conditional-GET cache.
	CacheDir string `yaml:"cache_dir"`

	// RunnerScript is the wrapper executed by every scheduled job; it
	// receives start, end, summary, location, description as arguments.
	RunnerScript string `yaml:"runner_script"`
	// AtCommand is the at(1) binary.
	AtCommand string `yaml:"at_command"`
	// SchedulerTimeoutSec bounds each at invocation.
	SchedulerTimeoutSec int `yaml:"scheduler_timeout_sec"`

	// HorizonDays is how far ahead events are synchronized.
	HorizonDays int `yaml:"horizon_days"`
	// SyncCron is the cron-style schedule driving cycles in daemon mode
	// (e.g. "*/10 * * * *").
	SyncCron string `yaml:"sync_cron"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, mirrors log output into a file.
	LogFile string `yaml:"log_file"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Source:              SourceGoogle,
		CredentialsFile:     "/etc/gcalat/client_secrets.json",
		TokenFile:           "/var/lib/gcalat/token.json",
		StatePath:           "/var/lib/gcalat/state.json",
		CacheDir:            "/var/lib/gcalat/ics-cache",
		RunnerScript:        "/etc/gcalat/gcalat.sh",
		AtCommand:           "at",
		SchedulerTimeoutSec: 30,
		HorizonDays:         7,
		SyncCron:            "*/10 * * * *",
		LogLevel:            "info",
	}
}

// Normalize fills in missing/zero values so partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	switch c.Source {
	case SourceGoogle, SourceICS:
	default:
		c.Source = SourceGoogle
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = def.CredentialsFile
	}
	if c.TokenFile == "" {
		c.TokenFile = def.TokenFile
	}
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.RunnerScript == "" {
		c.RunnerScript = def.RunnerScript
	}
	if c.AtCommand == "" {
		c.AtCommand = def.AtCommand
	}
	if c.SchedulerTimeoutSec <= 0 {
		c.SchedulerTimeoutSec = def.SchedulerTimeoutSec
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.SyncCron == "" {
		c.SyncCron = def.SyncCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: unmarshal it and normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
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

// Save writes the configuration atomically (temp file + rename) with
// 0600 permissions, creating the parent directory as needed.
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

	tmp, err := os.CreateTemp(dir, ".gcalat-config-*.tmp")
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

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
