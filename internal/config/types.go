// Package config loads the autopost configuration file (JSON or YAML),
// applies environment overrides and watches the file for hot reloads.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"autopost/internal/debugserver"
	"autopost/internal/model"
	"autopost/internal/runner"
	"autopost/internal/scheduler"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

const (
	DefaultTickIntervalSeconds  = 60
	DefaultJobTimeoutSeconds    = 600
	DefaultShutdownGraceSeconds = 30
	DefaultStorePath            = "./.mp"
	DefaultStoreDriver          = "file"
	DefaultTelegramMinLevel     = "warn"
	DefaultTelegramRatePerSec   = 1
	sqliteFileName              = "autopost.db"
)

type Config struct {
	TickIntervalSeconds      int    `json:"tick_interval_seconds,omitempty"`
	DefaultJobTimeoutSeconds int    `json:"default_job_timeout_seconds,omitempty"`
	StorePath                string `json:"store_path,omitempty"`
	// StoreDriver is "file" (default) or "sqlite".
	StoreDriver string `json:"store_driver,omitempty"`
	// SQLiteBusyTimeout is a Go duration string (e.g. "5s").
	SQLiteBusyTimeout    string `json:"sqlite_busy_timeout,omitempty"`
	Workers              int    `json:"workers,omitempty"`
	// ShutdownGraceSeconds of 0 cancels in-flight jobs as soon as the daemon stops.
	ShutdownGraceSeconds int `json:"shutdown_grace_seconds,omitempty"`
	// Timezone is an IANA name used for clock-time and cron specs. Empty means local.
	Timezone string `json:"timezone,omitempty"`

	Platforms map[string]PlatformConfig `json:"platforms,omitempty"`
	Logging   LoggingConfig             `json:"logging"`
	Debug     DebugConfig               `json:"debug"`
}

// PlatformConfig binds a platform name to an external command and its limits.
type PlatformConfig struct {
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	RatePerHour    float64           `json:"rate_per_hour,omitempty"`
	Command        []string          `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Dir            string            `json:"dir,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level,omitempty"`
	Console  bool              `json:"console"`
	File     LoggingFileConfig `json:"file"`
	Telegram TelegramLogConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// TelegramLogConfig forwards warn+ records to a chat. The token usually comes
// from AUTOPOST_TELEGRAM_TOKEN rather than the file.
type TelegramLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Pprof                bool   `json:"pprof"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

// Default returns the configuration used when no file exists. Files are
// decoded on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		TickIntervalSeconds:      DefaultTickIntervalSeconds,
		DefaultJobTimeoutSeconds: DefaultJobTimeoutSeconds,
		StorePath:                DefaultStorePath,
		StoreDriver:              DefaultStoreDriver,
		ShutdownGraceSeconds:     DefaultShutdownGraceSeconds,
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: TelegramLogConfig{
				MinLevel:   DefaultTelegramMinLevel,
				RatePerSec: DefaultTelegramRatePerSec,
			},
		},
	}
}

var logLevels = []interface{}{"", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled"}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	err := validation.ValidateStruct(c,
		validation.Field(&c.TickIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultJobTimeoutSeconds, validation.Min(0)),
		validation.Field(&c.StorePath, validation.Required),
		validation.Field(&c.StoreDriver, validation.In("", "file", "sqlite")),
		validation.Field(&c.SQLiteBusyTimeout, validation.By(durationRule("sqlite_busy_timeout"))),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.ShutdownGraceSeconds, validation.Min(0)),
		validation.Field(&c.Timezone, validation.By(timezoneRule)),
		validation.Field(&c.Platforms, validation.By(platformsRule)),
		validation.Field(&c.Logging),
		validation.Field(&c.Debug),
	)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In(logLevels...)),
		validation.Field(&l.Telegram),
	)
}

func (t TelegramLogConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.MinLevel, validation.In(logLevels...)),
		validation.Field(&t.RatePerSec, validation.Min(0)),
		validation.Field(&t.ChatID, validation.When(t.Enabled, validation.Required)),
	)
}

func (d DebugConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.BlockProfileRate, validation.Min(0)),
		validation.Field(&d.MutexProfileFraction, validation.Min(0)),
	)
}

func (p PlatformConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TimeoutSeconds, validation.Min(0)),
		validation.Field(&p.RatePerHour, validation.Min(0.0)),
	)
}

func durationRule(path string) validation.RuleFunc {
	return func(v interface{}) error {
		s, _ := v.(string)
		_, err := parseDuration(path, s)
		return err
	}
}

func timezoneRule(v interface{}) error {
	s, _ := v.(string)
	_, err := loadLocation(s)
	return err
}

func platformsRule(v interface{}) error {
	m, _ := v.(map[string]PlatformConfig)
	errs := validation.Errors{}
	for name, p := range m {
		if n, err := model.NormalizePlatform(name); err != nil || n != name {
			errs[name] = fmt.Errorf("invalid platform name (lowercase letters, digits, '-', '_' or '.')")
			continue
		}
		if err := p.Validate(); err != nil {
			errs[name] = err
		}
	}
	return errs.Filter()
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// Location resolves Timezone. An invalid name falls back to local time;
// Validate rejects it before that can happen on a loaded config.
func (c *Config) Location() *time.Location {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// PlatformNames returns configured platform names, sorted.
func (c *Config) PlatformNames() []string {
	out := make([]string, 0, len(c.Platforms))
	for name := range c.Platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) SchedulerConfig() scheduler.Config {
	rates := map[string]float64{}
	for name, p := range c.Platforms {
		if p.RatePerHour > 0 {
			rates[name] = p.RatePerHour
		}
	}
	return scheduler.Config{
		TickInterval:  seconds(c.TickIntervalSeconds),
		Workers:       c.Workers,
		ShutdownGrace: seconds(c.ShutdownGraceSeconds),
		RatePerHour:   rates,
	}
}

func (c *Config) RunnerConfig() runner.Config {
	timeouts := map[string]time.Duration{}
	for name, p := range c.Platforms {
		if p.TimeoutSeconds > 0 {
			timeouts[name] = seconds(p.TimeoutSeconds)
		}
	}
	return runner.Config{
		DefaultTimeout: seconds(c.DefaultJobTimeoutSeconds),
		Timeouts:       timeouts,
	}
}

func (c *Config) StorageConfig() storage.Config {
	busy, _ := parseDuration("sqlite_busy_timeout", c.SQLiteBusyTimeout)
	driver := strings.ToLower(strings.TrimSpace(c.StoreDriver))
	path := strings.TrimSpace(c.StorePath)
	// store_path names a directory; sqlite keeps its database inside it.
	if driver == "sqlite" && filepath.Ext(path) != ".db" {
		path = filepath.Join(path, sqliteFileName)
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}
}

func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			Token:      l.Telegram.Token,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func (c *Config) DebugServerConfig() debugserver.Config {
	return debugserver.Config{
		Enabled:              c.Debug.Enabled,
		Addr:                 c.Debug.Addr,
		Pprof:                c.Debug.Pprof,
		BlockProfileRate:     c.Debug.BlockProfileRate,
		MutexProfileFraction: c.Debug.MutexProfileFraction,
	}
}
