// Package config loads the Loom's configuration from an optional YAML or
// JSON file plus LOOM_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // window.timezone must resolve on hosts without zoneinfo

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/loom/internal/model"
)

// EnvPrefix namespaces environment overrides. LOOM_WINDOW__WEEKS=8 sets
// window.weeks.
const EnvPrefix = "LOOM_"

// DefaultRollInterval applies when scheduler.roll_interval is absent. An
// explicit 0 disables the ticker.
const DefaultRollInterval = 24 * time.Hour

// Window size bounds in weeks.
const (
	MinWindowWeeks = 1
	MaxWindowWeeks = 16
)

type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Window     WindowConfig     `json:"window"`
	Projection ProjectionConfig `json:"projection"`
	Allocation AllocationConfig `json:"allocation"`
	Events     EventsConfig     `json:"events"`
	Routing    RoutingConfig    `json:"routing"`
	HTTP       HTTPConfig       `json:"http"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Logging    LoggingConfig    `json:"logging"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type WindowConfig struct {
	Weeks    int    `json:"weeks"`
	Timezone string `json:"timezone"`
}

// Location resolves Timezone. Validate guarantees it loads.
func (c WindowConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type ProjectionConfig struct {
	// AuditSamplePercent is the chance, 0-100, that a created or changed
	// instance is flagged for quality audit.
	AuditSamplePercent float64 `json:"audit_sample_percent"`
	// Seed fixes the audit sampler. 0 seeds from the clock.
	Seed uint64 `json:"seed"`
}

type AllocationConfig struct {
	PayPeriodDays   int    `json:"pay_period_days"`
	PayPeriodAnchor string `json:"pay_period_anchor"`
}

// Anchor is the first day of some pay period.
func (c AllocationConfig) Anchor() time.Time {
	d, err := model.ParseDate(c.PayPeriodAnchor)
	if err != nil {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return d
}

type EventsConfig struct {
	ShortNoticeHours float64 `json:"short_notice_hours"`
}

type RoutingConfig struct {
	// BaseURL of the routing provider. Empty disables route ordering.
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	RatePerSecond float64       `json:"rate_per_second"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SchedulerConfig struct {
	// RollInterval between automatic rolls. 0 disables the ticker.
	RollInterval time.Duration `json:"roll_interval"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	Env   string `json:"env"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Scheduler: SchedulerConfig{RollInterval: DefaultRollInterval}}
	cfg.SetDefaults()
	return cfg
}

// Load reads path (if non-empty), applies environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !k.Exists("scheduler.roll_interval") {
		cfg.Scheduler.RollInterval = DefaultRollInterval
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every zero field that has a default.
func (c *Config) SetDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "loom.db"
	}
	if c.Window.Weeks == 0 {
		c.Window.Weeks = 4
	}
	if c.Window.Timezone == "" {
		c.Window.Timezone = "UTC"
	}
	if c.Allocation.PayPeriodDays == 0 {
		c.Allocation.PayPeriodDays = 14
	}
	if c.Allocation.PayPeriodAnchor == "" {
		c.Allocation.PayPeriodAnchor = "2024-01-01"
	}
	if c.Events.ShortNoticeHours == 0 {
		c.Events.ShortNoticeHours = 2
	}
	if c.Routing.Timeout == 0 {
		c.Routing.Timeout = 3 * time.Second
	}
	if c.Routing.RatePerSecond == 0 {
		c.Routing.RatePerSecond = 5
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	if c.Window.Weeks < MinWindowWeeks || c.Window.Weeks > MaxWindowWeeks {
		return fmt.Errorf("window.weeks must be between %d and %d, got %d", MinWindowWeeks, MaxWindowWeeks, c.Window.Weeks)
	}
	if _, err := time.LoadLocation(c.Window.Timezone); err != nil {
		return fmt.Errorf("window.timezone: %w", err)
	}
	if c.Projection.AuditSamplePercent < 0 || c.Projection.AuditSamplePercent > 100 {
		return fmt.Errorf("projection.audit_sample_percent must be between 0 and 100, got %v", c.Projection.AuditSamplePercent)
	}
	if c.Allocation.PayPeriodDays < 1 {
		return fmt.Errorf("allocation.pay_period_days must be positive, got %d", c.Allocation.PayPeriodDays)
	}
	if _, err := model.ParseDate(c.Allocation.PayPeriodAnchor); err != nil {
		return fmt.Errorf("allocation.pay_period_anchor: %w", err)
	}
	if c.Events.ShortNoticeHours < 0 {
		return fmt.Errorf("events.short_notice_hours must not be negative")
	}
	if c.Routing.Timeout < 0 {
		return fmt.Errorf("routing.timeout must not be negative")
	}
	if c.Scheduler.RollInterval < 0 {
		return fmt.Errorf("scheduler.roll_interval must not be negative")
	}
	return nil
}
