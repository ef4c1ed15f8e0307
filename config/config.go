package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// File mirrors the optional YAML configuration file. Environment variables
// override any value set here.
type File struct {
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Timezone string `yaml:"timezone"`
	Log      struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	Scheduler struct {
		EscalationDelay   string `yaml:"escalation_delay"`
		DispatchTimeout   string `yaml:"dispatch_timeout"`
		StoreTimeout      string `yaml:"store_timeout"`
		PurgeSchedule     string `yaml:"purge_schedule"`
		ReconcileSchedule string `yaml:"reconcile_schedule"`
	} `yaml:"scheduler"`
	CalDAV struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Calendar string `yaml:"calendar"`
	} `yaml:"caldav"`
}

type Config struct {
	DatabaseDriver string
	DatabasePath   string
	ServerPort     string
	Timezone       *time.Location
	LogLevel       string
	LogJSON        bool
	TelegramToken  string

	EscalationDelay   time.Duration
	DispatchTimeout   time.Duration
	StoreTimeout      time.Duration
	PurgeSchedule     string
	ReconcileSchedule string

	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string
}

const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Load builds the configuration from the YAML file at path (optional; falls
// back to HOUND_CONFIG) and the environment.
func Load(path string) (*Config, error) {
	var f File
	if path == "" {
		path = os.Getenv("HOUND_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseDriver:    pick("DATABASE_DRIVER", f.Database.Driver, DriverMattn),
		DatabasePath:      pick("DATABASE_PATH", f.Database.Path, "./data/hound.db"),
		ServerPort:        pick("SERVER_PORT", f.Server.Port, "8080"),
		LogLevel:          pick("LOG_LEVEL", f.Log.Level, "info"),
		TelegramToken:     pick("TELEGRAM_BOT_TOKEN", f.Telegram.Token, ""),
		PurgeSchedule:     pick("PURGE_SCHEDULE", f.Scheduler.PurgeSchedule, "0 4 * * *"),
		ReconcileSchedule: pick("RECONCILE_SCHEDULE", f.Scheduler.ReconcileSchedule, "*/15 * * * *"),
		CalDAVURL:         pick("CALDAV_URL", f.CalDAV.URL, ""),
		CalDAVUsername:    pick("CALDAV_USERNAME", f.CalDAV.Username, ""),
		CalDAVPassword:    pick("CALDAV_PASSWORD", f.CalDAV.Password, ""),
		CalDAVCalendar:    pick("CALDAV_CALENDAR", f.CalDAV.Calendar, ""),
	}

	logJSON := "false"
	if f.Log.JSON != nil {
		logJSON = strconv.FormatBool(*f.Log.JSON)
	}
	var err error
	if cfg.LogJSON, err = strconv.ParseBool(pick("LOG_JSON", "", logJSON)); err != nil {
		return nil, fmt.Errorf("invalid LOG_JSON: %w", err)
	}

	tzName := pick("TIMEZONE", f.Timezone, "UTC")
	if cfg.Timezone, err = time.LoadLocation(tzName); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	durations := []struct {
		env, file, def string
		dst            *time.Duration
	}{
		{"ESCALATION_DELAY", f.Scheduler.EscalationDelay, "0s", &cfg.EscalationDelay},
		{"DISPATCH_TIMEOUT", f.Scheduler.DispatchTimeout, "10s", &cfg.DispatchTimeout},
		{"STORE_TIMEOUT", f.Scheduler.StoreTimeout, "5s", &cfg.StoreTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(pick(d.env, d.file, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverMattn, DriverModernc:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverMattn, DriverModernc, c.DatabaseDriver)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.EscalationDelay < 0 || c.DispatchTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("scheduler durations must be positive")
	}
	if _, err := cron.ParseStandard(c.PurgeSchedule); err != nil {
		return fmt.Errorf("invalid PURGE_SCHEDULE: %w", err)
	}
	if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("invalid RECONCILE_SCHEDULE: %w", err)
	}
	if c.CalDAVURL != "" && c.CalDAVCalendar == "" {
		return fmt.Errorf("CALDAV_CALENDAR is required when CALDAV_URL is set")
	}
	return nil
}

// CalDAVEnabled reports whether reminders should be mirrored to CalDAV.
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVURL != ""
}

func pick(env, fileValue, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}
