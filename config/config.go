// Package config loads server settings from the environment.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	CORS      CORSConfig
	Log       LogConfig
	Leave     LeaveConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type StoreConfig struct {
	// Driver is one of sqlite, bolt or memory.
	Driver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	Path   string `envconfig:"DB_PATH" default:"leave.db"`
}

type CORSConfig struct {
	AllowOrigins     []string `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	AllowMethods     []string `envconfig:"CORS_ALLOW_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowHeaders     []string `envconfig:"CORS_ALLOW_HEADERS" default:"Accept,Authorization,Content-Type"`
	AllowCredentials bool     `envconfig:"CORS_ALLOW_CREDENTIALS" default:"true"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type LeaveConfig struct {
	NoLeaveWeekday string `envconfig:"NO_LEAVE_WEEKDAY" default:"sunday"`
}

type SchedulerConfig struct {
	Enabled  bool          `envconfig:"GRANT_SCHEDULER_ENABLED" default:"false"`
	Interval time.Duration `envconfig:"GRANT_SCHEDULER_INTERVAL" default:"1h"`
}

var validDrivers = map[string]bool{"sqlite": true, "bolt": true, "memory": true}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !validDrivers[c.Store.Driver] {
		return errors.Newf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if _, err := c.Leave.Weekday(); err != nil {
		return err
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("GRANT_SCHEDULER_INTERVAL must be positive")
	}
	return nil
}

// Weekday parses NoLeaveWeekday ("sunday", "sun", case-insensitive).
func (c LeaveConfig) Weekday() (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(c.NoLeaveWeekday))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, errors.Newf("unknown NO_LEAVE_WEEKDAY %q", c.NoLeaveWeekday)
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func NewTestConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8889,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     5 * time.Second,
			ShutdownTimeout: time.Second,
		},
		Store: StoreConfig{Driver: "memory"},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:5173"},
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Accept", "Content-Type"},
		},
		Log:   LogConfig{Level: "error", Format: "text"},
		Leave: LeaveConfig{NoLeaveWeekday: "sunday"},
		Scheduler: SchedulerConfig{
			Interval: time.Hour,
		},
	}
}
