package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// ConfigFile is the name of the TOML file inside the home directory.
const ConfigFile = "config.toml"

// defaultMaxReportSize is used when reports.max_size is empty or invalid.
const defaultMaxReportSize = 25 * 1000 * 1000

// Config is the on-disk configuration ($INTELBIDDER_HOME/config.toml).
// Durations and sizes are strings ("30s", "25MB") so the file stays readable.
type Config struct {
	API       APIConfig       `toml:"api"`
	Storage   StorageConfig   `toml:"storage"`
	Credits   CreditsConfig   `toml:"credits"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Reports   ReportsConfig   `toml:"reports"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
}

type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
	AdminToken     string `toml:"admin_token"` // empty disables admin routes
}

type StorageConfig struct {
	Driver      string `toml:"driver"`       // sqlite | postgres
	DatabaseURL string `toml:"database_url"` // postgres only
}

type CreditsConfig struct {
	DailyCredits    int    `toml:"daily_credits"`
	Timezone        string `toml:"timezone"` // IANA name or "Local"
	RefreshInterval string `toml:"refresh_interval"`
	DefaultIdentity string `toml:"default_identity"`
}

type UpstreamConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

type ReportsConfig struct {
	RefundOnFailure bool   `toml:"refund_on_failure"`
	Retention       string `toml:"retention"`
	MaxSize         string `toml:"max_size"` // largest artifact kept in history
	Author          string `toml:"author"`
	MissedLimit     int    `toml:"missed_limit"`
	MissedPerItem   int    `toml:"missed_per_item"`
	MaxConcurrent   int    `toml:"max_concurrent"` // generations across all identities
}

type TelemetryConfig struct {
	Metrics  bool `toml:"metrics"`
	Tracing  bool `toml:"tracing"`
	MaxSpans int  `toml:"max_spans"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: "2m",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Credits: CreditsConfig{
			DailyCredits:    10,
			Timezone:        "Local",
			RefreshInterval: "60s",
			DefaultIdentity: "local",
		},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "30s",
		},
		Reports: ReportsConfig{
			RefundOnFailure: true,
			Retention:       "720h",
			MaxSize:         "25MB",
			Author:          "Intel Bidder",
			MissedLimit:     5,
			MissedPerItem:   10,
			MaxConcurrent:   4,
		},
		Telemetry: TelemetryConfig{
			Metrics:  true,
			Tracing:  true,
			MaxSpans: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Home returns the data directory: $INTELBIDDER_HOME or ~/.intelbidder.
func Home() string {
	if env := os.Getenv("INTELBIDDER_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".intelbidder"
	}
	return filepath.Join(home, ".intelbidder")
}

// LoadConfig reads home/config.toml over the defaults, loads .env files
// (home first, then the working directory, never overriding the real
// environment) and applies environment overrides.
func LoadConfig(home string) (Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(home, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("stat %s: %w", path, err)
	}

	for _, env := range []string{filepath.Join(home, ".env"), ".env"} {
		if err := godotenv.Load(env); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", env, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides secrets and deployment settings from the environment.
func (c *Config) applyEnv() error {
	if v := os.Getenv("INTELBIDDER_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("INTELBIDDER_UPSTREAM_TOKEN"); v != "" {
		c.Upstream.Token = v
	}
	if v := os.Getenv("INTELBIDDER_ADMIN_TOKEN"); v != "" {
		c.API.AdminToken = v
	}
	if v := os.Getenv("INTELBIDDER_DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
		if c.Storage.Driver == "" || c.Storage.Driver == "sqlite" {
			c.Storage.Driver = "postgres"
		}
	}
	if v := os.Getenv("INTELBIDDER_TIMEZONE"); v != "" {
		c.Credits.Timezone = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid PORT env variable")
		}
		c.API.Port = port
	}
	return nil
}

// Validate checks every duration, the zone and basic ranges.
func (c Config) Validate() error {
	var errs []error
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	for name, v := range map[string]string{
		"api.request_timeout":      c.API.RequestTimeout,
		"credits.refresh_interval": c.Credits.RefreshInterval,
		"upstream.timeout":         c.Upstream.Timeout,
		"reports.retention":        c.Reports.Retention,
	} {
		if _, err := parseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Credits.DailyCredits <= 0 {
		errs = append(errs, fmt.Errorf("credits.daily_credits must be positive"))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "", "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("storage.database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q unsupported", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// Location resolves credits.timezone.
func (c Config) Location() (*time.Location, error) {
	switch c.Credits.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Credits.Timezone)
	if err != nil {
		return nil, fmt.Errorf("credits.timezone %q: %w", c.Credits.Timezone, err)
	}
	return loc, nil
}

// Addr returns host:port for the listener.
func (c Config) Addr() string {
	return c.API.Host + ":" + strconv.Itoa(c.API.Port)
}

// parseDuration accepts Go duration syntax plus a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// mustDuration parses a validated duration.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// parseReportSize converts reports.max_size ("25MB", "1GiB") to bytes.
// Empty or invalid input falls back to the default.
func parseReportSize(s string) uint64 {
	if strings.TrimSpace(s) == "" {
		return defaultMaxReportSize
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return defaultMaxReportSize
	}
	return n
}

// NewLogger builds the process logger from the log section.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WriteDefault writes the default configuration to home/config.toml unless
// a file already exists. Returns the path.
func WriteDefault(home string) (string, error) {
	path := filepath.Join(home, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", fmt.Errorf("create home: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(DefaultConfig()); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
