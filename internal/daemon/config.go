// Package daemon manages the propcore process lifecycle and
// configuration. Configuration comes from ~/.propcore/config.toml with
// A1_* environment variables taking precedence over the file.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigError marks a configuration problem the operator must fix; the
// CLI maps it to exit code 2.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Config holds all daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Ingest  IngestConfig  `toml:"ingest"`
	Store   StoreConfig   `toml:"store"`
	LLM     LLMConfig     `toml:"llm"`
	Alerts  AlertsConfig  `toml:"alerts"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string `toml:"host"`
	PortMin         int    `toml:"port_min"`
	PortMax         int    `toml:"port_max"`
	StaleThresholdS int    `toml:"stale_threshold_s"`
	Metrics         bool   `toml:"metrics"`
}

// IngestConfig controls the ingestion engine and its rate policy.
type IngestConfig struct {
	BaseURL          string `toml:"base_url"`
	IntervalS        int    `toml:"interval_s"`
	MinSpacingS      int    `toml:"min_spacing_s"`
	BackoffScheduleS []int  `toml:"backoff_schedule_s"`
	CacheTTLS        int    `toml:"cache_ttl_s"`
	PerPage          int    `toml:"per_page"`
	RetentionDays    int    `toml:"retention_days"`
}

// StoreConfig controls persistence.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LLMConfig controls the Ollama-backed explanation layer.
type LLMConfig struct {
	URL             string   `toml:"url"`
	ModelPreference []string `toml:"model_preference"`
}

// AlertsConfig holds optional alert sinks.
type AlertsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
	Email        string `toml:"email"`
	SentryDSN    string `toml:"sentry_dsn"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			PortMin:         8000,
			PortMax:         8010,
			StaleThresholdS: 900,
		},
		Ingest: IngestConfig{
			BaseURL:          "https://api.prizepicks.com",
			IntervalS:        60,
			MinSpacingS:      3,
			BackoffScheduleS: []int{10, 20, 40},
			CacheTTLS:        300,
			PerPage:          250,
			RetentionDays:    30,
		},
		Store: StoreConfig{
			Path: filepath.Join(propcoreHome(), "props.db"),
		},
		LLM: LLMConfig{
			URL:             "http://127.0.0.1:11434",
			ModelPreference: []string{"llama3:8b", "llama3", "mistral"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads ~/.propcore/config.toml (when present), applies A1_*
// environment overrides, and validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(propcoreHome(), "config.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, configErrorf("parse %s: %v", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized A1_* variables onto cfg.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("A1_PORT_RANGE"); v != "" {
		lo, hi, err := parsePortRange(v)
		if err != nil {
			return err
		}
		cfg.Server.PortMin, cfg.Server.PortMax = lo, hi
	}
	intVars := []struct {
		name string
		dst  *int
	}{
		{"A1_INGEST_INTERVAL_S", &cfg.Ingest.IntervalS},
		{"A1_REQUEST_MIN_SPACING_S", &cfg.Ingest.MinSpacingS},
		{"A1_CACHE_TTL_S", &cfg.Ingest.CacheTTLS},
		{"A1_STALE_THRESHOLD_S", &cfg.Server.StaleThresholdS},
	}
	for _, iv := range intVars {
		v := os.Getenv(iv.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return configErrorf("%s must be a positive integer, got %q", iv.name, v)
		}
		*iv.dst = n
	}
	if v := os.Getenv("A1_BACKOFF_SCHEDULE_S"); v != "" {
		schedule, err := parseSchedule(v)
		if err != nil {
			return err
		}
		cfg.Ingest.BackoffScheduleS = schedule
	}
	if v := os.Getenv("A1_LLM_URL"); v != "" {
		cfg.LLM.URL = v
	}
	if v := os.Getenv("A1_LLM_MODEL_PREFERENCE"); v != "" {
		cfg.LLM.ModelPreference = splitList(v)
	}
	if v := os.Getenv("A1_DB_URL"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("A1_ALERT_SLACK_WEBHOOK"); v != "" {
		cfg.Alerts.SlackWebhook = v
	}
	if v := os.Getenv("A1_ALERT_EMAIL"); v != "" {
		cfg.Alerts.Email = v
	}
	if v := os.Getenv("A1_SENTRY_DSN"); v != "" {
		cfg.Alerts.SentryDSN = v
	}
	return nil
}

func (c Config) validate() error {
	if c.Server.PortMin <= 0 || c.Server.PortMax > 65535 || c.Server.PortMin > c.Server.PortMax {
		return configErrorf("invalid port range %d-%d", c.Server.PortMin, c.Server.PortMax)
	}
	if c.Ingest.IntervalS <= 0 {
		return configErrorf("ingest interval must be positive, got %d", c.Ingest.IntervalS)
	}
	if len(c.Ingest.BackoffScheduleS) == 0 {
		return configErrorf("backoff schedule must not be empty")
	}
	for _, s := range c.Ingest.BackoffScheduleS {
		if s <= 0 {
			return configErrorf("backoff schedule entries must be positive, got %d", s)
		}
	}
	if c.Store.Path == "" {
		return configErrorf("store path must not be empty")
	}
	return nil
}

// ─── Derived values ─────────────────────────────────────────────────────────

// IngestInterval returns the cycle interval as a duration.
func (c Config) IngestInterval() time.Duration {
	return time.Duration(c.Ingest.IntervalS) * time.Second
}

// MinSpacing returns the per-host request spacing.
func (c Config) MinSpacing() time.Duration {
	return time.Duration(c.Ingest.MinSpacingS) * time.Second
}

// BackoffSchedule returns the retry backoff delays.
func (c Config) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(c.Ingest.BackoffScheduleS))
	for i, s := range c.Ingest.BackoffScheduleS {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// CacheTTL returns the response-cache TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Ingest.CacheTTLS) * time.Second
}

// StaleThreshold returns the projections staleness threshold.
func (c Config) StaleThreshold() time.Duration {
	return time.Duration(c.Server.StaleThresholdS) * time.Second
}

// RetentionHorizon returns the archive horizon; zero disables the sweep.
func (c Config) RetentionHorizon() time.Duration {
	return time.Duration(c.Ingest.RetentionDays) * 24 * time.Hour
}

// ─── Parsing helpers ────────────────────────────────────────────────────────

func parsePortRange(v string) (int, int, error) {
	lo, hi, ok := strings.Cut(v, "-")
	if !ok {
		return 0, 0, configErrorf("A1_PORT_RANGE must look like 8000-8010, got %q", v)
	}
	a, err1 := strconv.Atoi(strings.TrimSpace(lo))
	b, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil || a <= 0 || b > 65535 || a > b {
		return 0, 0, configErrorf("invalid A1_PORT_RANGE %q", v)
	}
	return a, b, nil
}

func parseSchedule(v string) ([]int, error) {
	parts := splitList(v)
	if len(parts) == 0 {
		return nil, configErrorf("A1_BACKOFF_SCHEDULE_S must not be empty")
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, configErrorf("A1_BACKOFF_SCHEDULE_S entries must be positive integers, got %q", p)
		}
		out[i] = n
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// propcoreHome returns the propcore data directory.
func propcoreHome() string {
	if env := os.Getenv("PROPCORE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".propcore")
}

// Home is exported for use by other packages.
func Home() string {
	return propcoreHome()
}
