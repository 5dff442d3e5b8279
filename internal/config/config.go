// Package config loads the supervisor's runtime configuration with a
// three-layer priority: defaults, then environment variables, then
// functional options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every knob named in the external interfaces and
// concurrency sections: registry location, LLM oracle credentials,
// probe cadence, clarification gating, and optional Redis persistence.
type Config struct {
	Port int

	RegistryPath string

	// LLM oracle
	OracleAPIKey  string
	OracleBaseURL string
	OracleModel   string
	OracleTimeout time.Duration

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	ConfidenceRoute   float64
	ConfidenceClarify float64

	MaxClarificationAttempts int
	HistoryWindow            int

	// Persistence: empty RedisURL means in-memory conversation memory.
	RedisURL string

	DebugAuthToken string
}

// Option mutates a Config being built by Load.
type Option func(*Config)

func WithPort(p int) Option              { return func(c *Config) { c.Port = p } }
func WithRegistryPath(p string) Option   { return func(c *Config) { c.RegistryPath = p } }
func WithRedisURL(u string) Option       { return func(c *Config) { c.RedisURL = u } }
func WithOracleAPIKey(k string) Option   { return func(c *Config) { c.OracleAPIKey = k } }
func WithMaxClarifications(n int) Option { return func(c *Config) { c.MaxClarificationAttempts = n } }

func defaults() *Config {
	return &Config{
		Port:                     8080,
		RegistryPath:             "config/registry.json",
		OracleModel:              "gemini-2.5-flash",
		OracleTimeout:            25 * time.Second,
		ProbeInterval:            15 * time.Second,
		ProbeTimeout:             2 * time.Second,
		ConfidenceRoute:          0.60,
		ConfidenceClarify:        0.40,
		MaxClarificationAttempts: 3,
		HistoryWindow:            10,
	}
}

// Load builds a Config from defaults, overridden by environment variables,
// overridden by the supplied functional options.
func Load(opts ...Option) (*Config, error) {
	c := defaults()

	if v := os.Getenv("SUPERVISOR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("SUPERVISOR_REGISTRY_PATH"); v != "" {
		c.RegistryPath = v
	}
	if v := os.Getenv("SUPERVISOR_ORACLE_API_KEY"); v != "" {
		c.OracleAPIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.OracleAPIKey = v
	}
	if v := os.Getenv("SUPERVISOR_ORACLE_BASE_URL"); v != "" {
		c.OracleBaseURL = v
	}
	if v := os.Getenv("SUPERVISOR_ORACLE_MODEL"); v != "" {
		c.OracleModel = v
	}
	if v := os.Getenv("SUPERVISOR_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ProbeInterval = d
		}
	}
	if v := os.Getenv("SUPERVISOR_CONFIDENCE_ROUTE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceRoute = f
		}
	}
	if v := os.Getenv("SUPERVISOR_CONFIDENCE_CLARIFY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceClarify = f
		}
	}
	if v := os.Getenv("SUPERVISOR_HISTORY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HistoryWindow = n
		}
	}
	if v := os.Getenv("SUPERVISOR_MAX_CLARIFICATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxClarificationAttempts = n
		}
	}
	if v := os.Getenv("SUPERVISOR_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("SUPERVISOR_DEBUG_TOKEN"); v != "" {
		c.DebugAuthToken = v
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.ConfidenceClarify < 0 || c.ConfidenceClarify > 1 {
		return fmt.Errorf("config: confidence clarify threshold out of range")
	}
	if c.ConfidenceRoute < 0 || c.ConfidenceRoute > 1 {
		return fmt.Errorf("config: confidence route threshold out of range")
	}
	if c.ConfidenceClarify > c.ConfidenceRoute {
		return fmt.Errorf("config: clarify threshold must be <= route threshold")
	}
	if c.MaxClarificationAttempts <= 0 {
		return fmt.Errorf("config: max clarification attempts must be positive")
	}
	return nil
}
