package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Target   TargetConfig   `yaml:"target"`
	Run      RunConfig      `yaml:"run"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type TargetConfig struct {
	BaseURL            string        `yaml:"base_url"`
	BearerToken        string        `yaml:"bearer_token"`
	BasicUser          string        `yaml:"basic_user"`
	BasicPass          string        `yaml:"basic_pass"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	FollowRedirects    bool          `yaml:"follow_redirects"`
	BlockPrivate       bool          `yaml:"block_private"`
	RateLimitPerSec    float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	UserAgent          string        `yaml:"user_agent"`
}

type RunConfig struct {
	Catalogs           []string          `yaml:"catalogs"`
	Presets            []string          `yaml:"presets"`
	Vars               map[string]string `yaml:"vars"`
	FailOnInconclusive bool              `yaml:"fail_on_inconclusive"`
}

type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	MaxReadConns  int    `yaml:"max_read_conns"`
	RetentionDays int    `yaml:"retention_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Secret     string        `yaml:"secret"`
	On         string        `yaml:"on"` // "always" or "failure"
	Timeout    time.Duration `yaml:"timeout"`
}

func Defaults() *Config {
	return &Config{
		Target: TargetConfig{
			Timeout:         10 * time.Second,
			FollowRedirects: true,
			RateLimitBurst:  1,
			UserAgent:       "apiprobe",
		},
		Run: RunConfig{
			FailOnInconclusive: true,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "apiprobe.db",
			MaxReadConns:  4,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "apiprobe",
		},
		Notify: NotifyConfig{
			On:      "always",
			Timeout: 10 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section. The target URL may still be empty here
// since the command line can supply it; see RequireTarget.
func (c *Config) Validate() error {
	if err := c.validateTarget(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := validateLogFormat(c.Logging.Format); err != nil {
		return err
	}
	return validateLogLevel(c.Logging.Level)
}

// RequireTarget fails unless a usable base URL is configured.
func (c *Config) RequireTarget() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url is required")
	}
	return c.validateTarget()
}

func (c *Config) validateTarget() error {
	if c.Target.BaseURL != "" {
		u, err := url.Parse(c.Target.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("target.base_url must be an absolute URL (e.g. http://localhost:8080)")
		}
	}
	if c.Target.Timeout <= 0 {
		return fmt.Errorf("target.timeout must be positive")
	}
	if c.Target.RateLimitPerSec < 0 {
		return fmt.Errorf("target.rate_limit_per_sec must not be negative")
	}
	if c.Target.RateLimitPerSec > 0 && c.Target.RateLimitBurst <= 0 {
		return fmt.Errorf("target.rate_limit_burst must be positive")
	}
	if c.Target.BearerToken != "" && (c.Target.BasicUser != "" || c.Target.BasicPass != "") {
		return fmt.Errorf("target.bearer_token and target.basic_user are mutually exclusive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxReadConns <= 0 {
		return fmt.Errorf("database.max_read_conns must be positive")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateNotify() error {
	switch c.Notify.On {
	case "", "always", "failure":
	default:
		return fmt.Errorf("notify.on must be one of: always, failure")
	}
	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notify.webhook_url must be an http(s) URL")
		}
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be positive")
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

func validateLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
}
