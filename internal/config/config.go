// Package config handles loading and validating racestats configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// ErrMissingCredentials is returned by RequireCredentials when the remote API
// login is not configured.
var ErrMissingCredentials = errors.New("iracing username and password_token are required")

// Config is the top-level racestats configuration.
type Config struct {
	Listen        string               `yaml:"listen"`
	DBPath        string               `yaml:"db_path"`
	CacheDir      string               `yaml:"cache_dir"`
	ReferenceDir  string               `yaml:"reference_dir"`
	LogLevel      string               `yaml:"log_level"`
	LogFormat     string               `yaml:"log_format"`
	IRacing       IRacingConfig        `yaml:"iracing"`
	Sync          SyncConfig           `yaml:"sync"`
	API           APIConfig            `yaml:"api"`
	Notifications []NotificationConfig `yaml:"notifications"`
	Alerts        AlertsConfig         `yaml:"alerts"`
}

// IRacingConfig describes access to the remote data API.
type IRacingConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Username          string   `yaml:"username"`
	PasswordToken     string   `yaml:"password_token"` // see `racestats encode-password`
	Timeout           Duration `yaml:"timeout"`
	RateLimitBackoff  Duration `yaml:"rate_limit_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff"`
	MaxRetries        int      `yaml:"max_retries"` // 0 retries forever
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

// SyncConfig controls discovery, fetching and periodic sync in serve mode.
type SyncConfig struct {
	Concurrency        int      `yaml:"concurrency"`
	CheckpointEvery    int      `yaml:"checkpoint_every"`
	LastSeasonYear     int      `yaml:"last_season_year"`
	StrictDriverLookup bool     `yaml:"strict_driver_lookup"`
	Drivers            []string `yaml:"drivers"`
	Interval           Duration `yaml:"interval"`
	ReferenceInterval  Duration `yaml:"reference_interval"`
}

// APIConfig controls the HTTP query API.
type APIConfig struct {
	RateLimit int `yaml:"rate_limit"` // requests per minute per client IP, 0 disables
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "ntfy" or "webhook"
	URL     string            `yaml:"url"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Token   string            `yaml:"token,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Format  string            `yaml:"format,omitempty"`  // webhook only: "json" or "discord"
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// AlertsConfig overrides the serve-mode alert rules. Omitted rules keep
// their defaults.
type AlertsConfig struct {
	SyncFailing *AlertSyncFailing `yaml:"sync_failing,omitempty"`
	SyncStale   *AlertSyncStale   `yaml:"sync_stale,omitempty"`
}

type AlertSyncFailing struct {
	Threshold int      `yaml:"threshold"`
	Severity  string   `yaml:"severity"`
	Cooldown  Duration `yaml:"cooldown"`
}

type AlertSyncStale struct {
	MaxAge   Duration `yaml:"max_age"`
	Severity string   `yaml:"severity"`
	Cooldown Duration `yaml:"cooldown"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. If no path is given, defaults
// and environment variables are used alone. If a path is given and the file
// does not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable. Credentials are not
// checked here since offline commands do not need them; see
// RequireCredentials.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if c.ReferenceDir == "" {
		return fmt.Errorf("reference_dir is required")
	}

	if u, err := url.Parse(c.IRacing.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("iracing.base_url must be an absolute URL")
	}
	if c.IRacing.Timeout.Duration <= 0 {
		return fmt.Errorf("iracing.timeout must be > 0")
	}
	if c.IRacing.RateLimitBackoff.Duration <= 0 {
		return fmt.Errorf("iracing.rate_limit_backoff must be > 0")
	}
	if c.IRacing.MaxBackoff.Duration < c.IRacing.RateLimitBackoff.Duration {
		return fmt.Errorf("iracing.max_backoff must be >= rate_limit_backoff")
	}
	if c.IRacing.MaxRetries < 0 {
		return fmt.Errorf("iracing.max_retries must be >= 0")
	}
	if c.IRacing.RequestsPerSecond < 0 {
		return fmt.Errorf("iracing.requests_per_second must be >= 0")
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be >= 1")
	}
	if c.Sync.CheckpointEvery < 1 {
		return fmt.Errorf("sync.checkpoint_every must be >= 1")
	}
	if c.Sync.LastSeasonYear != 0 && c.Sync.LastSeasonYear < 2008 {
		return fmt.Errorf("sync.last_season_year must be >= 2008")
	}
	if len(c.Sync.Drivers) > 0 && c.Sync.Interval.Duration <= 0 {
		return fmt.Errorf("sync.interval must be > 0 when sync.drivers is set")
	}
	if c.Sync.ReferenceInterval.Duration <= 0 {
		return fmt.Errorf("sync.reference_interval must be > 0")
	}
	for i, d := range c.Sync.Drivers {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("sync.drivers[%d]: name is empty", i)
		}
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must be >= 0")
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
			if n.Format != "" && n.Format != "json" && n.Format != "discord" {
				return fmt.Errorf("notifications[%d]: format must be json or discord", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected ntfy or webhook)", i, n.Type)
		}
	}
	if a := c.Alerts.SyncFailing; a != nil {
		if a.Threshold < 1 {
			return fmt.Errorf("alerts.sync_failing: threshold must be >= 1")
		}
		if a.Cooldown.Duration < 0 {
			return fmt.Errorf("alerts.sync_failing: cooldown must be >= 0")
		}
	}
	if a := c.Alerts.SyncStale; a != nil {
		if a.MaxAge.Duration <= 0 {
			return fmt.Errorf("alerts.sync_stale: max_age must be > 0")
		}
		if a.Cooldown.Duration < 0 {
			return fmt.Errorf("alerts.sync_stale: cooldown must be >= 0")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	return nil
}

// RequireCredentials reports whether the remote API login is configured.
func (c *Config) RequireCredentials() error {
	if c.IRacing.Username == "" || c.IRacing.PasswordToken == "" {
		return ErrMissingCredentials
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Listen:       ":3800",
		DBPath:       "data/racestats.db",
		CacheDir:     "data/sessions",
		ReferenceDir: "data",
		LogLevel:     "info",
		LogFormat:    "text",
		IRacing: IRacingConfig{
			BaseURL:          "https://members-ng.iracing.com",
			Timeout:          Duration{60 * time.Second},
			RateLimitBackoff: Duration{5 * time.Second},
			MaxBackoff:       Duration{5 * time.Minute},
			MaxRetries:       10,
		},
		Sync: SyncConfig{
			Concurrency:       3,
			CheckpointEvery:   1000,
			Interval:          Duration{6 * time.Hour},
			ReferenceInterval: Duration{24 * time.Hour},
		},
		API: APIConfig{RateLimit: 120},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RACESTATS_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("RACESTATS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RACESTATS_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("RACESTATS_REFERENCE_DIR"); v != "" {
		cfg.ReferenceDir = v
	}
	if v := os.Getenv("RACESTATS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RACESTATS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	// Credential pair, under the names the sync tooling has always used.
	if v := os.Getenv("IRACING_USER"); v != "" {
		cfg.IRacing.Username = v
	}
	if v := os.Getenv("IRACING_TOKEN"); v != "" {
		cfg.IRacing.PasswordToken = v
	}

	if v := os.Getenv("RACESTATS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Concurrency = n
		}
	}
	if v := os.Getenv("RACESTATS_LAST_SEASON_YEAR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.LastSeasonYear = n
		}
	}
	if v := os.Getenv("RACESTATS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IRacing.MaxRetries = n
		}
	}

	// Comma-separated driver list, only if none configured in YAML.
	if len(cfg.Sync.Drivers) == 0 {
		if v := os.Getenv("RACESTATS_DRIVERS"); v != "" {
			for _, d := range strings.Split(v, ",") {
				if d = strings.TrimSpace(d); d != "" {
					cfg.Sync.Drivers = append(cfg.Sync.Drivers, d)
				}
			}
		}
	}

	// Single ntfy target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if ntfyURL := os.Getenv("RACESTATS_NTFY_URL"); ntfyURL != "" {
			topic := os.Getenv("RACESTATS_NTFY_TOPIC")
			if topic == "" {
				topic = "racestats"
			}
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:  "ntfy",
				URL:   ntfyURL,
				Topic: topic,
				Token: os.Getenv("RACESTATS_NTFY_TOKEN"),
			})
		}
	}
}
