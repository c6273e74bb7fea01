package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/stone-age-io/fleetcheck/internal/device"
)

// Config is the fleetcheck configuration
type Config struct {
	Inventory InventoryConfig `mapstructure:"inventory"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// InventoryConfig selects where devices come from
type InventoryConfig struct {
	File     string                 `mapstructure:"file"`
	Consul   ConsulConfig           `mapstructure:"consul"`
	Defaults device.TransportConfig `mapstructure:"defaults"`
	Timeout  time.Duration          `mapstructure:"timeout"` // HTTP client timeout
}

// ConsulConfig reads device specs from a Consul KV prefix
type ConsulConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Prefix  string `mapstructure:"prefix"`
}

// CatalogConfig points at the check catalog
type CatalogConfig struct {
	File string `mapstructure:"file"`
}

// RunnerConfig controls execution
type RunnerConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	FileLimit    uint64 `mapstructure:"file_limit"`
	DisableCache bool   `mapstructure:"disable_cache"`
	IgnoreError  bool   `mapstructure:"ignore_error"`
}

// FiltersConfig holds the default run filters
type FiltersConfig struct {
	Devices         []string `mapstructure:"devices"`
	Checks          []string `mapstructure:"checks"`
	Tags            []string `mapstructure:"tags"`
	EstablishedOnly bool     `mapstructure:"established_only"`
}

// ScheduleConfig controls periodic runs in watch mode
type ScheduleConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// AuthConfig holds NATS authentication settings
type AuthConfig struct {
	Type      string `mapstructure:"type"` // none, token, userpass, creds
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	CredsFile string `mapstructure:"creds_file"`
}

// TLSConfig holds TLS settings
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ReportConfig controls where results go after a run
type ReportConfig struct {
	TextfilePath string `mapstructure:"textfile_path"` // empty disables the textfile
	Publish      bool   `mapstructure:"publish"`       // requires nats.enabled
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads the configuration file at path and applies environment overrides
// (FLEETCHECK_ prefix, "." replaced by "_")
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLEETCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// decodeHook converts duration strings and comma separated lists, the way
// values arrive from environment variables
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("inventory.timeout", 30*time.Second)
	v.SetDefault("inventory.consul.prefix", "fleetcheck/devices/")

	v.SetDefault("runner.concurrency", 50)
	v.SetDefault("runner.file_limit", 16384)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.interval", 15*time.Minute)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.subject_prefix", "fleetcheck")
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.drain_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

func validate(cfg *Config) error {
	// Inventory
	if cfg.Inventory.File == "" && !cfg.Inventory.Consul.Enabled {
		return fmt.Errorf("inventory.file is required unless inventory.consul is enabled")
	}
	if cfg.Inventory.File != "" && cfg.Inventory.Consul.Enabled {
		return fmt.Errorf("inventory.file and inventory.consul are mutually exclusive")
	}
	if cfg.Inventory.Consul.Enabled && cfg.Inventory.Consul.Prefix == "" {
		return fmt.Errorf("inventory.consul.prefix is required")
	}

	// Catalog
	if cfg.Catalog.File == "" {
		return fmt.Errorf("catalog.file is required")
	}

	// Runner
	if cfg.Runner.Concurrency < 1 {
		return fmt.Errorf("runner.concurrency must be at least 1")
	}
	if cfg.Runner.Concurrency > 10000 {
		return fmt.Errorf("runner.concurrency must not exceed 10000")
	}
	if cfg.Runner.FileLimit != 0 && cfg.Runner.FileLimit < 256 {
		return fmt.Errorf("runner.file_limit must be at least 256")
	}

	// Schedule
	if cfg.Schedule.Enabled && cfg.Schedule.Interval < 30*time.Second {
		return fmt.Errorf("schedule.interval must be at least 30 seconds")
	}

	// NATS
	if cfg.NATS.Enabled {
		if len(cfg.NATS.URLs) == 0 {
			return fmt.Errorf("at least one NATS URL is required")
		}
		if cfg.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats.subject_prefix is required")
		}
		if len(cfg.NATS.SubjectPrefix) > 50 {
			return fmt.Errorf("nats.subject_prefix must not exceed 50 characters")
		}
		if err := validateSubjectPrefix(cfg.NATS.SubjectPrefix); err != nil {
			return fmt.Errorf("invalid nats.subject_prefix: %w", err)
		}
		if err := validateAuth(&cfg.NATS.Auth); err != nil {
			return err
		}
		if cfg.NATS.TLS.Enabled {
			if err := validateTLS(&cfg.NATS.TLS); err != nil {
				return err
			}
		}
	}
	if cfg.Report.Publish && !cfg.NATS.Enabled {
		return fmt.Errorf("report.publish requires nats.enabled")
	}

	// Logging
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be: debug, info, warn, error)", cfg.Logging.Level)
	}
	if cfg.Logging.File == "" {
		return fmt.Errorf("logging.file is required")
	}

	return nil
}

func validateAuth(auth *AuthConfig) error {
	switch auth.Type {
	case "none":
	case "token":
		if auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if auth.Username == "" || auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	case "creds":
		if auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
		if _, err := os.Stat(auth.CredsFile); err != nil {
			return fmt.Errorf("creds file not found: %s", auth.CredsFile)
		}
	default:
		return fmt.Errorf("invalid auth type: %s (must be: none, token, userpass, creds)", auth.Type)
	}
	return nil
}

func validateTLS(tls *TLSConfig) error {
	if tls.CertFile != "" && tls.KeyFile == "" {
		return fmt.Errorf("key_file is required when cert_file is set")
	}
	if tls.KeyFile != "" && tls.CertFile == "" {
		return fmt.Errorf("cert_file is required when key_file is set")
	}
	if tls.CertFile != "" {
		if _, err := os.Stat(tls.CertFile); err != nil {
			return fmt.Errorf("certificate file not found: %s", tls.CertFile)
		}
		if _, err := os.Stat(tls.KeyFile); err != nil {
			return fmt.Errorf("key file not found: %s", tls.KeyFile)
		}
	}
	if tls.CAFile != "" {
		if _, err := os.Stat(tls.CAFile); err != nil {
			return fmt.Errorf("CA file not found: %s", tls.CAFile)
		}
	}
	return nil
}

var subjectTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateSubjectPrefix checks that prefix is a valid dotted NATS subject
// without wildcards
func validateSubjectPrefix(prefix string) error {
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("cannot start or end with a dot")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("consecutive dots not allowed")
	}
	for _, token := range strings.Split(prefix, ".") {
		if !subjectTokenPattern.MatchString(token) {
			return fmt.Errorf("contains invalid characters: %q", token)
		}
	}
	return nil
}
