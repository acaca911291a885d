// Package config loads lgworker configuration from file, environment, and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LGWORKER_WORKER_QUEUE_SIZE.
const EnvPrefix = "LGWORKER"

// Config is the full lgworker configuration.
type Config struct {
	Logging   logging.Config  `mapstructure:"logging"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Transport TransportConfig `mapstructure:"transport"`
}

// WorkerConfig tunes the dispatch worker.
type WorkerConfig struct {
	// QueueSize bounds the inbound request queue.
	QueueSize int `mapstructure:"queue_size"`

	// MaxConcurrentParses bounds parse operations in flight.
	MaxConcurrentParses int `mapstructure:"max_concurrent_parses"`

	// ImportExtension is the document extension used for import resolution.
	ImportExtension string `mapstructure:"import_extension"`
}

// DaemonConfig configures the gRPC daemon.
type DaemonConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is the per-operation token bucket applied by the daemon.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// JournalConfig configures the SQLite operation journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TransportConfig configures the stdio message stream.
type TransportConfig struct {
	// Codec is "json" (newline-delimited) or "cbor".
	Codec string `mapstructure:"codec"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Worker: WorkerConfig{
			QueueSize:           64,
			MaxConcurrentParses: 4,
			ImportExtension:     ".lg",
		},
		Daemon: DaemonConfig{
			Host: "127.0.0.1",
			Port: 50151,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 200,
				BurstSize:         400,
			},
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    filepath.Join(DefaultDataDir(), "journal.db"),
		},
		Transport: TransportConfig{
			Codec: "json",
		},
	}
}

// DefaultConfigDir returns the directory searched for config.yaml.
func DefaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "lgworker")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", "lgworker")
	}
	return "."
}

// DefaultDataDir returns the directory holding the journal database.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "lgworker")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", "lgworker")
	}
	return "."
}

// Load reads configuration with precedence flags > env > file > defaults.
// An empty path searches DefaultConfigDir and tolerates a missing file; an
// explicit path must exist. flags maps config keys such as "logging.level"
// to command-line flags.
func Load(path string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(DefaultConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if strings.TrimSpace(path) != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("worker.queue_size", cfg.Worker.QueueSize)
	v.SetDefault("worker.max_concurrent_parses", cfg.Worker.MaxConcurrentParses)
	v.SetDefault("worker.import_extension", cfg.Worker.ImportExtension)
	v.SetDefault("daemon.host", cfg.Daemon.Host)
	v.SetDefault("daemon.port", cfg.Daemon.Port)
	v.SetDefault("daemon.rate_limit.enabled", cfg.Daemon.RateLimit.Enabled)
	v.SetDefault("daemon.rate_limit.requests_per_second", cfg.Daemon.RateLimit.RequestsPerSecond)
	v.SetDefault("daemon.rate_limit.burst_size", cfg.Daemon.RateLimit.BurstSize)
	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("transport.codec", cfg.Transport.Codec)
}

// Validate checks the configuration for values the worker cannot run with.
func (c *Config) Validate() error {
	validation := &models.ValidationErrors{}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		validation.AddMessagef("logging.format", "unsupported log format %q", c.Logging.Format)
	}
	if c.Worker.QueueSize <= 0 {
		validation.AddMessage("worker.queue_size", "worker.queue_size must be positive")
	}
	if c.Worker.MaxConcurrentParses <= 0 {
		validation.AddMessage("worker.max_concurrent_parses", "worker.max_concurrent_parses must be positive")
	}
	if !strings.HasPrefix(c.Worker.ImportExtension, ".") {
		validation.AddMessagef("worker.import_extension", "import extension %q must start with a dot", c.Worker.ImportExtension)
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		validation.AddMessagef("daemon.port", "daemon.port %d is out of range", c.Daemon.Port)
	}
	if c.Daemon.RateLimit.Enabled {
		if c.Daemon.RateLimit.RequestsPerSecond <= 0 {
			validation.AddMessage("daemon.rate_limit.requests_per_second", "requests_per_second must be positive")
		}
		if c.Daemon.RateLimit.BurstSize <= 0 {
			validation.AddMessage("daemon.rate_limit.burst_size", "burst_size must be positive")
		}
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		validation.AddMessage("journal.path", "journal.path is required when the journal is enabled")
	}
	switch strings.ToLower(c.Transport.Codec) {
	case "json", "cbor":
	default:
		validation.AddMessagef("transport.codec", "unsupported codec %q", c.Transport.Codec)
	}

	return validation.Err()
}
