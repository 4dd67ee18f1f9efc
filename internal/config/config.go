package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config is the full run configuration.
type Config struct {
	Source      string `mapstructure:"source"`
	Destination string `mapstructure:"destination"`
	Store       string `mapstructure:"store"`

	Depth                int      `mapstructure:"recursion_depth"`
	Discover             bool     `mapstructure:"discover"`
	DiscoveryParallelism int      `mapstructure:"discovery_parallelism"`
	Exclude              []string `mapstructure:"exclude"`
	FollowSymlinks       bool     `mapstructure:"follow_symlinks"`

	Threads      int           `mapstructure:"thread_count"`
	BatchSize    int           `mapstructure:"batch_size"`
	BlockingPool int           `mapstructure:"blocking_pool"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryErrored bool          `mapstructure:"retry_errored"`

	Runner    string   `mapstructure:"runner"`
	RsyncPath string   `mapstructure:"rsync_path"`
	RsyncArgs []string `mapstructure:"rsync_args"`

	Interactive     bool          `mapstructure:"interactive"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`
	Console    bool   `mapstructure:"console"` // also write to stderr
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // rotated files kept
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultThreads is the default worker count: CPU count x 4.
func DefaultThreads() int {
	return runtime.NumCPU() * 4
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	paths := GetPaths()

	v.SetDefault("store", paths.Store)
	v.SetDefault("recursion_depth", 4)
	v.SetDefault("discover", true)
	v.SetDefault("discovery_parallelism", 8)
	v.SetDefault("exclude", []string{})
	v.SetDefault("follow_symlinks", false)

	v.SetDefault("thread_count", DefaultThreads())
	v.SetDefault("batch_size", 10)
	v.SetDefault("blocking_pool", 0)
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("retry_errored", true)

	v.SetDefault("runner", "rsync")
	v.SetDefault("rsync_path", "rsync")
	v.SetDefault("rsync_args", []string{})

	v.SetDefault("interactive", false)
	v.SetDefault("refresh_interval", 5*time.Second)
	v.SetDefault("metrics_addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", paths.Log)
	v.SetDefault("log.console", true)
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// Load reads configuration into a Config.
// An empty file means "no config file"; a named file that is missing is an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.BlockingPool <= 0 {
		cfg.BlockingPool = cfg.Threads
	}
	return &cfg, nil
}

// Validate checks the fields a transfer run depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if c.Destination == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if c.Depth < 0 {
		errs = append(errs, fmt.Errorf("recursion_depth must be >= 0, got %d", c.Depth))
	}
	if c.Threads <= 0 {
		errs = append(errs, fmt.Errorf("thread_count must be > 0, got %d", c.Threads))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be > 0, got %s", c.PollInterval))
	}
	switch c.Runner {
	case "rsync", "null":
	default:
		errs = append(errs, fmt.Errorf("unknown runner %q (want rsync or null)", c.Runner))
	}
	return errors.Join(errs...)
}

// Normalize resolves source, destination and store to absolute, cleaned paths.
func (c *Config) Normalize() error {
	for _, p := range []*string{&c.Source, &c.Destination, &c.Store} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}
