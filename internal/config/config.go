package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/companion/internal/logger"
	"github.com/loykin/companion/internal/manager"
)

// EnvPrefix is prepended to every environment override, e.g. COMPANION_SHUTDOWN_TIMEOUT.
const EnvPrefix = "COMPANION"

// Config is the launcher's application configuration. Launch records live
// in a separate document referenced by Records.
type Config struct {
	Records  string         `mapstructure:"records"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Log      logger.Config  `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	History  HistoryConfig  `mapstructure:"history"`
}

type ShutdownConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	KillWait time.Duration `mapstructure:"kill_wait"`
	Parallel bool          `mapstructure:"parallel"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ServerConfig enables the HTTP surface when Listen is set.
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// HistoryConfig lists sink DSNs; see factory.NewSinkFromDSN for formats.
type HistoryConfig struct {
	DSN []string `mapstructure:"dsn"`
}

// DefaultRecordsPath is <user config dir>/companion/config.json, or
// companion.json in the working directory when no user config dir exists.
func DefaultRecordsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "companion.json"
	}
	return filepath.Join(dir, "companion", "config.json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("records", DefaultRecordsPath())
	v.SetDefault("shutdown.timeout", manager.DefaultStopTimeout)
	v.SetDefault("shutdown.kill_wait", manager.DefaultKillWait)
	v.SetDefault("shutdown.parallel", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("history.dsn", []string{})
}

// Load reads the config file at path (format by extension: toml, yaml,
// json) and applies COMPANION_* environment overrides on top. An empty path
// yields defaults plus environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges that viper cannot express.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Records) == "" {
		errs = append(errs, errors.New("records path must not be empty"))
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown.timeout must be positive, got %s", c.Shutdown.Timeout))
	}
	if c.Shutdown.KillWait <= 0 {
		errs = append(errs, fmt.Errorf("shutdown.kill_wait must be positive, got %s", c.Shutdown.KillWait))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ManagerOptions maps the shutdown section onto coordinator options.
func (c Config) ManagerOptions() manager.Options {
	return manager.Options{
		StopTimeout: c.Shutdown.Timeout,
		KillWait:    c.Shutdown.KillWait,
		Parallel:    c.Shutdown.Parallel,
	}
}
