// Package config handles configuration loading for relay.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/relay/internal/worker"
)

// Config holds all configuration for relay.
type Config struct {
	Worker    WorkerConfig    `mapstructure:"worker"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Recursion RecursionConfig `mapstructure:"recursion"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DebugLog  string          `mapstructure:"debug_log"`
}

// WorkerConfig holds worker CLI settings.
type WorkerConfig struct {
	// Command is the worker binary to spawn for each job.
	Command string `mapstructure:"command"`
	// Args are fixed arguments prepended to every invocation.
	Args []string `mapstructure:"args"`
	// TokenEnv is the environment variable carrying the credential.
	TokenEnv string `mapstructure:"token_env"`
}

// PoolConfig holds token pool settings.
type PoolConfig struct {
	// Credentials is the fixed set of worker credentials, one token each.
	Credentials []string `mapstructure:"credentials"`
	// AcquireBudget is how long a queued job waits for a token before
	// failing with pool exhaustion. Zero waits indefinitely.
	AcquireBudget time.Duration `mapstructure:"acquire_budget"`
}

// RecursionConfig holds recursion guard settings.
type RecursionConfig struct {
	// MaxDepth is the deepest tier a job may run at.
	MaxDepth int `mapstructure:"max_depth"`
	// MaxPerDepth bounds concurrent jobs at any single tier; 0 is unlimited.
	MaxPerDepth int `mapstructure:"max_per_depth"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	// Job is the per-job budget before the worker is force-terminated.
	Job time.Duration `mapstructure:"job"`
	// Batch bounds how long the CLI waits for a whole batch.
	Batch time.Duration `mapstructure:"batch"`
}

// TimingConfig holds event collection settings.
type TimingConfig struct {
	// Retention caps the in-memory event log; 0 keeps everything.
	Retention int `mapstructure:"retention"`
	// ExportDir is where events.json, report.json and timeline.txt land.
	ExportDir string `mapstructure:"export_dir"`
}

// ArchiveConfig holds run archive settings.
type ArchiveConfig struct {
	// Enabled toggles archiving runs to SQLite.
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the default database location.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (RELAY_CREDENTIALS, RELAY_WORKER_COMMAND)
// 2. Project config (.relay.yaml in current directory or parent)
// 3. User config (~/.config/relay/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("worker.command", "RELAY_WORKER_COMMAND")
	v.BindEnv("worker.token_env", "RELAY_TOKEN_ENV")
	v.BindEnv("archive.path", "RELAY_ARCHIVE_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// RELAY_CREDENTIALS is a comma-separated list; it replaces the
	// configured pool entirely so stale file credentials cannot leak in.
	if env := os.Getenv("RELAY_CREDENTIALS"); env != "" {
		cfg.Pool.Credentials = splitCredentials(env)
	}
	for i, cred := range cfg.Pool.Credentials {
		cfg.Pool.Credentials[i] = os.ExpandEnv(cred)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	for i, cred := range cfg.Pool.Credentials {
		cfg.Pool.Credentials[i] = os.ExpandEnv(cred)
	}

	return cfg, nil
}

// Validate checks the configuration for values the orchestrator cannot run
// with.
func (c *Config) Validate() error {
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must be set")
	}
	if len(c.Pool.Credentials) == 0 {
		return fmt.Errorf("pool.credentials must contain at least one credential (or set RELAY_CREDENTIALS)")
	}
	if c.Recursion.MaxDepth < 0 {
		return fmt.Errorf("recursion.max_depth must be >= 0")
	}
	if c.Timeouts.Job <= 0 {
		return fmt.Errorf("timeouts.job must be positive")
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.command", "claude")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.token_env", worker.DefaultTokenEnv)

	v.SetDefault("pool.credentials", []string{})
	v.SetDefault("pool.acquire_budget", "2m")

	v.SetDefault("recursion.max_depth", 2)
	v.SetDefault("recursion.max_per_depth", 0)

	v.SetDefault("timeouts.job", "10m")
	v.SetDefault("timeouts.batch", "30m")

	v.SetDefault("timing.retention", 0)
	v.SetDefault("timing.export_dir", ".relay/runs")

	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.path", "")

	v.SetDefault("debug_log", "")
}

// getUserConfigDir returns the XDG config directory for relay.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "relay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "relay")
	}
	return filepath.Join(home, ".config", "relay")
}

// findProjectConfig searches for .relay.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".relay.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// splitCredentials parses a comma-separated credential list, dropping blanks.
func splitCredentials(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Command:  "claude",
			TokenEnv: worker.DefaultTokenEnv,
		},
		Pool: PoolConfig{
			AcquireBudget: 2 * time.Minute,
		},
		Recursion: RecursionConfig{
			MaxDepth:    2,
			MaxPerDepth: 0,
		},
		Timeouts: TimeoutsConfig{
			Job:   10 * time.Minute,
			Batch: 30 * time.Minute,
		},
		Timing: TimingConfig{
			ExportDir: ".relay/runs",
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
	}
}
