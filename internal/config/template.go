package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileTemplate mirrors Config with yaml tags for writing starter configs.
// mapstructure tags drive reading; this struct drives writing, so the two
// must stay aligned.
type fileTemplate struct {
	Worker struct {
		Command  string   `yaml:"command"`
		Args     []string `yaml:"args,omitempty"`
		TokenEnv string   `yaml:"token_env"`
	} `yaml:"worker"`
	Pool struct {
		Credentials   []string `yaml:"credentials"`
		AcquireBudget string   `yaml:"acquire_budget"`
	} `yaml:"pool"`
	Recursion struct {
		MaxDepth    int `yaml:"max_depth"`
		MaxPerDepth int `yaml:"max_per_depth"`
	} `yaml:"recursion"`
	Timeouts struct {
		Job   string `yaml:"job"`
		Batch string `yaml:"batch"`
	} `yaml:"timeouts"`
	Timing struct {
		Retention int    `yaml:"retention"`
		ExportDir string `yaml:"export_dir"`
	} `yaml:"timing"`
	Archive struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"archive"`
	DebugLog string `yaml:"debug_log,omitempty"`
}

// WriteDefault writes a starter config file with default values to path,
// creating parent directories as needed. It refuses to overwrite an
// existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	cfg := Default()
	var t fileTemplate
	t.Worker.Command = cfg.Worker.Command
	t.Worker.TokenEnv = cfg.Worker.TokenEnv
	t.Pool.Credentials = []string{"${RELAY_TOKEN_1}", "${RELAY_TOKEN_2}"}
	t.Pool.AcquireBudget = cfg.Pool.AcquireBudget.String()
	t.Recursion.MaxDepth = cfg.Recursion.MaxDepth
	t.Recursion.MaxPerDepth = cfg.Recursion.MaxPerDepth
	t.Timeouts.Job = cfg.Timeouts.Job.String()
	t.Timeouts.Batch = cfg.Timeouts.Batch.String()
	t.Timing.Retention = cfg.Timing.Retention
	t.Timing.ExportDir = cfg.Timing.ExportDir
	t.Archive.Enabled = cfg.Archive.Enabled

	raw, err := yaml.Marshal(&t)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
