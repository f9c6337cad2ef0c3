// Package config loads the engine configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk engine configuration.
type Config struct {
	// Registry is the path to the taxonomy definition file.
	Registry string `yaml:"registry"`
	// DB is the SQLite database path for the cross-reference graph.
	DB string `yaml:"db"`
	// Workers bounds the validation worker pool.
	Workers int `yaml:"workers"`
	// WarnWindowDays is how many days ahead of expiry an override counts
	// as expiring.
	WarnWindowDays int `yaml:"warn_window_days"`
	// ScriptsDir holds Risor scripts for custom rules.
	ScriptsDir string `yaml:"scripts_dir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Registry:       "govern.yaml",
		DB:             filepath.Join(".govern", "index.db"),
		Workers:        4,
		WarnWindowDays: 30,
		ScriptsDir:     filepath.Join(".govern", "rules"),
	}
}

// Load reads the config at path, filling unset fields from Default. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	if cfg.WarnWindowDays <= 0 {
		cfg.WarnWindowDays = Default().WarnWindowDays
	}
	return cfg, nil
}
