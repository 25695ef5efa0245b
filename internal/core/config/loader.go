package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Service.TimeoutSeconds == 0 {
		cfg.Service.TimeoutSeconds = 30
	}
	if cfg.Rate.CallsPerWindow == 0 {
		cfg.Rate.CallsPerWindow = 30
	}
	if cfg.Rate.WindowSeconds == 0 {
		cfg.Rate.WindowSeconds = 60
	}
	if cfg.Rate.DefaultBackoffSeconds == 0 {
		cfg.Rate.DefaultBackoffSeconds = 60
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoffSeconds == 0 {
		cfg.Retry.InitialBackoffSeconds = 2
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}
	if cfg.Cache.TTLDays == 0 {
		cfg.Cache.TTLDays = 30
	}
	if len(cfg.Media.Kinds) == 0 {
		cfg.Media.Kinds = []string{"cover", "screenshot"}
	}
	if cfg.Media.Concurrency == 0 {
		cfg.Media.Concurrency = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
