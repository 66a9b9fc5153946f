package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/coordd/internal/logging"
)

const (
	envPrefix         = "COORDD_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration from an optional YAML file, then overrides
// with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (COORDD_COORDINATOR_MAX_ITERATIONS, ...)
//  2. YAML config file, when configPath is non-empty
//  3. Hardcoded defaults
//
// Environment variables are mapped by stripping the COORDD_ prefix,
// lowercasing, and splitting on the first underscore:
//
//	COORDD_COORDINATOR_MAX_ITERATIONS -> coordinator.max_iterations
//	COORDD_BACKEND_BASE_URL           -> backend.base_url
//	COORDD_LOGGING_LEVEL              -> logging.level
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// COORDD_BACKEND_BASE_URL -> backend.base_url
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// readConfigFile opens and reads the file, validating size on the open
// descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Coordinator.MaxIterations == 0 {
		cfg.Coordinator.MaxIterations = 25
	}
	if cfg.Coordinator.FinalizerAgent == "" {
		cfg.Coordinator.FinalizerAgent = "finalizer"
	}
	if cfg.Coordinator.RemediationAgent == "" {
		cfg.Coordinator.RemediationAgent = "reasoner"
	}
	if cfg.Coordinator.TesterAgent == "" {
		cfg.Coordinator.TesterAgent = "tester"
	}
	if cfg.Coordinator.ThresholdBuild == 0 {
		cfg.Coordinator.ThresholdBuild = 0.95
	}
	if cfg.Coordinator.ThresholdTest == 0 {
		cfg.Coordinator.ThresholdTest = 0.90
	}

	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendStub
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.Backend.RateLimit == 0 {
		cfg.Backend.RateLimit = 2
	}

	defaults := logging.NewDefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Format
	}
	if cfg.Logging.Stacktrace == "" {
		cfg.Logging.Stacktrace = defaults.Stacktrace
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = defaults.Fields
	}
}
