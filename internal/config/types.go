// Package config provides configuration loading for coordd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coordd/internal/logging"
)

// Backend kinds accepted by BackendConfig.Kind.
const (
	BackendStub = "stub"
	BackendHTTP = "http"
)

// Config is the root configuration for the coordination daemon.
type Config struct {
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Backend     BackendConfig     `koanf:"backend"`
	Logging     logging.Config    `koanf:"logging"`
}

// CoordinatorConfig controls the coordination loop.
type CoordinatorConfig struct {
	// MaxIterations bounds the loop. The session terminates with
	// MAX_ITERATIONS when exhausted.
	MaxIterations int `koanf:"max_iterations"`

	// FinalizerAgent receives control when a final decision requires commit.
	FinalizerAgent string `koanf:"finalizer_agent"`

	// RemediationAgent receives control on ROUTE_REASONER triage outcomes
	// and when a final decision rejects commit.
	RemediationAgent string `koanf:"remediation_agent"`

	// TesterAgent receives control on ROUTE_TESTER triage outcomes.
	TesterAgent string `koanf:"tester_agent"`

	ThresholdBuild float64 `koanf:"threshold_build"`
	ThresholdTest  float64 `koanf:"threshold_test"`
}

// BackendConfig selects and configures the decision backend.
type BackendConfig struct {
	Kind      string        `koanf:"kind"`
	BaseURL   string        `koanf:"base_url"`
	Model     string        `koanf:"model"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Coordinator.MaxIterations <= 0 {
		return fmt.Errorf("coordinator.max_iterations must be positive, got %d", c.Coordinator.MaxIterations)
	}
	if c.Coordinator.FinalizerAgent == "" {
		return fmt.Errorf("coordinator.finalizer_agent is required")
	}
	if c.Coordinator.RemediationAgent == "" {
		return fmt.Errorf("coordinator.remediation_agent is required")
	}
	if c.Coordinator.ThresholdBuild < 0 || c.Coordinator.ThresholdBuild > 1 {
		return fmt.Errorf("coordinator.threshold_build must be in [0,1], got %v", c.Coordinator.ThresholdBuild)
	}
	if c.Coordinator.ThresholdTest < 0 || c.Coordinator.ThresholdTest > 1 {
		return fmt.Errorf("coordinator.threshold_test must be in [0,1], got %v", c.Coordinator.ThresholdTest)
	}

	switch c.Backend.Kind {
	case BackendStub:
	case BackendHTTP:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required for http backend")
		}
		if c.Backend.Model == "" {
			return fmt.Errorf("backend.model is required for http backend")
		}
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendStub, BackendHTTP, c.Backend.Kind)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend.rate_limit must not be negative")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
