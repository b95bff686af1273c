// Package config - integration configuration types
package config

import (
	"time"
)

// IntegrationsConfig holds configuration for external integrations.
type IntegrationsConfig struct {
	Enforcement EnforcementConfig `yaml:"enforcement"`
}

// EnforcementConfig holds the HTTP enforcement endpoint used by the
// SOAR dispatcher. When disabled, dispatched actions are logged only.
type EnforcementConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultIntegrationsConfig returns the default integration settings.
func DefaultIntegrationsConfig() IntegrationsConfig {
	return IntegrationsConfig{
		Enforcement: EnforcementConfig{
			Enabled: false,
			BaseURL: "http://localhost:9000",
			Timeout: 10 * time.Second,
		},
	}
}
