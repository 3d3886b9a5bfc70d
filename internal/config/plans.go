package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanSettings prices one purchasable plan.
type PlanSettings struct {
	Price       int64  `yaml:"price"`
	Credits     int64  `yaml:"credits"`
	Description string `yaml:"description"`
}

// PlansConfig maps plan names (Basic, Pro) to their pricing.
type PlansConfig struct {
	Currency string                   `yaml:"currency"`
	Plans    map[string]*PlanSettings `yaml:"plans"`
}

// LoadPlansConfigFromPath loads pricing from a YAML file.
func LoadPlansConfigFromPath(path string) (*PlansConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}

	var cfg PlansConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPlansConfig returns the built-in pricing.
func DefaultPlansConfig() *PlansConfig {
	return &PlansConfig{
		Currency: "INR",
		Plans: map[string]*PlanSettings{
			"Basic": {Price: 29, Credits: 500, Description: "500 image credits"},
			"Pro":   {Price: 49, Credits: 1000, Description: "1000 image credits"},
		},
	}
}

// Validate requires at least one plan and positive price and credits.
func (p *PlansConfig) Validate() error {
	if len(p.Plans) == 0 {
		return fmt.Errorf("at least one plan must be configured")
	}
	for name, settings := range p.Plans {
		if settings == nil {
			return fmt.Errorf("plan %s: settings are required", name)
		}
		if settings.Price <= 0 {
			return fmt.Errorf("plan %s: price must be positive", name)
		}
		if settings.Credits <= 0 {
			return fmt.Errorf("plan %s: credits must be positive", name)
		}
	}
	return nil
}

// Lookup finds a plan by name, case-insensitively.
func (p *PlansConfig) Lookup(name string) (string, PlanSettings, bool) {
	name = strings.TrimSpace(name)
	for key, settings := range p.Plans {
		if strings.EqualFold(key, name) && settings != nil {
			return key, *settings, true
		}
	}
	return "", PlanSettings{}, false
}
