// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/outpost-labs/outpost/lib/wire"
)

// Policy is the full capability policy: one Rule per operation.
// Operations without a Rule are implicitly denied. Loaded once at
// startup and treated as read-only afterwards.
type Policy struct {
	rules map[string]Rule
}

// Rule is the per-operation capability policy entry.
type Rule struct {
	// MinTier is the minimum caller tier for this operation.
	MinTier wire.Tier

	// Power marks power-affecting operations (reboot, shutdown,
	// release activation, rollback). These require an epoch token.
	Power bool

	// Rate bounds invocations per caller over a sliding window. A
	// zero Max means unlimited.
	Rate RateLimit

	// Bounds declares the allowed parameter ranges.
	Bounds Bounds
}

// RateLimit is a sliding-window invocation cap.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Bounds declares parameter limits for an operation. Zero-value
// fields impose no constraint. The validator only understands the
// parameter vocabulary listed here; operations with richer parameters
// validate the remainder in their handlers.
type Bounds struct {
	// Pins lists the GPIO pin numbers the operation may touch.
	Pins []int

	// Buses lists the I2C bus numbers the operation may touch.
	Buses []int

	// AddressMin and AddressMax bound the I2C device address. Both
	// zero means unconstrained.
	AddressMin int
	AddressMax int

	// MaxBytes caps the byte count of a bus read or write payload.
	MaxBytes int

	// Services lists the systemd units the operation may control.
	Services []string
}

// Rule returns the policy entry for operation, if one exists.
func (p *Policy) Rule(operation string) (Rule, bool) {
	rule, ok := p.rules[operation]
	return rule, ok
}

// Operations returns the names of all operations with a policy entry.
func (p *Policy) Operations() []string {
	names := make([]string, 0, len(p.rules))
	for name := range p.rules {
		names = append(names, name)
	}
	return names
}

// fileRule is the YAML shape of one policy entry.
type fileRule struct {
	MinTier string `yaml:"min_tier"`
	Power   bool   `yaml:"power"`
	Rate    *struct {
		Max    int           `yaml:"max"`
		Window time.Duration `yaml:"window"`
	} `yaml:"rate"`
	Bounds *struct {
		Pins       []int    `yaml:"pins"`
		Buses      []int    `yaml:"buses"`
		AddressMin int      `yaml:"address_min"`
		AddressMax int      `yaml:"address_max"`
		MaxBytes   int      `yaml:"max_bytes"`
		Services   []string `yaml:"services"`
	} `yaml:"bounds"`
}

type policyFile struct {
	Operations map[string]fileRule `yaml:"operations"`
}

// Load reads and validates a policy file. There is no discovery and
// no fallback: the path comes from configuration, and a missing or
// malformed file is a startup error, not a degraded mode.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Policy from YAML bytes.
func Parse(data []byte) (*Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if len(file.Operations) == 0 {
		return nil, fmt.Errorf("policy file declares no operations")
	}

	rules := make(map[string]Rule, len(file.Operations))
	for name, raw := range file.Operations {
		tier, ok := wire.ParseTier(raw.MinTier)
		if !ok {
			return nil, fmt.Errorf("operation %q: unknown tier %q", name, raw.MinTier)
		}
		rule := Rule{MinTier: tier, Power: raw.Power}
		if raw.Rate != nil {
			if raw.Rate.Max < 0 {
				return nil, fmt.Errorf("operation %q: negative rate max", name)
			}
			if raw.Rate.Max > 0 && raw.Rate.Window <= 0 {
				return nil, fmt.Errorf("operation %q: rate max without a window", name)
			}
			rule.Rate = RateLimit{Max: raw.Rate.Max, Window: raw.Rate.Window}
		}
		if raw.Bounds != nil {
			if raw.Bounds.AddressMax < raw.Bounds.AddressMin {
				return nil, fmt.Errorf("operation %q: address_max below address_min", name)
			}
			rule.Bounds = Bounds{
				Pins:       raw.Bounds.Pins,
				Buses:      raw.Bounds.Buses,
				AddressMin: raw.Bounds.AddressMin,
				AddressMax: raw.Bounds.AddressMax,
				MaxBytes:   raw.Bounds.MaxBytes,
				Services:   raw.Bounds.Services,
			}
		}
		rules[name] = rule
	}
	return &Policy{rules: rules}, nil
}
