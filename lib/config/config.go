// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that selects the config file
// when no --config flag is given.
const EnvVar = "OUTPOST_CONFIG"

// Config is the full configuration for both outpost processes. The
// worker and the agent read the same file; each uses its own section
// plus the shared ones.
type Config struct {
	// PolicyPath locates the capability policy file. Required.
	PolicyPath string `yaml:"policy_path"`

	Worker WorkerConfig `yaml:"worker"`
	Agent  AgentConfig  `yaml:"agent"`
}

// WorkerConfig configures the privileged worker process.
type WorkerConfig struct {
	// SocketPath is the gateway Unix socket. Required.
	SocketPath string `yaml:"socket_path"`

	// StatePath is the sqlite state database file. Required.
	StatePath string `yaml:"state_path"`

	// ReleaseRoot is the release store directory. Required.
	ReleaseRoot string `yaml:"release_root"`

	// BundleDir is the local drop directory update bundles arrive in.
	BundleDir string `yaml:"bundle_dir"`

	// WatchdogPath is the activation transition-state file. Defaults
	// to <release_root>/transition.json.
	WatchdogPath string `yaml:"watchdog_path"`

	// AllowedUIDs and AllowedGIDs extend who may connect to the
	// gateway socket beyond root and the worker's own user.
	AllowedUIDs []uint32 `yaml:"allowed_uids"`
	AllowedGIDs []uint32 `yaml:"allowed_gids"`

	// MaxConcurrent bounds concurrently running handlers.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DefaultDeadline applies to requests without their own deadline.
	DefaultDeadline time.Duration `yaml:"default_deadline"`

	// AgentUnit is the systemd unit restarted during activation.
	// Empty disables the restart (pointer swap only).
	AgentUnit string `yaml:"agent_unit"`

	// ProbeSuccesses, ProbeFailureBudget, and ProbeInterval tune the
	// post-activation verification phase.
	ProbeSuccesses     int           `yaml:"probe_successes"`
	ProbeFailureBudget int           `yaml:"probe_failure_budget"`
	ProbeInterval      time.Duration `yaml:"probe_interval"`

	// FetchRetries bounds bundle download retries.
	FetchRetries uint64 `yaml:"fetch_retries"`

	// GPIORoot and I2CDevDir locate the hardware interfaces. Empty
	// disables the corresponding operations.
	GPIORoot  string `yaml:"gpio_root"`
	I2CDevDir string `yaml:"i2c_dev_dir"`

	// CaptureCommand is the still-capture argv; CaptureContentType
	// describes its output. Empty disables camera.capture.
	CaptureCommand     []string `yaml:"capture_command"`
	CaptureContentType string   `yaml:"capture_content_type"`
}

// AgentConfig configures the unprivileged front-end process.
type AgentConfig struct {
	// ListenSocket is the Unix socket the agent's HTTP surface
	// listens on. Required for the agent.
	ListenSocket string `yaml:"listen_socket"`

	// WorkerSocket is the worker's gateway socket to dial. Defaults
	// to worker.socket_path.
	WorkerSocket string `yaml:"worker_socket"`

	// RequestTimeout bounds one forwarded request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Load reads the config file named by the OUTPOST_CONFIG environment
// variable. Fails if the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set and no --config flag given", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads and validates the config file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Worker.WatchdogPath == "" && c.Worker.ReleaseRoot != "" {
		c.Worker.WatchdogPath = c.Worker.ReleaseRoot + "/transition.json"
	}
	if c.Worker.MaxConcurrent <= 0 {
		c.Worker.MaxConcurrent = 16
	}
	if c.Worker.DefaultDeadline <= 0 {
		c.Worker.DefaultDeadline = 30 * time.Second
	}
	if c.Agent.WorkerSocket == "" {
		c.Agent.WorkerSocket = c.Worker.SocketPath
	}
	if c.Agent.RequestTimeout <= 0 {
		c.Agent.RequestTimeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	if c.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}
	if c.Worker.SocketPath == "" {
		return fmt.Errorf("worker.socket_path is required")
	}
	if c.Worker.StatePath == "" {
		return fmt.Errorf("worker.state_path is required")
	}
	if c.Worker.ReleaseRoot == "" {
		return fmt.Errorf("worker.release_root is required")
	}
	if len(c.Worker.CaptureCommand) > 0 && c.Worker.CaptureContentType == "" {
		return fmt.Errorf("worker.capture_content_type is required when capture_command is set")
	}
	return nil
}
