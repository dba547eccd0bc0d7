// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
policy_path: /etc/outpost/policy.yaml
worker:
  socket_path: /run/outpost/gateway.sock
  state_path: /var/lib/outpost/state.db
  release_root: /var/lib/outpost/releases
agent:
  listen_socket: /run/outpost/agent.sock
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outpost.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Worker.WatchdogPath != "/var/lib/outpost/releases/transition.json" {
		t.Errorf("watchdog path = %q", cfg.Worker.WatchdogPath)
	}
	if cfg.Agent.WorkerSocket != "/run/outpost/gateway.sock" {
		t.Errorf("agent worker socket = %q", cfg.Agent.WorkerSocket)
	}
	if cfg.Worker.DefaultDeadline != 30*time.Second {
		t.Errorf("default deadline = %v", cfg.Worker.DefaultDeadline)
	}
	if cfg.Worker.MaxConcurrent != 16 {
		t.Errorf("max concurrent = %d", cfg.Worker.MaxConcurrent)
	}
}

func TestLoadFileRejectsMissingRequiredFields(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
policy_path: /etc/outpost/policy.yaml
worker:
  socket_path: /run/outpost/gateway.sock
`))
	if err == nil || !strings.Contains(err.Error(), "state_path") {
		t.Fatalf("err = %v, want state_path complaint", err)
	}
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	_, err := LoadFile(writeConfig(t, minimalConfig+"\nsurprise: true\n"))
	if err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PolicyPath != "/etc/outpost/policy.yaml" {
		t.Errorf("policy path = %q", cfg.PolicyPath)
	}

	t.Setenv(EnvVar, "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without env var succeeded")
	}
}

func TestCaptureCommandRequiresContentType(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
policy_path: /etc/outpost/policy.yaml
worker:
  socket_path: /run/outpost/gateway.sock
  state_path: /var/lib/outpost/state.db
  release_root: /var/lib/outpost/releases
  capture_command: ["libcamera-still", "-o", "-"]
agent:
  listen_socket: /run/outpost/agent.sock
`))
	if err == nil || !strings.Contains(err.Error(), "capture_content_type") {
		t.Fatalf("err = %v, want capture_content_type complaint", err)
	}
}
