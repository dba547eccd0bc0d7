// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Outpost-agent is the unprivileged front end of the outpost pair.
// It serves a local HTTP/JSON API, validates requests against the
// shared capability policy, and forwards them to the privileged
// worker over the gateway socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/outpost-labs/outpost/lib/agent"
	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/config"
	"github.com/outpost-labs/outpost/lib/gateway"
	"github.com/outpost-labs/outpost/lib/policy"
	"github.com/outpost-labs/outpost/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (defaults to $"+config.EnvVar+")")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("outpost-agent %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if cfg.Agent.ListenSocket == "" {
		return fmt.Errorf("agent.listen_socket is required")
	}

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return err
	}

	logger.Info("starting outpost-agent",
		"version", version.Info(),
		"listen", cfg.Agent.ListenSocket,
		"worker", cfg.Agent.WorkerSocket,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := gateway.Dial(ctx, cfg.Agent.WorkerSocket, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// The agent side never holds epoch state; power-operation replay
	// protection lives in the worker.
	validator := policy.NewValidator(pol, policy.NewRateLimiter(clock.Real()), nil)

	server := agent.NewServer(agent.ServerConfig{
		SocketPath:     cfg.Agent.ListenSocket,
		Worker:         client,
		Validator:      validator,
		RequestTimeout: cfg.Agent.RequestTimeout,
		Logger:         logger,
	})

	if err := server.Serve(ctx); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
