// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Outpost-worker is the privileged half of the outpost pair. It owns
// the release store, the update state machine, and all hardware
// access, and serves the gateway socket the unprivileged agent
// forwards requests through.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outpost-labs/outpost/lib/audit"
	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/config"
	"github.com/outpost-labs/outpost/lib/gateway"
	"github.com/outpost-labs/outpost/lib/ops"
	"github.com/outpost-labs/outpost/lib/policy"
	"github.com/outpost-labs/outpost/lib/release"
	"github.com/outpost-labs/outpost/lib/router"
	"github.com/outpost-labs/outpost/lib/state"
	"github.com/outpost-labs/outpost/lib/supervise"
	"github.com/outpost-labs/outpost/lib/update"
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
		fmt.Printf("outpost-worker %s\n", version.Info())
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

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return err
	}

	logger.Info("starting outpost-worker",
		"version", version.Info(),
		"socket", cfg.Worker.SocketPath,
		"release_root", cfg.Worker.ReleaseRoot,
		"operations", len(pol.Operations()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := state.OpenPool(cfg.Worker.StatePath, 4, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	store, err := state.Open(ctx, pool)
	if err != nil {
		return err
	}

	clk := clock.Real()

	var restarter supervise.Restarter
	if cfg.Worker.AgentUnit != "" {
		restarter = &supervise.SystemdRestarter{Unit: cfg.Worker.AgentUnit}
	}
	prober := &supervise.HTTPProber{
		SocketPath: cfg.Agent.ListenSocket,
		Path:       "/healthz",
	}

	manager, err := release.NewManager(release.ManagerConfig{
		Root:      cfg.Worker.ReleaseRoot,
		Store:     store,
		Clock:     clk,
		Restarter: restarter,
		Prober:    prober,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	engine := update.New(manager, store,
		&update.DirFetcher{Dir: cfg.Worker.BundleDir},
		prober, clk, logger,
		update.Config{
			WatchdogPath:       cfg.Worker.WatchdogPath,
			ProbeSuccesses:     cfg.Worker.ProbeSuccesses,
			ProbeFailureBudget: cfg.Worker.ProbeFailureBudget,
			ProbeInterval:      cfg.Worker.ProbeInterval,
			FetchRetries:       cfg.Worker.FetchRetries,
		})
	if err := engine.Resume(ctx); err != nil {
		return fmt.Errorf("resuming update state: %w", err)
	}

	validator := policy.NewValidator(pol,
		policy.NewRateLimiter(clk),
		policy.NewEpochGuard(store))

	dispatcher := router.New(router.Config{
		Validator:       validator,
		Audit:           audit.NewStoreSink(store),
		DefaultDeadline: cfg.Worker.DefaultDeadline,
		Clock:           clk,
		Logger:          logger,
	})

	handlers := &ops.Handlers{
		Service:  ops.SystemdService{},
		Power:    ops.LinuxPower{},
		Releases: manager,
		Updates:  engine,
		Started:  time.Now(),
	}
	if cfg.Worker.GPIORoot != "" {
		handlers.GPIO = &ops.SysfsGPIO{Root: cfg.Worker.GPIORoot}
	}
	if cfg.Worker.I2CDevDir != "" {
		handlers.Bus = &ops.DevI2C{DevDir: cfg.Worker.I2CDevDir}
	}
	if len(cfg.Worker.CaptureCommand) > 0 {
		handlers.Camera = &ops.CommandCapture{
			Argv:        cfg.Worker.CaptureCommand,
			ContentType: cfg.Worker.CaptureContentType,
		}
	}
	handlers.RegisterAll(dispatcher)

	server := gateway.NewServer(gateway.ServerConfig{
		SocketPath: cfg.Worker.SocketPath,
		Peers: gateway.PeerPolicy{
			AllowedUIDs: cfg.Worker.AllowedUIDs,
			AllowedGIDs: cfg.Worker.AllowedGIDs,
		},
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		Logger:        logger,
	}, dispatcher)

	if err := server.Serve(ctx); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
