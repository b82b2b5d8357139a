// Package main — cmd/tier1-agent/main.go
//
// tier1-agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/tier1-agent/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Build the engine (opens the checkpoint store, restores the latest
//     checkpoint if one exists).
//  4. Start Prometheus metrics server (127.0.0.1:9091).
//  5. Start the engine's shard pool, forwarder, feedback loop, and
//     checkpoint ticker.
//  6. Register SIGHUP handler for config hot-reload.
//  7. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all engine goroutines).
//  2. Wait for the engine to drain (max 10s).
//  3. Write a final checkpoint.
//  4. Close the checkpoint store.
//  5. Flush logger.
//  6. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/viacore/tier1-core/internal/config"
	"github.com/viacore/tier1-core/internal/engine"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/tier1-agent/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("tier1-agent %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := engine.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("tier1-agent starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	// ── Root context with cancellation ────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Build the engine ──────────────────────────────────────────────
	eng, err := engine.New(cfg, log)
	if err != nil {
		log.Fatal("engine initialisation failed", zap.Error(err))
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("engine close failed", zap.Error(err))
		}
	}()

	// ── Step 4: Prometheus metrics ────────────────────────────────────────────
	go func() {
		if err := eng.Metrics().ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 5: Run the engine ────────────────────────────────────────────────
	runDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(runDone)
	}()
	log.Info("engine started",
		zap.Int("shards", cfg.Shard.NumShards),
		zap.String("tier2_url", cfg.Forwarder.Tier2URL))

	// ── Step 6: SIGHUP hot-reload ──────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Float64("new_exploration_rate", newCfg.Ensemble.ExplorationRate))
			// Policy and ensemble tuning are pushed live via the policy
			// runtime rather than this file watch; destructive changes
			// (shard count, checkpoint path) require a restart.
		}
	}()

	// ── Step 7: Wait for shutdown signal ──────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownTimer := time.NewTimer(10 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-runDone:
		log.Info("engine drained")
	}

	log.Info("tier1-agent shutdown complete")
}
