// triarbd is a triangular-arbitrage detection engine for a single spot
// exchange.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine            — orchestrator: wires registry -> chain graph -> ingestor -> evaluators -> dispatcher
//	internal/registry          — C1, interns assets/symbols from an exchange rules snapshot
//	internal/chaingraph        — C2, enumerates every closed 3-leg cycle over the configured base assets
//	internal/tickerstore       — C3, lock-free per-symbol order-book snapshot store
//	internal/ingest            — C4, WebSocket depth stream with auto-reconnect, decode/validate/publish
//	internal/eval              — C5, pure per-chain profitability evaluation (VWAP walk + backpropagation)
//	internal/dispatch          — C6, cool-down/dedup gate and order submission
//	internal/rulesprovider     — paginated REST fetch of the exchange's symbol rules
//	internal/obsserver         — /health, /metrics, /api/snapshot HTTP surface
//
// How it finds money: it walks every compiled 3-leg cycle (e.g.
// BTC->USDT->ETH->BTC) against live order-book depth, and flags any cycle
// where selling/buying through all three legs returns more of the entry
// asset than it started with, after fees.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"triarb/internal/config"
	"triarb/internal/engine"
	"triarb/internal/obsserver"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	obs := obsserver.New(cfg.Metrics, eng, logger)
	go func() {
		if err := obs.Start(); err != nil {
			logger.Error("observability server failed", "error", err)
		}
	}()

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if !cfg.SendOrders {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("triarbd started",
		"base_assets", cfg.Chains.BaseAssets,
		"depth_levels", cfg.Depth.Levels,
		"send_orders", cfg.SendOrders,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer shutdownCancel()
	if err := obs.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop observability server", "error", err)
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
