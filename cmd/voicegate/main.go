// Command voicegate is the main entry point for the voicegate voice-turn
// gateway: it bridges smart-glasses audio uploads to the agent-runtime chat
// protocol over a framed WebSocket connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glyphgate/voicegate/internal/app"
	"github.com/glyphgate/voicegate/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultsPath := flag.String("defaults", "", "path to an optional YAML defaults file applied over environment config")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.LoadFromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicegate: %v\n", err)
		return 1
	}

	if *defaultsPath != "" {
		cfg, err = config.LoadDefaults(*defaultsPath, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicegate: %v\n", err)
			return 1
		}
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	slog.Info("voicegate starting",
		"listen_host", cfg.Server.Host,
		"listen_port", cfg.Server.Port,
		"stt_provider", cfg.STTProvider,
		"rate_limit_per_minute", cfg.Server.RateLimitPerMinute,
	)

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
