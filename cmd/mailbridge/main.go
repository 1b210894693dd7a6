// Package main is the entry point for the mailbridge gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailbridge/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (required)")
	check := flag.Bool("check", false, "validate the configuration and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json or text")
	flag.Parse()

	setupLogger(*logLevel, *logFormat)

	if *configPath == "" {
		slog.Error("a configuration file is required, pass -config")
		os.Exit(2)
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	listeners, err := config.Assemble(cfg, slog.Default())
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if *check {
		fmt.Printf("configuration OK: %d connector(s), %d mapping(s), %d listener(s)\n",
			len(cfg.Connectors), len(cfg.Mappings), len(listeners))
		return
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	slog.Info("starting mailbridge", "listeners", len(listeners))

	// Run all listeners; the first fatal error stops the process.
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			return l.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("listener error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailbridge stopped")
}

// setupLogger configures the global slog logger with the requested
// output format and level.
func setupLogger(level, format string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
