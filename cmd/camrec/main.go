// Command camrec captures frames from a camera, screen or test pattern and
// records them to video files or single snapshots on request of a
// measurement host.
//
// Usage:
//
//	camrec -config camrec.yaml
//
// The host drives recording through the variables served at /vars (HTTP and
// websocket). Metrics are exposed at /metrics, probes at /healthz and
// /readyz.
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

	"github.com/MrWong99/camrec/internal/app"
	"github.com/MrWong99/camrec/internal/config"
	"github.com/MrWong99/camrec/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "camrec.yaml", "path to the YAML configuration file")
	watch := flag.Duration("watch", 5*time.Second, "config reload poll interval; 0 disables reloading")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "camrec: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("camrec starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "camrec",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetricsHandler(telemetry.Handler()),
	}
	if *watch > 0 && fileExists(*configPath) {
		opts = append(opts, app.WithConfigPath(*configPath, *watch))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg, application)

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	} else {
		slog.Info("shutdown signal received, stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file yields the defaults so camrec runs
// out of the box against the test pattern.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return cfg, err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func printStartupSummary(cfg *config.Config, a *app.App) {
	sel := a.Selection()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         camrec: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Source", cfg.Capture.Source)
	printRow("Device", sel.Device.Name)
	printRow("Resolution", sel.Capability.String())
	printRow("Encoder", cfg.Recording.Encoder)
	printRow("Timestamps", cfg.Recording.Timestamp)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}
