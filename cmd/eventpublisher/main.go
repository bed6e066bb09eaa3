// Package main implements the eventpublisher command. It reads stream events,
// renders each one through the stream's mapping template and writes the
// result to the configured sink.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/eventpublisher/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "eventpublisher"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(os.Stderr, fs)
		return nil
	}

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(firstNonEmpty(cliCfg.LogLevel, cfg.Log.Level),
		firstNonEmpty(cliCfg.LogFormat, cfg.Log.Format), os.Stderr)
	slog.SetDefault(logger)
	logger.Info("Starting eventpublisher",
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"streams", len(cfg.Streams))
	logger.Debug("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cliCfg.Validate {
		return a.checkMappings(ctx, os.Stdout)
	}

	if err := a.buildPublishers(ctx); err != nil {
		_ = a.stopPublishers(cliCfg.ShutdownTimeout)
		return err
	}

	if err := a.run(ctx, os.Stdin, cliCfg.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("eventpublisher shutdown complete")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
