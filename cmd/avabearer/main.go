// Package main is the entry point for avabearer, a reverse proxy that
// admits only requests carrying a valid OAuth 2.0 bearer access token.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/avabearer/internal/config"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	watchConfig bool
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, flags)

	logger, err := observability.NewLogger(cfg.Observability.Logging.LogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting avabearer",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.String("upstream", cfg.Server.Upstream),
		observability.Int("routes", len(cfg.Routes)),
		observability.Bool("replay", cfg.Replay.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", observability.Error(err))
	}

	configPath := ""
	if flags.watchConfig {
		configPath = flags.configPath
	}
	if err := app.run(ctx, configPath); err != nil {
		logger.Fatal("avabearer stopped with error", observability.Error(err))
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AVABEARER_CONFIG_PATH", "configs/avabearer.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format override (json, console)")
	watchConfig := flag.Bool("watch-config", getEnvBool("AVABEARER_WATCH_CONFIG", true),
		"Reload route policies when the configuration file changes")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		watchConfig: *watchConfig,
		showVersion: *showVersion,
	}
}

// applyFlagOverrides lets explicit flags win over the file and environment.
func applyFlagOverrides(cfg *config.Config, flags cliFlags) {
	if flags.logLevel != "" {
		cfg.Observability.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Observability.Logging.Format = flags.logFormat
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("avabearer version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}
