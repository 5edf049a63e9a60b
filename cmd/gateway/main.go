// Package main is the entry point of the route gateway.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags. Empty values leave the
// configuration file in charge.
type cliFlags struct {
	configPath    string
	logLevel      string
	logFormat     string
	listenAddress string
	adminAddress  string
	storeType     string
	seedFile      string
	watchSeed     bool
	showVersion   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	if flags.showVersion {
		printVersion(stdout)
		return 0
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting routegw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.String("store", cfg.Store.Type),
	)

	if err := runGateway(cfg, logger); err != nil {
		logger.Error("gateway failed", observability.Error(err))
		return 1
	}
	return 0
}

// parseFlags parses command line flags, falling back to GATEWAY_* variables.
func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("routegw", flag.ContinueOnError)

	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", ""),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console)")
	fs.StringVar(&f.listenAddress, "listen", getEnvOrDefault("GATEWAY_LISTEN_ADDRESS", ""),
		"Proxy listen address")
	fs.StringVar(&f.adminAddress, "admin-listen", getEnvOrDefault("GATEWAY_ADMIN_ADDRESS", ""),
		"Management API listen address")
	fs.StringVar(&f.storeType, "store", getEnvOrDefault("GATEWAY_STORE_TYPE", ""),
		"Route store (memory, redis, sqlite)")
	fs.StringVar(&f.seedFile, "seed", getEnvOrDefault("GATEWAY_SEED_FILE", ""),
		"Route seed file")
	fs.BoolVar(&f.watchSeed, "watch-seed", getEnvBool("GATEWAY_WATCH_SEED", false),
		"Reapply the seed file when it changes")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "routegw version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadConfig loads the file, if any, and applies flag overrides.
func loadConfig(f cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyOverrides(cfg, f)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, f cliFlags) {
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if f.listenAddress != "" {
		cfg.Server.Address = f.listenAddress
	}
	if f.adminAddress != "" {
		cfg.Admin.Address = f.adminAddress
	}
	if f.storeType != "" {
		cfg.Store.Type = f.storeType
	}
	if f.seedFile != "" {
		cfg.Store.SeedFile = f.seedFile
	}
	if f.watchSeed {
		cfg.Store.WatchSeedFile = true
	}
}

func initLogger(cfg *config.Config) (observability.Logger, error) {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}
	observability.SetGlobalLogger(logger)
	return logger, nil
}
