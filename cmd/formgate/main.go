// Package main is the entry point for formgate.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/formgate/internal/config"
	"github.com/vyrodovalexey/formgate/internal/observability"
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
	showVersion bool
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting formgate",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("formgate stopped with error", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseFlags parses command line flags. The config path defaults to
// FORMGATE_CONFIG; without either, configuration comes from the environment.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("formgate", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("FORMGATE_CONFIG"), "Path to YAML configuration file")
	showVersion := fs.Bool("version", false, "Show version information")
	_ = fs.Parse(args)

	return cliFlags{
		configPath:  *configPath,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("formgate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}
