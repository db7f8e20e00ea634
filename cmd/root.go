package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"btk/orchestrator/internal/config"
	"btk/orchestrator/pkg/logger"
)

// Version is the current release version.
const Version = "0.1.0"

var (
	cfgFile string
	debug   bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Task orchestration service for automation backends",
	Long: `orchestrator coordinates tool-call tasks across a chain of execution
backends. Backends register over HTTP or a persistent WebSocket bridge;
tasks are admitted through a priority queue and fall back down the chain
when a backend fails.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log errors only")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig builds the effective configuration from file, environment and
// global flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if debug {
		cfg.Logging.Level = "debug"
	}
	if quiet {
		cfg.Logging.Level = "error"
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	logger.Init(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
