package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/runtime"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dictated",
	Short: "Push-to-talk dictation daemon",
	Long: `dictated captures speech while a hotkey is held, transcribes it
incrementally and types the evolving transcript into the focused window,
correcting earlier text in place as the recogniser revises it.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override telemetry.log_level")
}

// loadConfig reads the configuration and builds a JSON logger whose level
// can follow later reloads.
func loadConfig() (config.Config, *slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, logger, level, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Telemetry.LogLevel = logLevel
	}
	level.Set(runtime.ParseLevel(cfg.Telemetry.LogLevel))
	return cfg, logger, level, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
}
