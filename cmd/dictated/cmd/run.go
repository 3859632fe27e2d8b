package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-dictate/internal/runtime"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dictation daemon",
	Long: `Runs the daemon in the foreground. Sessions start on the configured
hotkey, on lines typed to stdin when no hotkey is available, or through
POST /v1/press and /v1/release on the local HTTP endpoint.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, logger, level, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}

	rt := runtime.New(cfg, logger, runtime.Options{ConfigPath: cfgFile, Level: level})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
