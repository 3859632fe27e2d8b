package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-dictate/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	replayRealtime bool
	replayJSON     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.wav>",
	Short: "Run one session over a WAV file and print what would be typed",
	Long: `Replays a recording through the full pipeline with the configured
speech engine. Instead of typing, the text after every applied edit is
printed on its own line.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Feed audio at the recording's own pace")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print the session result as JSON at the end")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, _, err := loadConfig()
	if err != nil {
		printError("config", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runtime.Replay(ctx, cfg, runtime.ReplayOptions{
		Path:     args[0],
		Realtime: replayRealtime,
		Out:      cmd.OutOrStdout(),
	}, logger)
	if replayJSON && res.SessionID != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	}
	if err != nil {
		printError("replay", err)
		return err
	}
	fmt.Fprintf(os.Stderr, "%s (%s), %d revisions, %d edits\n", res.Outcome, res.Reason, res.Revisions, res.Plans)
	return nil
}
