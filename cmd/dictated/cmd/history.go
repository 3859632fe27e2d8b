package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show recent sessions or the events of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, _, err := loadConfig()
	if err != nil {
		printError("config", err)
		return err
	}
	if cfg.EventStore.RetentionMode == "ephemeral" {
		return fmt.Errorf("event store is ephemeral; no history is kept")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		printError("open event store", err)
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	if len(args) == 0 {
		sessions, err := store.ListSessions(ctx, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SESSION\tSTARTED\tDURATION\tOUTCOME\tREASON\tTEXT")
		for _, s := range sessions {
			duration := "-"
			if !s.EndedAt.IsZero() {
				duration = s.EndedAt.Sub(s.StartedAt).Round(10 * time.Millisecond).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.StartedAt.Local().Format(time.DateTime), duration, s.Outcome, s.Reason, s.Text)
		}
		return nil
	}

	if _, err := store.GetSession(ctx, args[0]); err != nil {
		return err
	}
	events, err := store.ListSessionEvents(ctx, args[0], 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIME\tEVENT\tREVISION\tDETAIL")
	for _, stored := range events {
		ev, err := stored.Decode()
		if err != nil {
			continue
		}
		detail := ev.Text
		switch {
		case ev.Edit != nil:
			detail = fmt.Sprintf("attempt %d: %s", ev.Edit.Attempt, ev.Edit.Plan)
		case ev.Error != "":
			detail = ev.ErrorKind + ": " + ev.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", stored.CreatedAt.Local().Format("15:04:05.000"), ev.Type, ev.Revision, detail)
	}
	return nil
}
