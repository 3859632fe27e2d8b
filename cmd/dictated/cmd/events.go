package cmd

import (
	"context"
	"encoding/json"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream pipeline events from the NATS bus as JSON lines",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfg, logger, _, err := loadConfig()
	if err != nil {
		printError("config", err)
		return err
	}
	if cfg.Bus.Embedded {
		cfg.Bus.Servers = []string{"nats://127.0.0.1:" + strconv.Itoa(cfg.Bus.Port)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		printError("connect", err)
		return err
	}
	defer client.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	return client.Subscribe(ctx, func(ev protocol.Event) {
		_ = enc.Encode(ev)
	})
}
