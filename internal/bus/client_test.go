package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats-server/v2/server"
)

func TestPublishAndSubscribeThroughEmbeddedServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.BusConfig{
		Enabled:        true,
		Embedded:       true,
		Port:           server.RANDOM_PORT,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
		SubjectPrefix:  "test",
	}
	ns, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	cfg.Servers = []string{ns.ClientURL()}

	client, err := Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("client should be connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan protocol.Event, 1)
	go func() {
		_ = client.Subscribe(ctx, func(ev protocol.Event) { got <- ev })
	}()
	time.Sleep(100 * time.Millisecond)

	sent := protocol.Event{
		Type:      protocol.EventTranscriptRevision,
		SessionID: "s-1",
		Revision:  3,
		Text:      "hello world",
	}
	if err := client.Handle(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Type != sent.Type || ev.SessionID != "s-1" || ev.Revision != 3 || ev.Text != "hello world" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmbeddedDisabled(t *testing.T) {
	ns, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: false}, slog.Default())
	if err != nil || ns != nil {
		t.Fatalf("expected no server, got %v %v", ns, err)
	}
	ns.Shutdown()
}
