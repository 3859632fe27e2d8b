package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Segmenter.ChunkDurationMS != 1000 || cfg.STT.WindowMS != 30000 || cfg.Session.MinHoldMS != 100 {
		t.Fatalf("unexpected pipeline defaults %+v %+v %+v", cfg.Segmenter, cfg.STT, cfg.Session)
	}
	if cfg.Reconciler.LowConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected low confidence threshold %v", cfg.Reconciler.LowConfidenceThreshold)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.yaml")
	data := `
segmenter:
  chunk_duration_ms: 500
  vad_mode: webrtc
stt:
  mode: exec
  command: "whisper-cli -m model.bin -f {input}"
actuator:
  mode: log
hotkey:
  chord: "super+d"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Segmenter.ChunkDurationMS != 500 || cfg.Segmenter.VADMode != "webrtc" {
		t.Fatalf("segmenter not read: %+v", cfg.Segmenter)
	}
	if cfg.STT.Mode != "exec" || !strings.Contains(cfg.STT.Command, "{input}") {
		t.Fatalf("stt not read: %+v", cfg.STT)
	}
	if cfg.Actuator.Mode != "log" || cfg.Hotkey.Chord != "super+d" {
		t.Fatalf("unexpected actuator/hotkey %+v %+v", cfg.Actuator, cfg.Hotkey)
	}
	if cfg.Session.QueueSize != 64 {
		t.Fatalf("unset fields should keep defaults, got queue %d", cfg.Session.QueueSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DICTATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("DICTATE_BUS_USERNAME", "alice")
	t.Setenv("DICTATE_BUS_PASSWORD", "secret")
	t.Setenv("DICTATE_BUS_TLS_INSECURE", "true")
	t.Setenv("DICTATE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("DICTATE_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("DICTATE_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("DICTATE_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("DICTATE_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("DICTATE_EVENT_STORE_STORE_TEXT", "false")
	t.Setenv("DICTATE_SEGMENTER_CHUNK_DURATION_MS", "250")
	t.Setenv("DICTATE_SEGMENTER_VAD_THRESHOLD", "0.25")
	t.Setenv("DICTATE_SESSION_MIN_HOLD_MS", "300")
	t.Setenv("DICTATE_ACTUATOR_MODE", "wtype")
	t.Setenv("DICTATE_HOTKEY_CHORD", "ctrl+shift+d")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.EventStore.RetentionDays != 7 || cfg.EventStore.MaxSessions != 123 || cfg.EventStore.StoreText {
		t.Fatalf("expected event store retention overrides, got %+v", cfg.EventStore)
	}
	if cfg.Segmenter.ChunkDurationMS != 250 || cfg.Segmenter.VADThreshold != 0.25 {
		t.Fatalf("expected segmenter overrides, got %+v", cfg.Segmenter)
	}
	if cfg.Session.MinHoldMS != 300 {
		t.Fatalf("expected min hold override, got %d", cfg.Session.MinHoldMS)
	}
	if cfg.Actuator.Mode != "wtype" || cfg.Hotkey.Chord != "ctrl+shift+d" {
		t.Fatalf("expected actuator/hotkey overrides")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"chunk below minimum":   func(c *Config) { c.Segmenter.ChunkDurationMS = 50 },
		"threshold above one":   func(c *Config) { c.Segmenter.VADThreshold = 1.5 },
		"unknown vad":           func(c *Config) { c.Segmenter.VADMode = "neural" },
		"exec without command":  func(c *Config) { c.STT.Mode = "exec" },
		"whisper without model": func(c *Config) { c.STT.Mode = "whisper" },
		"window below chunk":    func(c *Config) { c.STT.WindowMS = 500 },
		"zero queue":            func(c *Config) { c.Session.QueueSize = 0 },
		"negative retries":      func(c *Config) { c.Session.ActuatorRetries = -1 },
		"unknown actuator":      func(c *Config) { c.Actuator.Mode = "telepathy" },
		"exec actuator":         func(c *Config) { c.Actuator.Mode = "exec" },
		"wav without path":      func(c *Config) { c.Audio.Source = "wav" },
		"empty chord":           func(c *Config) { c.Hotkey.Chord = " " },
		"bad log level":         func(c *Config) { c.Telemetry.LogLevel = "loud" },
		"bad retention":         func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"zero usage interval":   func(c *Config) { c.Resources.IntervalS = 0 },
		"negative rss budget":   func(c *Config) { c.Resources.IdleMaxRSSMB = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := validate(Default()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dictate.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("session:\n  min_hold_ms: 100\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Config, 4)
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { done <- Watch(ctx, path, logger, func(c Config) { changes <- c }) }()

	time.Sleep(100 * time.Millisecond)
	write("segmenter:\n  chunk_duration_ms: 50\n")
	write("session:\n  min_hold_ms: 250\n")

	select {
	case cfg := <-changes:
		if cfg.Session.MinHoldMS != 250 {
			t.Fatalf("expected reloaded min hold 250, got %d", cfg.Session.MinHoldMS)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
