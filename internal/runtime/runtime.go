// Package runtime assembles the dictation daemon: telemetry, event sinks,
// the capture pipeline, activation and the local HTTP surface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/activation"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/resources"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

const pruneInterval = time.Hour

// Options carry process-level settings that are not part of the config file.
type Options struct {
	// ConfigPath is watched for changes when set.
	ConfigPath string
	// Level, when set, follows telemetry.log_level across reloads.
	Level *slog.LevelVar
}

type Runtime struct {
	cfg         config.Config
	opts        Options
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	monitor  *resources.Monitor
	engine   *stt.Engine
	ctrl     *session.Controller
	trigger  activation.Source
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Runtime {
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer func() {
		cancel()
		r.shutdown()
	}()

	sinks, err := r.startSinks(ctx)
	if err != nil {
		return err
	}
	if err := r.startPipeline(ctx, sinks); err != nil {
		return err
	}

	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           newHandler(r.ctrl, r.store, metricsHandler, r.ready.Load, r.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("http listening", slog.String("addr", addr))
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		// Sessions are logged and published by the controller.
		for range r.ctrl.Results() {
		}
	}()
	go func() {
		defer r.wg.Done()
		if err := r.ctrl.Run(r.trigger); err != nil {
			r.logger.Error("activation loop failed", slog.String("error", err.Error()))
		}
	}()

	if r.opts.ConfigPath != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := config.Watch(ctx, r.opts.ConfigPath, r.logger, r.reload); err != nil {
				r.logger.Warn("config watch disabled", slog.String("error", err.Error()))
			}
		}()
	}

	if r.store != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.pruneLoop(ctx)
		}()
	}

	if r.monitor != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.monitor.Run(ctx, func() bool { return r.ctrl.Status().State == session.Idle.String() })
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("actuator_mode", r.cfg.Actuator.Mode),
		slog.String("audio_source", r.cfg.Audio.Source),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startSinks(ctx context.Context) ([]session.Sink, error) {
	var sinks []session.Sink

	if r.cfg.EventStore.RetentionMode != "ephemeral" {
		store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		r.store = store
		sinks = append(sinks, store)
	}

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.embedded = embedded
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.bus = client
		sinks = append(sinks, client)
	}

	if r.cfg.Resources.Enabled {
		r.monitor = resources.New(r.cfg.Resources, r.logger)
		sinks = append(sinks, r.monitor)
	}
	return sinks, nil
}

func (r *Runtime) startPipeline(ctx context.Context, sinks []session.Sink) error {
	parts, err := buildPipeline(r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.engine = parts.Engine
	parts.Deps.Sinks = sinks

	ctrl, err := session.NewController(ctx, session.SettingsFrom(r.cfg), parts.Deps, r.logger)
	if err != nil {
		_ = r.engine.Close()
		return err
	}
	r.ctrl = ctrl
	r.trigger = buildActivation(r.cfg.Hotkey, r.logger)
	return nil
}

func (r *Runtime) reload(cfg config.Config) {
	if r.opts.Level != nil {
		r.opts.Level.Set(ParseLevel(cfg.Telemetry.LogLevel))
	}
	r.ctrl.Reconfigure(session.SettingsFrom(cfg))
	if cfg.Audio != r.cfg.Audio || cfg.STT.Mode != r.cfg.STT.Mode || cfg.STT.ModelPath != r.cfg.STT.ModelPath ||
		cfg.Actuator != r.cfg.Actuator || cfg.Hotkey != r.cfg.Hotkey || cfg.Bus.Enabled != r.cfg.Bus.Enabled {
		r.logger.Warn("audio, engine, actuator, hotkey and bus changes take effect after restart")
	}
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.trigger != nil {
		_ = r.trigger.Close()
	}
	if r.ctrl != nil {
		_ = r.ctrl.Close()
	}
	r.wg.Wait()
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			r.logger.Warn("speech engine close failed", slog.String("error", err.Error()))
		}
	}
	r.monitor.Close()
	r.bus.Close()
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// ParseLevel maps telemetry.log_level to a slog level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
