package runtime

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-dictate/internal/activation"
	"github.com/loqalabs/loqa-dictate/internal/activation/hotkey"
	"github.com/loqalabs/loqa-dictate/internal/actuator"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/audio/device"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

type pipeline struct {
	Engine *stt.Engine
	Deps   session.Deps
}

// buildPipeline creates the capture source, speech engine, actuator and
// notifier described by cfg. Sinks are left to the caller.
func buildPipeline(cfg config.Config, logger *slog.Logger) (pipeline, error) {
	src, err := buildSource(cfg)
	if err != nil {
		return pipeline{}, err
	}
	rec, err := stt.New(cfg.STT, logger)
	if err != nil {
		return pipeline{}, fmt.Errorf("speech engine: %w", err)
	}
	act, err := actuator.New(cfg.Actuator, logger)
	if err != nil {
		_ = rec.Close()
		return pipeline{}, fmt.Errorf("actuator: %w", err)
	}
	engine := stt.NewEngine(rec, logger)
	return pipeline{
		Engine: engine,
		Deps: session.Deps{
			Source:   src,
			Engine:   engine,
			Actuator: act,
			Notifier: notify.New(cfg.Notify, logger),
		},
	}, nil
}

func buildSource(cfg config.Config) (audio.Source, error) {
	switch cfg.Audio.Source {
	case "wav":
		src, err := audio.NewWAVSource(cfg.Audio.WAVPath, 20)
		if err != nil {
			return nil, err
		}
		src.Paced = true
		return src, nil
	case "portaudio", "":
		return device.NewPortAudio(cfg.Audio), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Audio.Source)
	}
}

// buildActivation prefers the global hotkey. Without one, presses come from
// lines on stdin; with the hotkey disabled only the HTTP endpoints trigger
// sessions.
func buildActivation(cfg config.HotkeyConfig, logger *slog.Logger) activation.Source {
	if !cfg.Enabled {
		logger.Info("hotkey disabled, sessions start over http only")
		return activation.NewManual(1)
	}
	src, err := hotkey.New(cfg, logger)
	if err == nil {
		return src
	}
	logger.Warn("global hotkey unavailable, reading press/release from stdin",
		slog.String("chord", cfg.Chord),
		slog.String("error", err.Error()),
	)
	return activation.NewToggle(os.Stdin)
}
