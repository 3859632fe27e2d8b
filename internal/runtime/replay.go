package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/actuator"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// ReplayOptions configure a single offline session over a WAV file.
type ReplayOptions struct {
	Path string
	// Realtime paces reads at the file's sample rate.
	Realtime bool
	// Out receives the emitted text after every applied plan.
	Out   io.Writer
	Sinks []session.Sink
}

// Replay runs one session over a WAV file with keystrokes recorded instead of
// typed. The session is pressed at the start and ends with the file.
func Replay(ctx context.Context, cfg config.Config, opts ReplayOptions, logger *slog.Logger) (session.Result, error) {
	src, err := audio.NewWAVSource(opts.Path, 20)
	if err != nil {
		return session.Result{}, err
	}
	src.Paced = opts.Realtime

	rec, err := stt.New(cfg.STT, logger)
	if err != nil {
		return session.Result{}, fmt.Errorf("speech engine: %w", err)
	}
	engine := stt.NewEngine(rec, logger)
	defer engine.Close()

	settings := session.SettingsFrom(cfg)
	// The file length bounds the session.
	settings.Session.MaxDurationS = 0
	ctrl, err := session.NewController(ctx, settings, session.Deps{
		Source:   src,
		Engine:   engine,
		Actuator: actuator.NewRecorder(opts.Out),
		Sinks:    opts.Sinks,
	}, logger)
	if err != nil {
		return session.Result{}, err
	}
	defer ctrl.Close()

	if _, err := ctrl.Press(); err != nil {
		return session.Result{}, err
	}
	select {
	case res := <-ctrl.Results():
		return res, res.Err()
	case <-ctx.Done():
		_ = ctrl.Close()
		if res, ok := <-ctrl.Results(); ok {
			return res, ctx.Err()
		}
		return session.Result{}, ctx.Err()
	}
}
