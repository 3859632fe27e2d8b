package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

var (
	// ErrEngineUnavailable means the recognizer could not be loaded or has been shut down.
	ErrEngineUnavailable = errors.New("speech engine unavailable")
	// ErrDecodeTimeout means a decode did not return within its deadline.
	ErrDecodeTimeout = errors.New("decode timed out")
)

// Word is one recognised word. Confidence is in [0,1]; 0 means unknown.
type Word struct {
	Text       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
	Words      []Word
	// Final is the engine's own claim that the text will not change.
	Final bool
}

// Recognizer abstracts STT backends. Callers never invoke Transcribe concurrently.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
	Close() error
}

// New builds the recognizer selected by cfg.Mode, wrapped so that it is
// loaded on first use and released after cfg.UnloadAfterS idle seconds.
func New(cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	var load Loader
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		if _, err := NewExecRecognizer(cfg); err != nil {
			return nil, err
		}
		load = func() (Recognizer, error) { return NewExecRecognizer(cfg) }
	case "whisper":
		load = func() (Recognizer, error) { return NewWhisperRecognizer(cfg) }
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
	idle := time.Duration(cfg.UnloadAfterS) * time.Second
	return NewIdleUnloader(load, idle, logger), nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
