//go:build !whisper_cpp

package stt

import (
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// NewWhisperRecognizer is unavailable unless built with -tags whisper_cpp.
func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	return nil, fmt.Errorf("%w: binary built without whisper_cpp tag (model %s)", ErrEngineUnavailable, cfg.ModelPath)
}
