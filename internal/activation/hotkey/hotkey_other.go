//go:build !linux && !windows

// Package hotkey binds a global key chord to push-to-talk activation.
package hotkey

import (
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/activation"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Global hotkeys need the main thread on macOS; use the terminal toggle there.
var errUnsupported = errors.New("global hotkeys are not supported on this platform")

type Source struct{}

func New(config.HotkeyConfig, *slog.Logger) (*Source, error) { return nil, errUnsupported }

func (*Source) Events() <-chan activation.Event { return nil }

func (*Source) Close() error { return nil }
