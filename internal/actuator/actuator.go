// Package actuator turns edit plans into keystrokes in the focused application.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/edit"
)

// ErrApplyFailed wraps every failure to deliver a plan.
var ErrApplyFailed = errors.New("edit plan not applied")

// PartialError reports a plan that failed after some of its backspaces
// reached the target application.
type PartialError struct {
	Deleted int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%v (after %d backspaces)", e.Err, e.Deleted)
}

func (e *PartialError) Unwrap() error { return e.Err }

// DeletedBeforeFailure returns how many clusters a failed Apply removed
// before it stopped.
func DeletedBeforeFailure(err error) int {
	var pe *PartialError
	if errors.As(err, &pe) {
		return pe.Deleted
	}
	return 0
}

func partial(deleted int, err error) error {
	if deleted == 0 {
		return err
	}
	return &PartialError{Deleted: deleted, Err: err}
}

// Actuator applies a plan to text already typed at the cursor. Text typed
// by earlier plans sits directly before the cursor.
type Actuator interface {
	Apply(ctx context.Context, plan edit.Plan) error
}

// Display servers recognised by DetectDisplay.
const (
	DisplayX11     = "x11"
	DisplayWayland = "wayland"
	DisplayUnknown = "unknown"
)

// DetectDisplay inspects XDG_SESSION_TYPE, then WAYLAND_DISPLAY, then DISPLAY.
func DetectDisplay(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	session := strings.ToLower(strings.TrimSpace(getenv("XDG_SESSION_TYPE")))
	switch {
	case strings.Contains(session, "wayland"):
		return DisplayWayland
	case strings.Contains(session, "x11"):
		return DisplayX11
	}
	if strings.TrimSpace(getenv("WAYLAND_DISPLAY")) != "" {
		return DisplayWayland
	}
	if strings.TrimSpace(getenv("DISPLAY")) != "" {
		return DisplayX11
	}
	return DisplayUnknown
}

// New builds the actuator selected by cfg.Mode.
func New(cfg config.ActuatorConfig, logger *slog.Logger) (Actuator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "actuator"))

	mode := cfg.Mode
	if mode == "auto" {
		switch display := DetectDisplay(nil); display {
		case DisplayWayland:
			mode = "wtype"
		case DisplayX11:
			mode = "xdotool"
		default:
			return nil, fmt.Errorf("could not detect display server; set actuator.mode explicitly")
		}
		logger.Info("display server detected", slog.String("mode", mode))
	}

	switch mode {
	case "xdotool", "wtype":
		return NewExec(presets[mode], cfg, logger)
	case "exec":
		return NewExec(Templates{Type: cfg.TypeCommand, Delete: cfg.DeleteCommand, Paste: cfg.PasteCommand}, cfg, logger)
	case "keybd":
		return NewKeybd(cfg, logger)
	case "log":
		return NewRecorder(&logWriter{logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown actuator mode %q", cfg.Mode)
	}
}

// suffixEdit reduces a plan to backspaces at the cursor followed by typed
// text. Only plans whose later ops retain nothing can be expressed this way.
func suffixEdit(plan edit.Plan) (deletes int, insert string, err error) {
	for i, op := range plan.Ops {
		if i > 0 && op.Retain > 0 {
			return 0, "", fmt.Errorf("%w: op %d needs cursor movement", ErrApplyFailed, i)
		}
		if op.Delete > 0 && insert != "" {
			return 0, "", fmt.Errorf("%w: op %d deletes after inserting", ErrApplyFailed, i)
		}
		deletes += op.Delete
		insert += op.Insert
	}
	return deletes, insert, nil
}

func charDelay(cfg config.ActuatorConfig) time.Duration {
	return time.Duration(cfg.CharDelayMS) * time.Millisecond
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Info("typed", slog.String("text", strings.TrimRight(string(p), "\n")))
	return len(p), nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
