// Package notify shows desktop notifications for session failures.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Notifier surfaces a short message to the user.
type Notifier interface {
	Notify(message string) error
}

// New returns a desktop notifier, or Nop when notifications are disabled.
func New(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	title := cfg.Title
	if title == "" {
		title = "Dictation"
	}
	return &Desktop{title: title, logger: logger.With(slog.String("component", "notify"))}
}

// Desktop sends notifications through the platform notification service.
type Desktop struct {
	title  string
	logger *slog.Logger
}

func (d *Desktop) Notify(message string) error {
	if err := beeep.Notify(d.title, message, ""); err != nil {
		d.logger.Debug("desktop notification failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

type Nop struct{}

func (Nop) Notify(string) error { return nil }

// Recorder keeps messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Notify(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
