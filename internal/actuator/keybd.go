//go:build linux || windows

package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/edit"
	"github.com/micmonay/keybd_event"
)

// Keybd sends backspaces through a virtual keyboard and inserts text with a
// clipboard paste, which works for any script the keyboard layout lacks.
type Keybd struct {
	mu     sync.Mutex
	kb     keybd_event.KeyBonding
	delay  time.Duration
	clip   Clipboard
	logger *slog.Logger
}

func NewKeybd(cfg config.ActuatorConfig, logger *slog.Logger) (*Keybd, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("virtual keyboard: %w", err)
	}
	if runtime.GOOS == "linux" {
		// uinput devices need a moment before the compositor accepts events.
		time.Sleep(2 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keybd{kb: kb, delay: charDelay(cfg), clip: systemClipboard{}, logger: logger}, nil
}

func (k *Keybd) Apply(ctx context.Context, plan edit.Plan) error {
	deletes, insert, err := suffixEdit(plan)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	for i := 0; i < deletes; i++ {
		if err := ctx.Err(); err != nil {
			return partial(i, fmt.Errorf("%w: %v", ErrApplyFailed, err))
		}
		k.kb.Clear()
		k.kb.SetKeys(keybd_event.VK_BACKSPACE)
		if err := k.kb.Launching(); err != nil {
			return partial(i, fmt.Errorf("%w: backspace %d of %d: %v", ErrApplyFailed, i+1, deletes, err))
		}
		if k.delay > 0 {
			time.Sleep(k.delay)
		}
	}
	if insert == "" {
		return nil
	}
	err = pasteViaClipboard(k.clip, insert, func() error {
		k.kb.Clear()
		k.kb.HasCTRL(true)
		k.kb.SetKeys(keybd_event.VK_V)
		defer k.kb.HasCTRL(false)
		return k.kb.Launching()
	})
	if err != nil {
		return partial(deletes, fmt.Errorf("%w: %v", ErrApplyFailed, err))
	}
	return nil
}
