//go:build linux || windows

// Package hotkey binds a global key chord to push-to-talk activation.
package hotkey

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/activation"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"golang.design/x/hotkey"
)

const repeatSettle = 40 * time.Millisecond

var keyTable = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "escape": hotkey.KeyEscape,
	"tab": hotkey.KeyTab, "delete": hotkey.KeyDelete,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD, "e": hotkey.KeyE,
	"f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH, "i": hotkey.KeyI, "j": hotkey.KeyJ,
	"k": hotkey.KeyK, "l": hotkey.KeyL, "m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO,
	"p": hotkey.KeyP, "q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX, "y": hotkey.KeyY,
	"z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}

// Source emits press and release for a registered global chord.
type Source struct {
	hk     *hotkey.Hotkey
	chord  Chord
	events chan activation.Event
	filter *edgeFilter
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

func New(cfg config.HotkeyConfig, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chord, err := ParseChord(cfg.Chord)
	if err != nil {
		return nil, err
	}
	mods := make([]hotkey.Modifier, 0, len(chord.Modifiers))
	for _, name := range chord.Modifiers {
		mod, ok := modifierTable[name]
		if !ok {
			return nil, fmt.Errorf("hotkey modifier %q not supported on this platform", name)
		}
		mods = append(mods, mod)
	}
	key, ok := keyTable[chord.Key]
	if !ok {
		return nil, fmt.Errorf("hotkey key %q not supported", chord.Key)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return nil, fmt.Errorf("register hotkey %s: %w", chord, err)
	}

	s := &Source{
		hk:     hk,
		chord:  chord,
		events: make(chan activation.Event, 8),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "hotkey")),
	}
	s.filter = newEdgeFilter(repeatSettle, s.send)
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("hotkey registered", slog.String("chord", chord.String()))
	return s, nil
}

func (s *Source) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.hk.Keydown():
			s.filter.down(time.Now())
		case <-s.hk.Keyup():
			s.filter.up(time.Now())
		}
	}
}

func (s *Source) send(ev activation.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.logger.Warn("activation event dropped", slog.String("kind", ev.Kind.String()))
	}
}

func (s *Source) Events() <-chan activation.Event { return s.events }

// Close unregisters the chord. A held key is reported as released first.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		s.filter.flush()
		close(s.done)
		s.wg.Wait()
		err = s.hk.Unregister()
		close(s.events)
	})
	return err
}
