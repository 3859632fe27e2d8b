package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loader constructs a recognizer, typically by loading a model from disk.
type Loader func() (Recognizer, error)

// IdleUnloader loads its recognizer on first use and closes it after a
// period without decodes, freeing model memory between dictation bursts.
type IdleUnloader struct {
	load   Loader
	idle   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	rec    Recognizer
	timer  *time.Timer
	busy   int
	loads  int
	closed bool
}

// NewIdleUnloader wraps load. An idle duration of zero keeps the recognizer loaded.
func NewIdleUnloader(load Loader, idle time.Duration, logger *slog.Logger) *IdleUnloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleUnloader{load: load, idle: idle, logger: logger.With(slog.String("component", "stt-loader"))}
}

func (u *IdleUnloader) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	rec, err := u.acquire()
	if err != nil {
		return TranscriptResult{}, err
	}
	defer u.release()
	return rec.Transcribe(ctx, pcm, sampleRate, channels, final)
}

// Warm loads the recognizer ahead of the first decode.
func (u *IdleUnloader) Warm() error {
	_, err := u.acquire()
	if err != nil {
		return err
	}
	u.release()
	return nil
}

// Loaded reports whether a recognizer is currently resident.
func (u *IdleUnloader) Loaded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rec != nil
}

// Loads counts how many times the recognizer has been constructed.
func (u *IdleUnloader) Loads() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.loads
}

func (u *IdleUnloader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	return u.unloadLocked()
}

func (u *IdleUnloader) acquire() (Recognizer, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrEngineUnavailable
	}
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	if u.rec == nil {
		start := time.Now()
		rec, err := u.load()
		if err != nil {
			if errors.Is(err, ErrEngineUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		u.rec = rec
		u.loads++
		u.logger.Info("speech engine loaded", slog.Duration("took", time.Since(start)))
	}
	u.busy++
	return u.rec, nil
}

func (u *IdleUnloader) release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.busy--
	if u.busy > 0 || u.idle <= 0 || u.closed {
		return
	}
	u.timer = time.AfterFunc(u.idle, u.unloadIdle)
}

func (u *IdleUnloader) unloadIdle() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.busy > 0 || u.rec == nil {
		return
	}
	u.timer = nil
	if err := u.unloadLocked(); err != nil {
		u.logger.Warn("failed to unload speech engine", slogError(err))
		return
	}
	u.logger.Info("speech engine unloaded after idle period", slog.Duration("idle", u.idle))
}

func (u *IdleUnloader) unloadLocked() error {
	if u.rec == nil {
		return nil
	}
	err := u.rec.Close()
	u.rec = nil
	return err
}
