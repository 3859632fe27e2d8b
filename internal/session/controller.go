// Package session runs push-to-talk dictation sessions: capture, incremental
// decoding, reconciliation and keystroke emission for one press-hold-release
// cycle at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/activation"
	"github.com/loqalabs/loqa-dictate/internal/actuator"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/session"

// State is the controller state machine.
type State int32

const (
	Idle State = iota
	Capturing
	Reconciling
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Reconciling:
		return "reconciling"
	case Committing:
		return "committing"
	default:
		return "unknown"
	}
}

// Settings are the pipeline tunables read at the start of every session.
type Settings struct {
	Segmenter  config.SegmenterConfig
	STT        config.STTConfig
	Reconciler config.ReconcilerConfig
	Session    config.SessionConfig
}

func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		Segmenter:  cfg.Segmenter,
		STT:        cfg.STT,
		Reconciler: cfg.Reconciler,
		Session:    cfg.Session,
	}
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Source   audio.Source
	Engine   *stt.Engine
	Actuator actuator.Actuator
	// Classifier overrides the classifier built from the segmenter settings.
	Classifier vad.Classifier
	Notifier   notify.Notifier
	Sinks      []Sink
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	State     string   `json:"state"`
	SessionID string   `json:"session_id,omitempty"`
	Last      *Summary `json:"last,omitempty"`
}

// Summary describes the most recent finished session without its text.
type Summary struct {
	SessionID string    `json:"session_id"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Revision  uint64    `json:"revision"`
	Plans     int       `json:"plans"`
	Errors    []string  `json:"errors,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Controller owns the single active session.
type Controller struct {
	ctx     context.Context
	cancel  context.CancelFunc
	deps    Deps
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	events  *dispatcher
	results chan Result

	mu       sync.Mutex
	settings Settings
	active   *session
	last     *Summary
	closed   bool
	wg       sync.WaitGroup
}

func NewController(ctx context.Context, settings Settings, deps Deps, logger *slog.Logger) (*Controller, error) {
	if deps.Source == nil {
		return nil, errors.New("audio source is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("speech engine is required")
	}
	if deps.Actuator == nil {
		return nil, errors.New("actuator is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "session-controller"))

	queue := settings.Session.QueueSize
	if queue < 1 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		ctx:      ctx,
		cancel:   cancel,
		deps:     deps,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		events:   newDispatcher(deps.Sinks, 4*queue, logger),
		results:  make(chan Result, 16),
		settings: settings,
	}
	c.metrics = newMetrics(c.isActive, logger)
	return c, nil
}

// Results delivers every finished session, including sessions that failed to
// start. Results are dropped when nobody drains the channel. The channel is
// closed by Close.
func (c *Controller) Results() <-chan Result { return c.results }

// Reconfigure applies settings to the next session.
func (c *Controller) Reconfigure(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
	c.logger.Info("session settings updated")
}

// Press starts a session. A press while a session is active returns
// ErrSessionActive. A device that cannot be opened fails the press with a
// *Error of kind audio_device_unavailable and no session is started.
func (c *Controller) Press() (string, error) {
	c.mu.Lock()
	if c.closed || c.ctx.Err() != nil {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.active != nil {
		id := c.active.id
		c.mu.Unlock()
		c.logger.Warn("press rejected while session active", slog.String("session_id", id))
		return "", ErrSessionActive
	}
	s, err := newSession(c, c.settings)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.active = s
	c.wg.Add(1)
	c.mu.Unlock()

	if err := s.open(); err != nil {
		serr := &Error{Kind: KindAudioDeviceUnavailable, SessionID: s.id, Err: err}
		s.span.RecordError(serr)
		s.cancel()
		c.finish(s, Result{
			SessionID: s.id,
			Outcome:   OutcomeFailed,
			Errors:    []*Error{serr},
			StartedAt: s.started,
			EndedAt:   time.Now(),
		})
		c.wg.Done()
		return s.id, serr
	}

	go func() {
		defer c.wg.Done()
		res := s.run()
		c.finish(s, res)
	}()
	return s.id, nil
}

// Release ends capture for the active session. Released before the minimum
// hold, the session is abandoned without emitting anything.
func (c *Controller) Release() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	s.release()
	return nil
}

// Run drives sessions from src until src closes or the controller is closed.
// An active session is released when src closes.
func (c *Controller) Run(src activation.Source) error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case ev, ok := <-src.Events():
			if !ok {
				if err := c.Release(); err == nil {
					c.logger.Info("activation source closed, releasing session")
				}
				c.Wait()
				return nil
			}
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev activation.Event) {
	switch ev.Kind {
	case activation.Press:
		id, err := c.Press()
		switch {
		case err == nil:
			c.logger.Debug("session started", slog.String("session_id", id))
		case errors.Is(err, ErrSessionActive):
		default:
			c.logger.Error("session failed to start", slogError(err))
		}
	case activation.Release:
		if err := c.Release(); err != nil && !errors.Is(err, ErrNoSession) {
			c.logger.Warn("release failed", slogError(err))
		}
	}
}

// Wait blocks until no session is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Status reports the controller state and the last finished session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: Idle.String(), Last: c.last}
	if c.active != nil {
		st.State = c.active.currentState().String()
		st.SessionID = c.active.id
	}
	return st
}

func (c *Controller) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Close cancels any active session, abandoning in-flight decodes, and waits
// for it to finish. Text already typed stays.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.events.close()
	c.metrics.close()
	close(c.results)
	return nil
}

func (c *Controller) finish(s *session, res Result) {
	ctx := context.WithoutCancel(s.ctx)
	c.metrics.finished(ctx, res)

	ev := protocol.Event{
		Type:      protocol.EventSessionEnded,
		SessionID: res.SessionID,
		Timestamp: res.EndedAt.UTC(),
		Revision:  res.Transcript.Revision,
		Text:      res.Transcript.Text,
		Final:     res.Transcript.Final,
		Forced:    res.Transcript.Forced,
		Outcome:   string(res.Outcome),
		Reason:    res.Reason,
		Audio: &protocol.AudioStats{
			Chunks:       res.Audio.Chunks,
			SpeechChunks: res.Audio.SpeechChunks,
			PeakLevel:    res.Audio.PeakLevel,
			MeanLevel:    res.Audio.MeanLevel,
			DurationMS:   res.Audio.Audio.Milliseconds(),
		},
	}
	summary := &Summary{
		SessionID: res.SessionID,
		Outcome:   res.Outcome,
		Reason:    res.Reason,
		Revision:  res.Transcript.Revision,
		Plans:     res.Plans,
		EndedAt:   res.EndedAt,
	}
	for _, e := range res.Errors {
		summary.Errors = append(summary.Errors, string(e.Kind))
	}
	if err := res.Err(); err != nil {
		ev.ErrorKind = string(res.Errors[0].Kind)
		ev.Error = err.Error()
		s.span.RecordError(err)
		if nerr := c.deps.Notifier.Notify(notification(res)); nerr != nil {
			c.logger.Debug("notification failed", slogError(nerr))
		}
	}
	c.events.emit(ev)
	s.endSpan(res)

	attrs := []any{
		slog.String("session_id", res.SessionID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("reason", res.Reason),
		slog.Uint64("revision", res.Transcript.Revision),
		slog.Int("plans", res.Plans),
		slog.Duration("took", res.EndedAt.Sub(res.StartedAt)),
	}
	if err := res.Err(); err != nil {
		c.logger.Warn("session finished with errors", append(attrs, slogError(err))...)
	} else {
		c.logger.Info("session finished", attrs...)
	}
	c.logger.Debug("session transcript", slog.String("session_id", res.SessionID), slog.String("text", res.Transcript.Text))

	// The slot frees only after session.ended is queued, so the next
	// session.started cannot overtake it.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
	c.last = summary
	select {
	case c.results <- res:
	default:
		c.logger.Warn("session result dropped", slog.String("session_id", res.SessionID))
	}
}

func notification(res Result) string {
	kind := res.Errors[0].Kind
	switch kind {
	case KindEngineUnavailable:
		return "Speech engine unavailable; dictation stopped"
	case KindAudioDeviceUnavailable:
		return "Microphone unavailable"
	case KindDecodeTimeout:
		return "Transcription timed out; kept the last partial text"
	case KindActuatorFailure:
		return "Could not type the transcript into the focused window"
	default:
		return fmt.Sprintf("Dictation error: %s", kind)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
