package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/actuator"
	"github.com/loqalabs/loqa-dictate/internal/edit"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/segment"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/transcript"
	"github.com/loqalabs/loqa-dictate/internal/vad"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// session is one press-hold-release cycle. The decode goroutine owns the
// adapter and reconciler; the emitter goroutine owns the emitted text.
type session struct {
	id       string
	c        *Controller
	settings Settings
	logger   *slog.Logger
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	seg     *segment.Segmenter
	adapter *stt.Adapter
	rec     *transcript.Reconciler
	slot    *latestSlot

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	armed    chan struct{}

	mu        sync.Mutex
	isArmed   bool
	debounced bool
	fatal     bool
	reason    string
	errs      []*Error

	// decode goroutine
	revisions int

	// emitter goroutine
	emitted     string
	plans       int
	lastApplied uint64
}

func newSession(c *Controller, settings Settings) (*session, error) {
	format := c.deps.Source.Format()
	clf := c.deps.Classifier
	if clf == nil {
		var err error
		if clf, err = vad.New(settings.Segmenter, format.SampleRate); err != nil {
			return nil, err
		}
	}
	id := uuid.NewString()
	logger := c.logger.With(slog.String("session_id", id))
	seg, err := segment.New(c.deps.Source, clf, settings.Segmenter, logger)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(c.ctx, "dictation.session", trace.WithAttributes(
		attribute.String("session.id", id),
	))
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		id:       id,
		c:        c,
		settings: settings,
		logger:   logger,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		span:     span,
		seg:      seg,
		adapter:  stt.NewAdapter(c.deps.Engine, settings.STT, format, logger),
		rec:      transcript.New(settings.Reconciler, logger),
		slot:     newLatestSlot(),
		stop:     make(chan struct{}),
		armed:    make(chan struct{}),
	}, nil
}

func (s *session) open() error {
	return s.seg.Open(s.ctx)
}

func (s *session) currentState() State { return State(s.state.Load()) }

func (s *session) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.logger.Debug("session state", slog.String("from", prev.String()), slog.String("to", st.String()))
	}
}

// run executes the pipeline after the device has been opened.
func (s *session) run() Result {
	defer s.cancel()
	s.setState(Capturing)
	s.rec.Begin()
	s.adapter.Reset()
	s.c.events.emit(protocol.Event{Type: protocol.EventSessionStarted, SessionID: s.id, Timestamp: s.started.UTC()})
	s.logger.Info("session started")

	armTimer := time.AfterFunc(time.Duration(s.settings.Session.MinHoldMS)*time.Millisecond, s.arm)
	defer armTimer.Stop()
	if limit := time.Duration(s.settings.Session.MaxDurationS) * time.Second; limit > 0 {
		maxTimer := time.AfterFunc(limit, func() {
			s.logger.Info("maximum recording duration reached", slog.Duration("limit", limit))
			s.requestStop(ReasonMaxDuration)
		})
		defer maxTimer.Stop()
	}

	queue := s.settings.Session.QueueSize
	if queue < 1 {
		queue = 1
	}
	chunks := make(chan segment.Chunk, queue)
	captureErr := make(chan error, 1)
	go func() {
		captureErr <- s.seg.Run(s.ctx, s.stop, chunks)
	}()

	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		s.emitLoop()
	}()

	s.decodeLoop(chunks)
	s.slot.close()
	<-emitDone

	if err := <-captureErr; err != nil && !errors.Is(err, context.Canceled) {
		s.record(KindAudioDeviceUnavailable, err)
	}
	s.requestStop(ReasonEndOfStream)

	res := Result{
		SessionID:  s.id,
		Transcript: s.rec.End(),
		Emitted:    s.emitted,
		Plans:      s.plans,
		Revisions:  s.revisions,
		Audio:      s.seg.Stats(),
		StartedAt:  s.started,
		EndedAt:    time.Now(),
	}
	s.mu.Lock()
	res.Reason = s.reason
	res.Errors = append([]*Error(nil), s.errs...)
	switch {
	case s.debounced:
		res.Outcome = OutcomeDebounced
	case s.fatal:
		res.Outcome = OutcomeFailed
	case s.c.ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Reason = ReasonShutdown
	default:
		res.Outcome = OutcomeCommitted
	}
	s.mu.Unlock()
	s.setState(Idle)
	return res
}

// decodeLoop feeds chunks to the adapter. Chunks that queued up while a
// decode ran are appended together before the next decode.
func (s *session) decodeLoop(chunks <-chan segment.Chunk) {
	defer s.discard(chunks)
	first := true
	for {
		var (
			c  segment.Chunk
			ok bool
		)
		select {
		case c, ok = <-chunks:
		case <-s.ctx.Done():
			return
		}
		if !ok {
			break
		}
		if first {
			s.setState(Reconciling)
			first = false
		}
		s.adapter.Append(c)
		closed := s.drain(chunks)
		if closed {
			break
		}
		if s.stopping() {
			continue
		}

		h := s.adapter.Decode(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if h.IsError() {
			if s.decodeFailed(h.Err) {
				s.requestStop(ReasonEngine)
				return
			}
			continue
		}
		s.accept(h)
		if h.IsFinal() {
			s.logger.Info("utterance finalised on silence")
			s.requestStop(ReasonSilence)
			return
		}
	}
	if s.ctx.Err() != nil {
		return
	}
	s.commit()
}

// commit forces the final decode and settles the transcript.
func (s *session) commit() {
	s.setState(Committing)
	h := s.adapter.Finalize(s.ctx)
	if s.ctx.Err() != nil {
		return
	}
	if h.IsError() {
		if s.decodeFailed(h.Err) {
			return
		}
		t, outcome := s.rec.ForceFinalize()
		s.logger.Warn("final decode failed, keeping last partial", slog.Uint64("revision", t.Revision))
		s.publish(t, outcome)
		return
	}
	s.accept(h)
}

// decodeFailed records a decode error and reports whether it is fatal.
func (s *session) decodeFailed(err error) bool {
	kind := classify(err)
	if kind == KindEngineUnavailable {
		s.record(kind, err)
		return true
	}
	if s.currentState() == Committing {
		s.record(kind, err)
	}
	return false
}

func (s *session) accept(h stt.Hypothesis) {
	t, outcome := s.rec.Accept(h)
	s.publish(t, outcome)
}

func (s *session) publish(t transcript.Transcript, outcome transcript.Outcome) {
	if !outcome.Changed() {
		return
	}
	s.revisions++
	s.slot.put(t)
	s.c.metrics.revision(s.ctx, t.Final)
	s.c.events.emit(protocol.Event{
		Type:          protocol.EventTranscriptRevision,
		SessionID:     s.id,
		Revision:      t.Revision,
		Text:          t.Text,
		Final:         t.Final,
		Forced:        t.Forced,
		LowConfidence: t.LowConfidenceWords(),
	})
	s.logger.Debug("transcript revision",
		slog.Uint64("revision", t.Revision),
		slog.Bool("final", t.Final),
		slog.String("text", t.Text),
	)
}

// drain appends every chunk already queued and reports whether the channel
// is closed.
func (s *session) drain(chunks <-chan segment.Chunk) bool {
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return true
			}
			s.adapter.Append(c)
		default:
			return false
		}
	}
}

// discard empties chunks so the segmenter never blocks on a finished session.
func (s *session) discard(chunks <-chan segment.Chunk) {
	for range chunks {
	}
}

// emitLoop applies the newest transcript once the minimum hold has passed.
func (s *session) emitLoop() {
	select {
	case <-s.armed:
	case <-s.ctx.Done():
		return
	}
	for {
		select {
		case <-s.slot.notify:
		case <-s.ctx.Done():
			return
		}
		for {
			t, ok, done := s.slot.take()
			if done {
				return
			}
			if !ok {
				break
			}
			s.apply(t)
		}
	}
}

func (s *session) apply(t transcript.Transcript) {
	if t.Revision <= s.lastApplied || s.isFatal() {
		return
	}
	plan := edit.Compute(s.emitted, t.Text)
	if plan.IsNoop() {
		s.lastApplied = t.Revision
		return
	}
	attempts := 1
	if t.Final {
		attempts += s.settings.Session.ActuatorRetries
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if s.ctx.Err() != nil {
			return
		}
		summary := &protocol.EditSummary{
			Revision: t.Revision,
			Deleted:  plan.Deleted(),
			Inserted: edit.Len(plan.Inserted()),
			Plan:     plan.String(),
			Attempt:  attempt,
		}
		err := s.c.deps.Actuator.Apply(s.ctx, plan)
		if err == nil {
			s.emitted = t.Text
			s.plans++
			s.lastApplied = t.Revision
			s.c.metrics.planApplied(s.ctx, t.Final)
			s.c.events.emit(protocol.Event{Type: protocol.EventEditApplied, SessionID: s.id, Revision: t.Revision, Final: t.Final, Edit: summary})
			return
		}
		if n := actuator.DeletedBeforeFailure(err); n > 0 {
			// The backspaces landed; later plans start from what is on screen.
			s.emitted = edit.TrimEnd(s.emitted, n)
			plan = edit.Compute(s.emitted, t.Text)
		}
		s.c.metrics.actuatorFailure(s.ctx)
		s.c.events.emit(protocol.Event{
			Type:      protocol.EventEditFailed,
			SessionID: s.id,
			Revision:  t.Revision,
			Final:     t.Final,
			Edit:      summary,
			ErrorKind: string(KindActuatorFailure),
			Error:     err.Error(),
		})
		s.logger.Warn("edit plan not applied",
			slog.Uint64("revision", t.Revision),
			slog.Int("attempt", attempt),
			slog.Int("attempts", attempts),
			slogError(err),
		)
		if attempt == attempts {
			s.record(KindActuatorFailure, err)
		}
	}
}

func (s *session) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounced || s.isArmed {
		return
	}
	s.isArmed = true
	close(s.armed)
}

// release stops capture. Before the arm point the session is abandoned.
func (s *session) release() {
	s.mu.Lock()
	if !s.isArmed {
		s.debounced = true
		s.mu.Unlock()
		s.logger.Info("released before minimum hold, discarding session")
		s.requestStop(ReasonDebounced)
		s.cancel()
		return
	}
	s.mu.Unlock()
	s.requestStop(ReasonRelease)
}

func (s *session) requestStop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *session) record(kind ErrorKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, &Error{Kind: kind, SessionID: s.id, Err: err})
	if kind.Fatal() {
		s.fatal = true
	}
}

func (s *session) isFatal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (s *session) endSpan(res Result) {
	s.span.SetAttributes(
		attribute.String("session.outcome", string(res.Outcome)),
		attribute.String("session.reason", res.Reason),
		attribute.Int64("transcript.revision", int64(res.Transcript.Revision)),
		attribute.Int("edits.applied", res.Plans),
	)
	if res.Outcome == OutcomeFailed {
		s.span.SetStatus(codes.Error, string(res.Errors[0].Kind))
	}
	s.span.End()
}
