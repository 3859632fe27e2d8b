package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/stt"

// Engine gates a Recognizer so that at most one decode runs at a time across
// all sessions. A decode abandoned by its caller keeps the gate until the
// recognizer actually returns.
type Engine struct {
	rec    Recognizer
	gate   chan struct{}
	logger *slog.Logger

	tracer   trace.Tracer
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

func NewEngine(rec Recognizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		rec:    rec,
		gate:   make(chan struct{}, 1),
		logger: logger.With(slog.String("component", "stt-engine")),
		tracer: otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)
	var err error
	if e.duration, err = meter.Float64Histogram("dictation.decode.duration",
		metric.WithDescription("Speech engine decode latency"),
		metric.WithUnit("s")); err != nil {
		e.logger.Warn("failed to initialize metrics", slogError(err))
	}
	if e.failures, err = meter.Int64Counter("dictation.decode.failures",
		metric.WithDescription("Failed or timed out decodes")); err != nil {
		e.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return e
}

// Decode runs one recognizer call on pcm. A deadline on ctx that expires
// first yields ErrDecodeTimeout; cancellation yields ctx.Err().
func (e *Engine) Decode(ctx context.Context, pcm []byte, format audio.Format, final bool) (TranscriptResult, error) {
	ctx, span := e.tracer.Start(ctx, "stt.decode", trace.WithAttributes(
		attribute.Int("audio.bytes", len(pcm)),
		attribute.Bool("final", final),
	))
	defer span.End()

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		err := contextError(ctx)
		e.recordFailure(ctx, err)
		span.RecordError(err)
		return TranscriptResult{}, err
	}

	type outcome struct {
		res TranscriptResult
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := e.rec.Transcribe(ctx, pcm, format.SampleRate, format.Channels, final)
		<-e.gate
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if e.duration != nil {
			e.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("final", final)))
		}
		if out.err != nil {
			err := out.err
			if ctx.Err() != nil {
				err = contextError(ctx)
			} else if !errors.Is(err, ErrEngineUnavailable) {
				err = fmt.Errorf("decode: %w", err)
			}
			e.recordFailure(ctx, err)
			span.RecordError(err)
			return TranscriptResult{}, err
		}
		e.logger.Debug("decode finished",
			slog.Duration("took", elapsed),
			slog.Int("bytes", len(pcm)),
			slog.Bool("final", final),
		)
		return out.res, nil
	case <-ctx.Done():
		err := contextError(ctx)
		e.logger.Warn("abandoning in-flight decode", slogError(err))
		e.recordFailure(ctx, err)
		span.RecordError(err)
		return TranscriptResult{}, err
	}
}

// Idle reports whether no decode currently holds the gate.
func (e *Engine) Idle() bool {
	select {
	case e.gate <- struct{}{}:
		<-e.gate
		return true
	default:
		return false
	}
}

func (e *Engine) Close() error {
	return e.rec.Close()
}

func (e *Engine) recordFailure(ctx context.Context, err error) {
	if e.failures == nil {
		return
	}
	kind := "error"
	switch {
	case errors.Is(err, ErrDecodeTimeout):
		kind = "timeout"
	case errors.Is(err, ErrEngineUnavailable):
		kind = "unavailable"
	case errors.Is(err, context.Canceled):
		kind = "cancelled"
	}
	e.failures.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDecodeTimeout, ctx.Err())
	}
	return ctx.Err()
}
