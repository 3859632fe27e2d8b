package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	sessions  metric.Int64Counter
	revisions metric.Int64Counter
	plans     metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
	active    metric.Int64ObservableGauge
	reg       metric.Registration
}

func newMetrics(active func() bool, logger *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	warn := func(err error) {
		if err != nil {
			logger.Warn("failed to initialize metrics", slogError(err))
		}
	}
	var err error
	m.sessions, err = meter.Int64Counter("dictation.sessions",
		metric.WithDescription("Finished dictation sessions by outcome"))
	warn(err)
	m.revisions, err = meter.Int64Counter("dictation.transcript.revisions",
		metric.WithDescription("Transcript revisions produced by the reconciler"))
	warn(err)
	m.plans, err = meter.Int64Counter("dictation.edits.applied",
		metric.WithDescription("Edit plans applied by the actuator"))
	warn(err)
	m.failures, err = meter.Int64Counter("dictation.actuator.failures",
		metric.WithDescription("Edit plans the actuator failed to apply"))
	warn(err)
	m.duration, err = meter.Float64Histogram("dictation.session.duration",
		metric.WithDescription("Wall time from press to commit"),
		metric.WithUnit("s"))
	warn(err)
	m.active, err = meter.Int64ObservableGauge("dictation.session.active",
		metric.WithDescription("1 while a dictation session is running"))
	warn(err)
	if m.active != nil {
		m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			var v int64
			if active() {
				v = 1
			}
			o.ObserveInt64(m.active, v)
			return nil
		}, m.active)
		warn(err)
	}
	return m
}

func (m *metrics) revision(ctx context.Context, final bool) {
	if m.revisions != nil {
		m.revisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
	}
}

func (m *metrics) planApplied(ctx context.Context, final bool) {
	if m.plans != nil {
		m.plans.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
	}
}

func (m *metrics) actuatorFailure(ctx context.Context) {
	if m.failures != nil {
		m.failures.Add(ctx, 1)
	}
}

func (m *metrics) finished(ctx context.Context, res Result) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(res.Outcome)))
	if m.sessions != nil {
		m.sessions.Add(ctx, 1, attrs)
	}
	if m.duration != nil && !res.EndedAt.IsZero() {
		m.duration.Record(ctx, res.EndedAt.Sub(res.StartedAt).Seconds(), attrs)
	}
}

func (m *metrics) close() {
	if m.reg != nil {
		_ = m.reg.Unregister()
	}
}
