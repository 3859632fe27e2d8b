// Package resources samples the daemon's CPU and memory use and checks it
// against the idle and recording budgets.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/internal/resources"

// ErrUnsupported is returned by the sampler on platforms without process stats.
var ErrUnsupported = errors.New("process usage is not available on this platform")

// State names the budget a sample is checked against.
type State string

const (
	Idle      State = "idle"
	Recording State = "recording"
)

// Usage is one process sample. CPUPercent is averaged since the previous
// sample and is not normalised by core count.
type Usage struct {
	CPUPercent float64
	RSSBytes   uint64
	At         time.Time
}

func (u Usage) RSSMB() float64 { return float64(u.RSSBytes) / (1024 * 1024) }

// Sampler reads cumulative process CPU seconds and resident memory in bytes.
type Sampler func() (cpuSeconds float64, rss uint64, err error)

// Option customises a Monitor.
type Option func(*Monitor)

// WithSampler replaces the process sampler.
func WithSampler(s Sampler) Option { return func(m *Monitor) { m.sample = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// Monitor tracks process usage between samples. It is a session event sink:
// the sample taken when a session starts covers the idle period before it,
// and the one taken when it ends covers the recording.
type Monitor struct {
	cfg    config.ResourcesConfig
	sample Sampler
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	lastCPU float64
	lastAt  time.Time
	last    Usage
	primed  bool

	reg metric.Registration
}

func New(cfg config.ResourcesConfig, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:    cfg,
		sample: processSampler(),
		now:    time.Now,
		logger: logger.With(slog.String("component", "resources")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if _, err := m.Sample(); err != nil {
		m.logger.Info("resource monitoring not available", slogError(err))
	}
	m.registerMetrics()
	return m
}

func (m *Monitor) registerMetrics() {
	meter := otel.Meter(instrumentationName)
	cpu, err := meter.Float64ObservableGauge("dictation.process.cpu",
		metric.WithDescription("Process CPU use averaged since the previous sample"),
		metric.WithUnit("%"))
	if err != nil {
		m.logger.Warn("failed to initialize metrics", slogError(err))
		return
	}
	rss, err := meter.Int64ObservableGauge("dictation.process.memory.rss",
		metric.WithDescription("Process resident memory"),
		metric.WithUnit("By"))
	if err != nil {
		m.logger.Warn("failed to initialize metrics", slogError(err))
		return
	}
	m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		u, ok := m.Last()
		if !ok {
			return nil
		}
		o.ObserveFloat64(cpu, u.CPUPercent)
		o.ObserveInt64(rss, int64(u.RSSBytes))
		return nil
	}, cpu, rss)
	if err != nil {
		m.logger.Warn("failed to register metrics callback", slogError(err))
	}
}

// Sample reads the process counters. The first sample only sets the CPU
// baseline and reports zero CPU.
func (m *Monitor) Sample() (Usage, error) {
	cpu, rss, err := m.sample()
	if err != nil {
		return Usage{}, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	u := Usage{RSSBytes: rss, At: now}
	if m.primed {
		if wall := now.Sub(m.lastAt).Seconds(); wall > 0 {
			u.CPUPercent = (cpu - m.lastCPU) / wall * 100
		}
	}
	m.lastCPU, m.lastAt, m.primed = cpu, now, true
	m.last = u
	return u, nil
}

// Last is the most recent sample; ok is false before the first one.
func (m *Monitor) Last() (Usage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.primed
}

// Check lists the budgets u exceeds in state.
func (m *Monitor) Check(state State, u Usage) []string {
	var over []string
	switch state {
	case Idle:
		if limit := m.cfg.IdleMaxRSSMB; limit > 0 && u.RSSMB() > limit {
			over = append(over, fmt.Sprintf("idle memory %.1fMB above %.0fMB", u.RSSMB(), limit))
		}
		if limit := m.cfg.IdleMaxCPUPercent; limit > 0 && u.CPUPercent > limit {
			over = append(over, fmt.Sprintf("idle cpu %.1f%% above %.0f%%", u.CPUPercent, limit))
		}
	case Recording:
		if limit := m.cfg.ActiveMaxCPUPercent; limit > 0 && u.CPUPercent > limit {
			over = append(over, fmt.Sprintf("recording cpu %.1f%% above %.0f%%", u.CPUPercent, limit))
		}
	}
	return over
}

// Report samples, logs the usage for state and warns about exceeded budgets.
func (m *Monitor) Report(state State) (Usage, []string, error) {
	u, err := m.Sample()
	if err != nil {
		m.logger.Debug("resource usage unavailable", slog.String("state", string(state)), slogError(err))
		return Usage{}, nil, err
	}
	over := m.Check(state, u)
	m.logger.Info("resource usage",
		slog.String("state", string(state)),
		slog.Float64("cpu_percent", u.CPUPercent),
		slog.Float64("rss_mb", u.RSSMB()),
	)
	for _, msg := range over {
		m.logger.Warn("resource budget exceeded", slog.String("state", string(state)), slog.String("detail", msg))
	}
	return u, over, nil
}

// Handle reports idle usage when a session starts and recording usage when
// it ends.
func (m *Monitor) Handle(_ context.Context, ev protocol.Event) error {
	switch ev.Type {
	case protocol.EventSessionStarted:
		_, _, _ = m.Report(Idle)
	case protocol.EventSessionEnded:
		_, _, _ = m.Report(Recording)
	}
	return nil
}

// Run reports idle usage every interval while idle returns true.
func (m *Monitor) Run(ctx context.Context, idle func() bool) {
	interval := time.Duration(m.cfg.IntervalS) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle == nil || idle() {
				_, _, _ = m.Report(Idle)
			}
		}
	}
}

func (m *Monitor) Close() {
	if m != nil && m.reg != nil {
		_ = m.reg.Unregister()
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
