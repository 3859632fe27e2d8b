package resources

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProcess struct {
	mu  sync.Mutex
	cpu float64
	rss uint64
	now time.Time
	err error
}

func (f *fakeProcess) sample() (float64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, f.rss, f.err
}

func (f *fakeProcess) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// advance moves the clock by wall and adds cpu seconds of process time.
func (f *fakeProcess) advance(wall time.Duration, cpu float64, rssMB uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(wall)
	f.cpu += cpu
	f.rss = rssMB * 1024 * 1024
}

func newMonitor(t *testing.T) (*Monitor, *fakeProcess) {
	t.Helper()
	proc := &fakeProcess{now: time.Unix(1700000000, 0), rss: 20 * 1024 * 1024}
	m := New(config.Default().Resources, testLogger(), WithSampler(proc.sample), WithClock(proc.clock))
	t.Cleanup(m.Close)
	return m, proc
}

func TestSampleAveragesCPUSincePreviousSample(t *testing.T) {
	m, proc := newMonitor(t)
	proc.advance(10*time.Second, 0.05, 30)
	u, err := m.Sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if u.CPUPercent < 0.49 || u.CPUPercent > 0.51 {
		t.Fatalf("expected 0.5%% cpu, got %.3f", u.CPUPercent)
	}
	if u.RSSMB() != 30 {
		t.Fatalf("expected 30MB, got %.1f", u.RSSMB())
	}
	if last, ok := m.Last(); !ok || last != u {
		t.Fatalf("last sample not kept: %+v", last)
	}
}

func TestCheckBudgets(t *testing.T) {
	m, _ := newMonitor(t)
	cases := []struct {
		state State
		usage Usage
		over  int
	}{
		{Idle, Usage{CPUPercent: 0.5, RSSBytes: 40 << 20}, 0},
		{Idle, Usage{CPUPercent: 3, RSSBytes: 80 << 20}, 2},
		{Recording, Usage{CPUPercent: 15, RSSBytes: 500 << 20}, 0},
		{Recording, Usage{CPUPercent: 35}, 1},
	}
	for _, tc := range cases {
		if got := m.Check(tc.state, tc.usage); len(got) != tc.over {
			t.Fatalf("%s %+v: expected %d violations, got %v", tc.state, tc.usage, tc.over, got)
		}
	}

	cfg := config.Default().Resources
	cfg.IdleMaxRSSMB = 0
	unlimited := New(cfg, testLogger(), WithSampler(func() (float64, uint64, error) { return 0, 0, nil }))
	defer unlimited.Close()
	if got := unlimited.Check(Idle, Usage{RSSBytes: 1 << 30}); len(got) != 0 {
		t.Fatalf("zero limit must disable the check, got %v", got)
	}
}

func TestSessionEventsReportBothBudgets(t *testing.T) {
	m, proc := newMonitor(t)
	ctx := context.Background()

	proc.advance(60*time.Second, 0.03, 30)
	if err := m.Handle(ctx, protocol.Event{Type: protocol.EventSessionStarted}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	proc.advance(5*time.Second, 1.5, 90)
	_ = m.Handle(ctx, protocol.Event{Type: protocol.EventSessionEnded})

	u, _ := m.Last()
	if u.CPUPercent < 29.9 || u.CPUPercent > 30.1 {
		t.Fatalf("session end should cover the recording, got %.2f%%", u.CPUPercent)
	}
	if over := m.Check(Recording, u); len(over) != 1 {
		t.Fatalf("expected recording budget violation, got %v", over)
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	m := New(config.Default().Resources, testLogger(), WithSampler(func() (float64, uint64, error) {
		return 0, 0, ErrUnsupported
	}))
	defer m.Close()
	if _, ok := m.Last(); ok {
		t.Fatal("no sample expected")
	}
	if _, _, err := m.Report(Idle); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if err := m.Handle(context.Background(), protocol.Event{Type: protocol.EventSessionEnded}); err != nil {
		t.Fatalf("sink must not fail: %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := config.Default().Resources
	cfg.IntervalS = 0
	m := New(cfg, testLogger(), WithSampler(func() (float64, uint64, error) { return 0, 0, nil }))
	defer m.Close()
	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without an interval should return immediately")
	}
}
