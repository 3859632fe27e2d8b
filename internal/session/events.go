package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// Sink receives session events. Handle is called from a single goroutine.
type Sink interface {
	Handle(ctx context.Context, ev protocol.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev protocol.Event) error

func (f SinkFunc) Handle(ctx context.Context, ev protocol.Event) error { return f(ctx, ev) }

const sinkTimeout = 5 * time.Second

// dispatcher fans events out to sinks off the pipeline goroutines. When the
// buffer is full new events are dropped so a slow sink never stalls typing.
type dispatcher struct {
	sinks  []Sink
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan protocol.Event
	wg     sync.WaitGroup
}

func newDispatcher(sinks []Sink, size int, logger *slog.Logger) *dispatcher {
	if size < 1 {
		size = 1
	}
	d := &dispatcher{sinks: sinks, logger: logger, ch: make(chan protocol.Event, size)}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) emit(ev protocol.Event) {
	if len(d.sinks) == 0 {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.logger.Warn("session event dropped", slog.String("type", ev.Type), slog.String("session_id", ev.SessionID))
	}
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.ch {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Handle(ctx, ev); err != nil {
				d.logger.Warn("session event sink failed", slog.String("type", ev.Type), slogError(err))
			}
			cancel()
		}
	}
}

// close delivers buffered events and stops the dispatcher.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}
