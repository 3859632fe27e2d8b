package hotkey

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/activation"
)

// edgeFilter turns raw key transitions into press/release edges. Auto-repeat
// on X11 delivers a key-up immediately followed by a key-down while the key
// is held, so a release is only emitted once no key-down follows within
// settle.
type edgeFilter struct {
	mu      sync.Mutex
	settle  time.Duration
	pressed bool
	pending *time.Timer
	emit    func(activation.Event)
}

func newEdgeFilter(settle time.Duration, emit func(activation.Event)) *edgeFilter {
	return &edgeFilter{settle: settle, emit: emit}
}

func (f *edgeFilter) down(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		stopped := f.pending.Stop()
		f.pending = nil
		if stopped {
			return
		}
		// The timer fired but its callback is waiting for the lock.
		f.pressed = false
		f.emit(activation.Event{Kind: activation.Release, At: at})
	}
	if f.pressed {
		return
	}
	f.pressed = true
	f.emit(activation.Event{Kind: activation.Press, At: at})
}

func (f *edgeFilter) up(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pressed || f.pending != nil {
		return
	}
	if f.settle <= 0 {
		f.pressed = false
		f.emit(activation.Event{Kind: activation.Release, At: at})
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(f.settle, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending != timer {
			return
		}
		f.pending = nil
		f.pressed = false
		f.emit(activation.Event{Kind: activation.Release, At: at})
	})
	f.pending = timer
}

// flush emits an outstanding release immediately.
func (f *edgeFilter) flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
	if f.pressed {
		f.pressed = false
		f.emit(activation.Event{Kind: activation.Release, At: time.Now()})
	}
}
