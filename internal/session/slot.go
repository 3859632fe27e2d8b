package session

import (
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/transcript"
)

// latestSlot holds only the newest transcript revision. A put overwrites any
// revision the emitter has not taken yet.
type latestSlot struct {
	mu     sync.Mutex
	t      transcript.Transcript
	full   bool
	closed bool
	notify chan struct{}
}

func newLatestSlot() *latestSlot {
	return &latestSlot{notify: make(chan struct{}, 1)}
}

func (l *latestSlot) put(t transcript.Transcript) {
	l.mu.Lock()
	if l.full && t.Revision < l.t.Revision {
		l.mu.Unlock()
		return
	}
	l.t = t
	l.full = true
	l.mu.Unlock()
	l.wake()
}

// close marks that no further revisions will arrive.
func (l *latestSlot) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wake()
}

func (l *latestSlot) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// take empties the slot. done is true once the slot is closed and empty.
func (l *latestSlot) take() (t transcript.Transcript, ok bool, done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		l.full = false
		return l.t, true, false
	}
	return transcript.Transcript{}, false, l.closed
}
