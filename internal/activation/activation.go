// Package activation delivers push-to-talk press and release events.
package activation

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes press from release.
type Kind int

const (
	Press Kind = iota + 1
	Release
)

func (k Kind) String() string {
	switch k {
	case Press:
		return "press"
	case Release:
		return "release"
	default:
		return "unknown"
	}
}

// Event is one key transition.
type Event struct {
	Kind Kind
	At   time.Time
}

// Source produces activation events until closed. The Events channel is
// closed when the source stops.
type Source interface {
	Events() <-chan Event
	Close() error
}

// Manual is a Source driven by explicit calls.
type Manual struct {
	mu     sync.RWMutex
	events chan Event
	done   chan struct{}
	once   sync.Once
	closed bool
	now    func() time.Time
}

func NewManual(buffer int) *Manual {
	if buffer < 1 {
		buffer = 1
	}
	return &Manual{events: make(chan Event, buffer), done: make(chan struct{}), now: time.Now}
}

func (m *Manual) Events() <-chan Event { return m.events }

// Press emits a press event. It blocks while the buffer is full and reports
// false once the source is closed.
func (m *Manual) Press() bool { return m.emit(Press) }

// Release emits a release event. It blocks while the buffer is full and
// reports false once the source is closed.
func (m *Manual) Release() bool { return m.emit(Release) }

func (m *Manual) emit(kind Kind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.events <- Event{Kind: kind, At: m.now()}:
		return true
	case <-m.done:
		return false
	}
}

// Close unblocks pending emits, then closes the events channel.
func (m *Manual) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.closed = true
		close(m.events)
		m.mu.Unlock()
	})
	return nil
}

// Toggle reads lines from r. Each line alternates between press and
// release, so a terminal user presses Enter to start and again to stop.
// A line reading "q" or end of input closes the source, releasing first
// when a press is outstanding.
type Toggle struct {
	manual *Manual
	once   sync.Once
}

func NewToggle(r io.Reader) *Toggle {
	t := &Toggle{manual: NewManual(4)}
	go t.loop(r)
	return t
}

func (t *Toggle) loop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	pressed := false
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "q") {
			break
		}
		var ok bool
		if pressed {
			ok = t.manual.Release()
		} else {
			ok = t.manual.Press()
		}
		if !ok {
			return
		}
		pressed = !pressed
	}
	if pressed {
		t.manual.Release()
	}
	_ = t.Close()
}

func (t *Toggle) Events() <-chan Event { return t.manual.Events() }

func (t *Toggle) Close() error {
	t.once.Do(func() { _ = t.manual.Close() })
	return nil
}
