package stt

import (
	"context"
	"sync"
	"time"
)

// Step is one scripted decode outcome.
type Step struct {
	Result TranscriptResult
	Err    error
	// Delay holds the decode before returning. The delay ignores cancellation
	// when Stubborn is set, mimicking an engine that cannot be interrupted.
	Delay    time.Duration
	Stubborn bool
}

// Call records one Transcribe invocation.
type Call struct {
	Bytes int
	Final bool
}

// ScriptedRecognizer replays a fixed list of steps, repeating the last one
// when the script runs out. It is used by tests and the replay command.
type ScriptedRecognizer struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	calls    []Call
	inflight int
	maxIn    int
	closed   bool
}

func NewScriptedRecognizer(steps ...Step) *ScriptedRecognizer {
	return &ScriptedRecognizer{steps: steps}
}

// Texts builds a script of plain results with full confidence.
func Texts(texts ...string) []Step {
	steps := make([]Step, len(texts))
	for i, t := range texts {
		steps[i] = Step{Result: TranscriptResult{Text: t, Confidence: 1}}
	}
	return steps
}

func (s *ScriptedRecognizer) Transcribe(ctx context.Context, pcm []byte, _ int, _ int, final bool) (TranscriptResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Bytes: len(pcm), Final: final})
	s.inflight++
	if s.inflight > s.maxIn {
		s.maxIn = s.inflight
	}
	var step Step
	if len(s.steps) > 0 {
		idx := s.next
		if idx >= len(s.steps) {
			idx = len(s.steps) - 1
		} else {
			s.next++
		}
		step = s.steps[idx]
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if step.Delay > 0 {
		if step.Stubborn {
			time.Sleep(step.Delay)
		} else {
			timer := time.NewTimer(step.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return TranscriptResult{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return step.Result, step.Err
}

func (s *ScriptedRecognizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns the recorded invocations.
func (s *ScriptedRecognizer) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// MaxConcurrent is the highest number of overlapping Transcribe calls seen.
func (s *ScriptedRecognizer) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxIn
}

// Closed reports whether Close was called.
func (s *ScriptedRecognizer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
