package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/actuator"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/segment"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/transcript"
)

var (
	// ErrSessionActive rejects a press while another session runs.
	ErrSessionActive = errors.New("dictation session already active")
	// ErrNoSession is returned by Release when nothing is capturing.
	ErrNoSession = errors.New("no active dictation session")
	ErrClosed    = errors.New("session controller closed")
)

// ErrorKind tags session failures.
type ErrorKind string

const (
	KindEngineUnavailable      ErrorKind = "engine_unavailable"
	KindDecodeTimeout          ErrorKind = "decode_timeout"
	KindDecodeFailed           ErrorKind = "decode_failed"
	KindActuatorFailure        ErrorKind = "actuator_failure"
	KindAudioDeviceUnavailable ErrorKind = "audio_device_unavailable"
)

// Fatal reports whether the kind ends the session.
func (k ErrorKind) Fatal() bool {
	return k == KindEngineUnavailable || k == KindAudioDeviceUnavailable
}

// Error is a tagged session failure.
type Error struct {
	Kind      ErrorKind
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, stt.ErrEngineUnavailable):
		return KindEngineUnavailable
	case errors.Is(err, stt.ErrDecodeTimeout):
		return KindDecodeTimeout
	case errors.Is(err, actuator.ErrApplyFailed):
		return KindActuatorFailure
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return KindAudioDeviceUnavailable
	default:
		return KindDecodeFailed
	}
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeDebounced Outcome = "debounced"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Reasons capture stopped.
const (
	ReasonRelease     = "release"
	ReasonSilence     = "silence"
	ReasonMaxDuration = "max_duration"
	ReasonEndOfStream = "end_of_stream"
	ReasonDebounced   = "debounced"
	ReasonEngine      = "engine_unavailable"
	ReasonShutdown    = "shutdown"
)

// Result summarises a finished session.
type Result struct {
	SessionID  string
	Outcome    Outcome
	Reason     string
	Transcript transcript.Transcript
	// Emitted is the text the actuator confirmed typing.
	Emitted   string
	Plans     int
	Revisions int
	Errors    []*Error
	Audio     segment.Stats
	StartedAt time.Time
	EndedAt   time.Time
}

// Err joins the session errors, or returns nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}
