package protocol

import "time"

// Event types double as bus subject suffixes.
const (
	EventSessionStarted     = "session.started"
	EventTranscriptRevision = "transcript.revision"
	EventEditApplied        = "edit.applied"
	EventEditFailed         = "edit.failed"
	EventSessionEnded       = "session.ended"
)

// Event is one session lifecycle record as published on the bus and stored
// in the session history.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Revision      uint64   `json:"revision,omitempty"`
	Text          string   `json:"text,omitempty"`
	Final         bool     `json:"final,omitempty"`
	Forced        bool     `json:"forced,omitempty"`
	LowConfidence []string `json:"low_confidence,omitempty"`

	Edit *EditSummary `json:"edit,omitempty"`

	Outcome   string      `json:"outcome,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
	Audio     *AudioStats `json:"audio,omitempty"`
}

// EditSummary describes one plan handed to the actuator.
type EditSummary struct {
	Revision uint64 `json:"revision"`
	Deleted  int    `json:"deleted"`
	Inserted int    `json:"inserted"`
	Plan     string `json:"plan"`
	Attempt  int    `json:"attempt,omitempty"`
}

// AudioStats summarises the capture at session end.
type AudioStats struct {
	Chunks       int     `json:"chunks"`
	SpeechChunks int     `json:"speech_chunks"`
	PeakLevel    float64 `json:"peak_level"`
	MeanLevel    float64 `json:"mean_level"`
	DurationMS   int64   `json:"duration_ms"`
}

// Subject joins the configured prefix with an event type.
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Redact drops transcript text from e, keeping the metadata.
func (e Event) Redact() Event {
	e.Text = ""
	e.LowConfidence = nil
	if e.Edit != nil {
		edit := *e.Edit
		edit.Plan = ""
		e.Edit = &edit
	}
	return e
}
