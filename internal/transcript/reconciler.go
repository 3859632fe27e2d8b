// Package transcript keeps the authoritative text for a dictation session.
package transcript

import (
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

type State int

const (
	Idle State = iota
	Accumulating
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Outcome says what Accept did with a hypothesis.
type Outcome int

const (
	// Updated means the transcript changed and its revision was bumped.
	Updated Outcome = iota
	// Finalized means a final hypothesis settled the transcript.
	Finalized
	// Unchanged means the hypothesis matched the current transcript.
	Unchanged
	// Stale means the hypothesis came from older audio than the transcript.
	Stale
	// NoUpdate means the hypothesis was an engine error.
	NoUpdate
	// Ignored means no session is accumulating, or it is already final.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Finalized:
		return "finalized"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	case NoUpdate:
		return "no_update"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Changed reports whether the outcome produced a new revision.
func (o Outcome) Changed() bool {
	return o == Updated || o == Finalized
}

// Word is a transcript word with its confidence tag.
type Word struct {
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// Transcript is a value snapshot; it is never mutated after being returned.
type Transcript struct {
	Text     string `json:"text"`
	Revision uint64 `json:"revision"`
	Final    bool   `json:"final"`
	Seq      uint64 `json:"seq"`
	Words    []Word `json:"words,omitempty"`
	// Forced marks a transcript finalised from the last partial after the final decode failed.
	Forced bool `json:"forced,omitempty"`
}

// LowConfidenceWords lists the flagged words in order.
func (t Transcript) LowConfidenceWords() []string {
	var out []string
	for _, w := range t.Words {
		if w.LowConfidence {
			out = append(out, w.Text)
		}
	}
	return out
}

// Reconciler applies hypotheses to a session transcript. It is owned by a
// single goroutine.
type Reconciler struct {
	threshold float64
	logger    *slog.Logger

	state   State
	current Transcript
	seen    bool
}

func New(cfg config.ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		threshold: cfg.LowConfidenceThreshold,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Begin starts a fresh session transcript.
func (r *Reconciler) Begin() {
	r.state = Accumulating
	r.current = Transcript{}
	r.seen = false
}

// Accept applies h and returns the resulting transcript.
func (r *Reconciler) Accept(h stt.Hypothesis) (Transcript, Outcome) {
	if r.state != Accumulating {
		r.logger.Debug("hypothesis ignored", slog.String("state", r.state.String()), slog.Uint64("seq", h.Seq))
		return r.current, Ignored
	}
	if h.Kind == stt.EngineError {
		return r.current, NoUpdate
	}
	if r.seen && h.Seq < r.current.Seq {
		r.logger.Debug("stale hypothesis discarded", slog.Uint64("seq", h.Seq), slog.Uint64("current_seq", r.current.Seq))
		return r.current, Stale
	}

	words := r.tag(h.Words)
	r.seen = true
	if h.Kind == stt.Final {
		r.current = Transcript{
			Text:     h.Text,
			Revision: r.current.Revision + 1,
			Final:    true,
			Seq:      h.Seq,
			Words:    words,
		}
		r.state = Finalizing
		return r.current, Finalized
	}

	if h.Text == r.current.Text && sameTags(words, r.current.Words) {
		r.current.Seq = h.Seq
		return r.current, Unchanged
	}
	r.current = Transcript{
		Text:     h.Text,
		Revision: r.current.Revision + 1,
		Seq:      h.Seq,
		Words:    words,
	}
	return r.current, Updated
}

// ForceFinalize settles the transcript on its current text, used when the
// final decode did not complete in time.
func (r *Reconciler) ForceFinalize() (Transcript, Outcome) {
	if r.state != Accumulating {
		return r.current, Ignored
	}
	r.current.Revision++
	r.current.Final = true
	r.current.Forced = true
	r.state = Finalizing
	return r.current, Finalized
}

// End returns the last transcript and resets to Idle.
func (r *Reconciler) End() Transcript {
	t := r.current
	r.state = Idle
	r.current = Transcript{}
	r.seen = false
	return t
}

func (r *Reconciler) State() State { return r.state }

// Current returns the latest transcript snapshot.
func (r *Reconciler) Current() Transcript { return r.current }

func (r *Reconciler) tag(words []stt.Word) []Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]Word, len(words))
	for i, w := range words {
		out[i] = Word{
			Text:          w.Text,
			Confidence:    w.Confidence,
			LowConfidence: w.Confidence < r.threshold,
		}
	}
	return out
}

func sameTags(a, b []Word) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Text != b[i].Text || a[i].LowConfidence != b[i].LowConfidence {
			return false
		}
	}
	return true
}
