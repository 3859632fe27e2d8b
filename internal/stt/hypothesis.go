package stt

// Kind tags the hypothesis variant.
type Kind int

const (
	Partial Kind = iota
	Final
	EngineError
)

func (k Kind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	case EngineError:
		return "engine_error"
	default:
		return "unknown"
	}
}

// Hypothesis is one decode outcome. Text and Words are empty for EngineError,
// which carries Err instead.
type Hypothesis struct {
	Kind  Kind
	Text  string
	Words []Word
	// Seq is the sequence number of the newest chunk in the decoded window.
	Seq uint64
	Err error
	// EngineFinal records the engine's own finality claim. Finality of the
	// hypothesis itself is decided by Kind.
	EngineFinal bool
}

func (h Hypothesis) IsFinal() bool { return h.Kind == Final }

func (h Hypothesis) IsError() bool { return h.Kind == EngineError }
