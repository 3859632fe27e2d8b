package stt

import "github.com/loqalabs/loqa-dictate/internal/segment"

// Window is a byte-budgeted FIFO of recent chunks. The newest chunk is always
// kept even when it alone exceeds the budget.
type Window struct {
	budget  int
	chunks  []segment.Chunk
	size    int
	evicted int
}

func NewWindow(budgetBytes int) *Window {
	return &Window{budget: budgetBytes}
}

// Push appends c and evicts the oldest chunks over budget, returning how many were dropped.
func (w *Window) Push(c segment.Chunk) int {
	w.chunks = append(w.chunks, c)
	w.size += len(c.PCM)
	dropped := 0
	for w.size > w.budget && len(w.chunks) > 1 {
		w.size -= len(w.chunks[0].PCM)
		w.chunks[0] = segment.Chunk{}
		w.chunks = w.chunks[1:]
		dropped++
	}
	w.evicted += dropped
	return dropped
}

// Bytes concatenates the window's PCM.
func (w *Window) Bytes() []byte {
	out := make([]byte, 0, w.size)
	for _, c := range w.chunks {
		out = append(out, c.PCM...)
	}
	return out
}

func (w *Window) Len() int { return len(w.chunks) }

// Size is the buffered PCM size in bytes.
func (w *Window) Size() int { return w.size }

// Evicted counts chunks dropped since the last Reset.
func (w *Window) Evicted() int { return w.evicted }

// LastSeq is the sequence number of the newest chunk; ok is false when empty.
func (w *Window) LastSeq() (seq uint64, ok bool) {
	if len(w.chunks) == 0 {
		return 0, false
	}
	return w.chunks[len(w.chunks)-1].Seq, true
}

// FirstSeq is the sequence number of the oldest retained chunk.
func (w *Window) FirstSeq() (seq uint64, ok bool) {
	if len(w.chunks) == 0 {
		return 0, false
	}
	return w.chunks[0].Seq, true
}

func (w *Window) Reset() {
	w.chunks = nil
	w.size = 0
	w.evicted = 0
}
