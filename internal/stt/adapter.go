package stt

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/segment"
)

// Adapter owns a session's context window and turns chunks into hypotheses by
// re-decoding the whole window each time. It is not safe for concurrent use.
type Adapter struct {
	engine          *Engine
	window          *Window
	format          audio.Format
	silenceN        int
	decodeTimeout   time.Duration
	finalizeTimeout time.Duration
	logger          *slog.Logger

	silenceRun int
	speechSeen bool
	words      []Word
	text       string
}

// NewAdapter sizes the window from cfg.WindowMS of mono audio at format's rate.
func NewAdapter(engine *Engine, cfg config.STTConfig, format audio.Format, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	mono := format.Mono()
	return &Adapter{
		engine:          engine,
		window:          NewWindow(mono.BytesPerSecond() * cfg.WindowMS / 1000),
		format:          mono,
		silenceN:        cfg.SilenceChunks,
		decodeTimeout:   time.Duration(cfg.DecodeTimeoutMS) * time.Millisecond,
		finalizeTimeout: time.Duration(cfg.FinalizeTimeoutMS) * time.Millisecond,
		logger:          logger.With(slog.String("component", "stt-adapter")),
	}
}

// Reset clears all per-session state.
func (a *Adapter) Reset() {
	a.window.Reset()
	a.silenceRun = 0
	a.speechSeen = false
	a.words = nil
	a.text = ""
}

// Append adds c to the window without decoding.
func (a *Adapter) Append(c segment.Chunk) {
	if dropped := a.window.Push(c); dropped > 0 {
		a.logger.Debug("window evicted chunks", slog.Int("dropped", dropped), slog.Int("window_bytes", a.window.Size()))
	}
	if c.Speech {
		a.speechSeen = true
		a.silenceRun = 0
		return
	}
	if a.speechSeen {
		a.silenceRun++
	}
}

// Submit appends c and decodes the whole window. The result is Final once
// the configured run of silence chunks follows speech.
func (a *Adapter) Submit(ctx context.Context, c segment.Chunk) Hypothesis {
	a.Append(c)
	return a.Decode(ctx)
}

// Decode decodes the current window without adding audio.
func (a *Adapter) Decode(ctx context.Context) Hypothesis {
	seq, _ := a.window.LastSeq()
	if !a.speechSeen {
		return Hypothesis{Kind: Partial, Seq: seq}
	}
	final := a.silenceN > 0 && a.silenceRun >= a.silenceN
	return a.decode(ctx, final, a.decodeTimeout)
}

// SilenceReached reports whether the trailing silence run allows finalisation.
func (a *Adapter) SilenceReached() bool {
	return a.speechSeen && a.silenceN > 0 && a.silenceRun >= a.silenceN
}

// Finalize forces a final decode of the window bounded by the finalize timeout.
func (a *Adapter) Finalize(ctx context.Context) Hypothesis {
	seq, ok := a.window.LastSeq()
	if !ok || !a.speechSeen {
		return Hypothesis{Kind: Final, Text: a.text, Words: a.words, Seq: seq}
	}
	return a.decode(ctx, true, a.finalizeTimeout)
}

func (a *Adapter) decode(ctx context.Context, final bool, timeout time.Duration) Hypothesis {
	seq, _ := a.window.LastSeq()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := a.engine.Decode(ctx, a.window.Bytes(), a.format, final)
	if err != nil {
		a.logger.Warn("decode failed", slog.Uint64("seq", seq), slog.Bool("final", final), slogError(err))
		return Hypothesis{Kind: EngineError, Seq: seq, Err: err}
	}

	words := wordsOf(res)
	text := strings.TrimSpace(res.Text)
	if a.window.Evicted() > 0 && len(a.words) > 0 {
		if len(words) == 0 {
			words = a.words
		} else {
			words = stitch(a.words, words)
		}
		text = joinWords(words)
	}
	a.words = words
	a.text = text

	kind := Partial
	if final {
		kind = Final
	}
	return Hypothesis{
		Kind:        kind,
		Text:        text,
		Words:       append([]Word(nil), words...),
		Seq:         seq,
		EngineFinal: res.Final,
	}
}

// wordsOf returns per-word confidences, filling unknown values from the
// overall confidence, or 1 when that is unknown too.
func wordsOf(res TranscriptResult) []Word {
	fallback := res.Confidence
	if fallback <= 0 || fallback > 1 {
		fallback = 1
	}
	var words []Word
	if len(res.Words) > 0 {
		words = make([]Word, 0, len(res.Words))
		for _, w := range res.Words {
			text := strings.TrimSpace(w.Text)
			if text == "" {
				continue
			}
			conf := w.Confidence
			if conf <= 0 || conf > 1 {
				conf = fallback
			}
			words = append(words, Word{Text: text, Confidence: conf})
		}
		return words
	}
	for _, f := range strings.Fields(res.Text) {
		words = append(words, Word{Text: f, Confidence: fallback})
	}
	return words
}

// stitch joins a decode of a window that no longer covers the start of the
// utterance onto the previous full transcript. The two are aligned on their
// longest common word subsequence; the first aligned pair anchors the window
// decode, which replaces everything in prev from the anchor (less the window
// words preceding it) onward. Only the tail of prev that the window can still
// cover is searched. Without any common word the window decode is appended.
func stitch(prev, win []Word) []Word {
	start := len(prev) - 2*len(win)
	if start < 0 {
		start = 0
	}
	i, j, ok := anchor(prev[start:], win)
	if !ok {
		return append(prev[:len(prev):len(prev)], win...)
	}
	cut := start + i - j
	if cut < 0 {
		cut = 0
	}
	return append(prev[:cut:cut], win...)
}

// anchor returns the first aligned pair of an LCS alignment of prev and win,
// taking the latest prev position that keeps the alignment maximal.
func anchor(prev, win []Word) (int, int, bool) {
	a, b := normalized(prev), normalized(win)
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}
	if lcs[0][0] == 0 {
		return 0, 0, false
	}
	i, j := 0, 0
	for {
		switch {
		case lcs[i+1][j] == lcs[i][j]:
			i++
		case a[i] == b[j] && lcs[i][j] == lcs[i+1][j+1]+1:
			return i, j, true
		default:
			j++
		}
	}
}

func normalized(words []Word) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = normalize(w.Text)
	}
	return out
}

func normalize(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
}

func joinWords(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
