package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/segment"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chunk(seq uint64, speech bool) segment.Chunk {
	return segment.Chunk{Seq: seq, PCM: make([]byte, 3200), Speech: speech}
}

func sttCfg() config.STTConfig {
	cfg := config.Default().STT
	cfg.WindowMS = 1000
	cfg.DecodeTimeoutMS = 1000
	cfg.FinalizeTimeoutMS = 1000
	return cfg
}

func TestWindowEvictsOldestOverBudget(t *testing.T) {
	w := NewWindow(3 * 3200)
	for i := 0; i < 3; i++ {
		if dropped := w.Push(chunk(uint64(i), true)); dropped != 0 {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	if dropped := w.Push(chunk(3, true)); dropped != 1 {
		t.Fatalf("expected one eviction, got %d", dropped)
	}
	first, _ := w.FirstSeq()
	last, _ := w.LastSeq()
	if first != 1 || last != 3 || w.Len() != 3 || w.Size() != 3*3200 {
		t.Fatalf("unexpected window first=%d last=%d len=%d size=%d", first, last, w.Len(), w.Size())
	}
	if len(w.Bytes()) != 3*3200 || w.Evicted() != 1 {
		t.Fatalf("unexpected bytes or eviction count")
	}

	big := segment.Chunk{Seq: 4, PCM: make([]byte, 5*3200)}
	w.Push(big)
	if w.Len() != 1 {
		t.Fatalf("oversized chunk must be kept alone, window has %d chunks", w.Len())
	}
	w.Reset()
	if _, ok := w.LastSeq(); ok || w.Evicted() != 0 {
		t.Fatalf("reset must clear the window")
	}
}

func TestAdapterLeadingSilenceSkipsDecode(t *testing.T) {
	rec := NewScriptedRecognizer(Texts("hallucination")...)
	a := NewAdapter(NewEngine(rec, testLogger()), sttCfg(), mono16k, testLogger())
	h := a.Submit(context.Background(), chunk(0, false))
	if h.Kind != Partial || h.Text != "" || h.Seq != 0 {
		t.Fatalf("unexpected hypothesis %+v", h)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("silence before speech should not be decoded")
	}
	fin := a.Finalize(context.Background())
	if fin.Kind != Final || fin.Text != "" {
		t.Fatalf("finalize without speech should be an empty final, got %+v", fin)
	}
}

func TestAdapterSilenceFinalizes(t *testing.T) {
	rec := NewScriptedRecognizer(Texts("test", "testing", "testing")...)
	cfg := sttCfg()
	cfg.WindowMS = 10000
	a := NewAdapter(NewEngine(rec, testLogger()), cfg, mono16k, testLogger())
	ctx := context.Background()

	if h := a.Submit(ctx, chunk(0, true)); h.Kind != Partial || h.Text != "test" {
		t.Fatalf("unexpected first hypothesis %+v", h)
	}
	if h := a.Submit(ctx, chunk(1, false)); h.Kind != Partial || h.Text != "testing" {
		t.Fatalf("one silent chunk must stay partial, got %+v", h)
	}
	h := a.Submit(ctx, chunk(2, false))
	if h.Kind != Final || h.Text != "testing" || h.Seq != 2 {
		t.Fatalf("two silent chunks must finalize, got %+v", h)
	}
	calls := rec.Calls()
	if len(calls) != 3 || !calls[2].Final || calls[1].Final {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[2].Bytes != 3*3200 {
		t.Fatalf("decode must cover the whole window, got %d bytes", calls[2].Bytes)
	}
}

func TestAdapterEngineErrorCarriesNoText(t *testing.T) {
	rec := NewScriptedRecognizer(Step{Err: errors.New("boom")})
	a := NewAdapter(NewEngine(rec, testLogger()), sttCfg(), mono16k, testLogger())
	h := a.Submit(context.Background(), chunk(5, true))
	if h.Kind != EngineError || h.Text != "" || h.Err == nil || h.Seq != 5 {
		t.Fatalf("unexpected hypothesis %+v", h)
	}
}

func TestAdapterDecodeTimeout(t *testing.T) {
	rec := NewScriptedRecognizer(Step{Delay: time.Second, Result: TranscriptResult{Text: "late"}})
	cfg := sttCfg()
	cfg.DecodeTimeoutMS = 20
	a := NewAdapter(NewEngine(rec, testLogger()), cfg, mono16k, testLogger())
	h := a.Submit(context.Background(), chunk(0, true))
	if h.Kind != EngineError || !errors.Is(h.Err, ErrDecodeTimeout) {
		t.Fatalf("expected decode timeout, got %+v", h)
	}
}

func TestAdapterConfidenceFallback(t *testing.T) {
	rec := NewScriptedRecognizer(
		Step{Result: TranscriptResult{Text: "a b", Confidence: 0.5}},
		Step{Result: TranscriptResult{Text: "a b", Words: []Word{{Text: "a", Confidence: 0.2}, {Text: "b"}}}},
	)
	a := NewAdapter(NewEngine(rec, testLogger()), sttCfg(), mono16k, testLogger())
	h := a.Submit(context.Background(), chunk(0, true))
	if len(h.Words) != 2 || h.Words[0].Confidence != 0.5 || h.Words[1].Confidence != 0.5 {
		t.Fatalf("words should inherit overall confidence, got %+v", h.Words)
	}
	h = a.Submit(context.Background(), chunk(1, true))
	if h.Words[0].Confidence != 0.2 || h.Words[1].Confidence != 1 {
		t.Fatalf("unknown word confidence should default to 1, got %+v", h.Words)
	}
}

func TestAdapterStitchesAfterEviction(t *testing.T) {
	rec := NewScriptedRecognizer(Texts(
		"the quick",
		"the quick brown",
		"quick brown fox",
		"",
	)...)
	cfg := sttCfg()
	cfg.WindowMS = 200 // two 100ms chunks
	a := NewAdapter(NewEngine(rec, testLogger()), cfg, mono16k, testLogger())
	ctx := context.Background()

	a.Submit(ctx, chunk(0, true))
	if h := a.Submit(ctx, chunk(1, true)); h.Text != "the quick brown" {
		t.Fatalf("unexpected text %q", h.Text)
	}
	h := a.Submit(ctx, chunk(2, true))
	if h.Text != "the quick brown fox" {
		t.Fatalf("expected stitched text, got %q", h.Text)
	}
	h = a.Submit(ctx, chunk(3, true))
	if h.Text != "the quick brown fox" {
		t.Fatalf("empty decode after eviction must keep prior text, got %q", h.Text)
	}
}

func TestAdapterRevisionAfterEvictionDoesNotDuplicate(t *testing.T) {
	rec := NewScriptedRecognizer(Texts(
		"two three",
		"two three four",
		"two tree four five",
	)...)
	cfg := sttCfg()
	cfg.WindowMS = 200
	a := NewAdapter(NewEngine(rec, testLogger()), cfg, mono16k, testLogger())
	ctx := context.Background()

	a.Submit(ctx, chunk(0, true))
	a.Submit(ctx, chunk(1, true))
	h := a.Submit(ctx, chunk(2, true))
	if h.Text != "two tree four five" {
		t.Fatalf("revised window decode should replace the overlap, got %q", h.Text)
	}
}

func TestStitch(t *testing.T) {
	words := func(s string) []Word {
		var out []Word
		for _, f := range strings.Fields(s) {
			out = append(out, Word{Text: f, Confidence: 1})
		}
		return out
	}
	cases := []struct {
		prev, win, want string
	}{
		{"the quick brown", "quick brown fox", "the quick brown fox"},
		{"the quick bro", "quick brown fox", "the quick brown fox"},
		{"Hello, world", "world. How are", "Hello, world. How are"},
		{"alpha beta", "gamma delta", "alpha beta gamma delta"},
		{"two three four", "two tree four five", "two tree four five"},
		{"one two three four", "too three four five", "one too three four five"},
		{"the cat the dog", "the dog runs", "the cat the dog runs"},
		{"we left at noon", "we left at dawn and", "we left at dawn and"},
	}
	for _, tc := range cases {
		got := joinWords(stitch(words(tc.prev), words(tc.win)))
		if got != tc.want {
			t.Fatalf("stitch(%q, %q) = %q, want %q", tc.prev, tc.win, got, tc.want)
		}
	}
}

func TestEngineSerializesAbandonedDecodes(t *testing.T) {
	rec := NewScriptedRecognizer(
		Step{Delay: 150 * time.Millisecond, Stubborn: true, Result: TranscriptResult{Text: "slow"}},
		Step{Result: TranscriptResult{Text: "fast"}},
	)
	engine := NewEngine(rec, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := engine.Decode(ctx, make([]byte, 10), mono16k, false); !errors.Is(err, ErrDecodeTimeout) {
		t.Fatalf("expected ErrDecodeTimeout, got %v", err)
	}
	if engine.Idle() {
		t.Fatalf("abandoned decode must keep the gate")
	}
	res, err := engine.Decode(context.Background(), make([]byte, 10), mono16k, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Text != "fast" {
		t.Fatalf("unexpected result %q", res.Text)
	}
	if rec.MaxConcurrent() != 1 {
		t.Fatalf("decodes overlapped: max concurrency %d", rec.MaxConcurrent())
	}
}

func TestEngineConcurrentCallers(t *testing.T) {
	rec := NewScriptedRecognizer(Step{Delay: 10 * time.Millisecond, Result: TranscriptResult{Text: "x"}})
	engine := NewEngine(rec, testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Decode(context.Background(), nil, mono16k, false); err != nil {
				t.Errorf("decode: %v", err)
			}
		}()
	}
	wg.Wait()
	if rec.MaxConcurrent() != 1 {
		t.Fatalf("expected serial decodes, got concurrency %d", rec.MaxConcurrent())
	}
}

func TestIdleUnloaderLifecycle(t *testing.T) {
	var loads int
	var last *ScriptedRecognizer
	u := NewIdleUnloader(func() (Recognizer, error) {
		loads++
		last = NewScriptedRecognizer(Texts("ok")...)
		return last, nil
	}, 30*time.Millisecond, testLogger())

	if u.Loaded() {
		t.Fatalf("recognizer must load lazily")
	}
	if _, err := u.Transcribe(context.Background(), nil, 16000, 1, false); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !u.Loaded() || loads != 1 {
		t.Fatalf("expected one load, got %d", loads)
	}
	deadline := time.Now().Add(2 * time.Second)
	for u.Loaded() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if u.Loaded() || !last.Closed() {
		t.Fatalf("recognizer should unload after idle period")
	}
	if _, err := u.Transcribe(context.Background(), nil, 16000, 1, false); err != nil {
		t.Fatalf("transcribe after unload: %v", err)
	}
	if u.Loads() != 2 {
		t.Fatalf("expected reload, got %d loads", u.Loads())
	}
	_ = u.Close()
	if _, err := u.Transcribe(context.Background(), nil, 16000, 1, false); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("closed unloader must report ErrEngineUnavailable, got %v", err)
	}
}

func TestIdleUnloaderLoadFailure(t *testing.T) {
	u := NewIdleUnloader(func() (Recognizer, error) {
		return nil, errors.New("model missing")
	}, 0, testLogger())
	if err := u.Warm(); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestNewRecognizerModes(t *testing.T) {
	cfg := config.Default().STT
	rec, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), make([]byte, 32000*2), 16000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "the quick brown fox." || len(res.Words) != 4 {
		t.Fatalf("unexpected mock output %+v", res)
	}

	cfg.Mode = "exec"
	cfg.Command = "definitely-not-a-real-binary-xyz"
	if _, err := New(cfg, testLogger()); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable for missing binary, got %v", err)
	}

	cfg.Mode = "bogus"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestExecRecognizer(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-stt.sh")
	body := `#!/bin/sh
partial=false
for arg in "$@"; do
  if [ "$arg" = "--partial" ]; then partial=true; fi
done
if [ "$partial" = true ]; then
  echo '{"text":"hello wor","confidence":0.8,"words":[{"word":"hello","confidence":0.9},{"word":"wor","confidence":0.4}]}'
else
  echo '{"text":"hello world","confidence":0.95,"final":true}'
fi
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := config.Default().STT
	cfg.Mode = "exec"
	cfg.Command = script
	rec, err := NewExecRecognizer(cfg)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	pcm := audio.Encode(audio.Tone(mono16k, 100, 440, 0.2))

	res, err := rec.Transcribe(context.Background(), pcm, 16000, 1, false)
	if err != nil {
		t.Fatalf("partial transcribe: %v", err)
	}
	if res.Text != "hello wor" || len(res.Words) != 2 || res.Words[1].Confidence != 0.4 {
		t.Fatalf("unexpected partial result %+v", res)
	}
	res, err = rec.Transcribe(context.Background(), pcm, 16000, 1, true)
	if err != nil {
		t.Fatalf("final transcribe: %v", err)
	}
	if res.Text != "hello world" || !res.Final {
		t.Fatalf("unexpected final result %+v", res)
	}
}
