//go:build whisper_cpp

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

type whisperRecognizer struct {
	cfg   config.STTConfig
	mu    sync.Mutex
	model whisper.Model
}

// NewWhisperRecognizer loads a ggml model through the whisper.cpp bindings.
func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load whisper model %s: %v", ErrEngineUnavailable, cfg.ModelPath, err)
	}
	return &whisperRecognizer{cfg: cfg, model: model}, nil
}

func (r *whisperRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, _ bool) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return TranscriptResult{}, ErrEngineUnavailable
	}
	if sampleRate != whisper.SampleRate {
		return TranscriptResult{}, fmt.Errorf("whisper needs %d Hz audio, got %d", whisper.SampleRate, sampleRate)
	}

	samples := audio.Downmix(audio.Decode(pcm), channels)
	data := make([]float32, len(samples))
	for i, s := range samples {
		data[i] = float32(s) / 32768.0
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper context: %w", err)
	}
	if r.cfg.Language != "" {
		if err := wctx.SetLanguage(r.cfg.Language); err != nil {
			return TranscriptResult{}, fmt.Errorf("whisper language: %w", err)
		}
	}
	if r.cfg.Threads > 0 {
		wctx.SetThreads(uint(r.cfg.Threads))
	}

	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(data, proceed, nil, nil); err != nil {
		if ctx.Err() != nil {
			return TranscriptResult{}, ctx.Err()
		}
		return TranscriptResult{}, fmt.Errorf("whisper process: %w", err)
	}

	var words []Word
	var texts []string
	var sum float64
	var count int
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TranscriptResult{}, fmt.Errorf("whisper segment: %w", err)
		}
		texts = append(texts, strings.TrimSpace(seg.Text))
		for _, tok := range seg.Tokens {
			if strings.HasPrefix(tok.Text, "[_") || strings.HasPrefix(tok.Text, "<|") {
				continue
			}
			p := float64(tok.P)
			sum += p
			count++
			if strings.HasPrefix(tok.Text, " ") || len(words) == 0 {
				words = append(words, Word{Text: strings.TrimSpace(tok.Text), Confidence: p})
				continue
			}
			last := &words[len(words)-1]
			last.Text += tok.Text
			if p < last.Confidence {
				last.Confidence = p
			}
		}
	}

	var confidence float64
	if count > 0 {
		confidence = sum / float64(count)
	}
	return TranscriptResult{
		Text:       strings.TrimSpace(strings.Join(texts, " ")),
		Confidence: confidence,
		Words:      words,
	}, nil
}

func (r *whisperRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}
