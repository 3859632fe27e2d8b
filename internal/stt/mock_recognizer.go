package stt

import (
	"context"
	"strings"
)

var mockVocabulary = []string{
	"the", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
}

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that emits one vocabulary word per
// half second of audio, so growing windows produce growing transcripts.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	bytesPerHalfSecond := sampleRate * channels
	if bytesPerHalfSecond <= 0 {
		bytesPerHalfSecond = 16000
	}
	n := len(pcm) / bytesPerHalfSecond
	words := make([]Word, 0, n)
	for i := 0; i < n; i++ {
		words = append(words, Word{Text: mockVocabulary[i%len(mockVocabulary)], Confidence: 0.9})
	}
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	text := strings.Join(texts, " ")
	if final && text != "" {
		text += "."
		words[len(words)-1].Text += "."
	}
	return TranscriptResult{Text: text, Confidence: 0.9, Words: words, Final: final}, nil
}

func (m *mockRecognizer) Close() error { return nil }
