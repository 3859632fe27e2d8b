package vad

import (
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

var validRates = []int{8000, 16000, 32000, 48000}

// WebRTC scores a chunk as the fraction of 20 ms frames the WebRTC VAD marks voiced.
type WebRTC struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameSize  int
}

func NewWebRTC(sampleRate, mode int) (*WebRTC, error) {
	valid := false
	for _, r := range validRates {
		if sampleRate == r {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid sample rate %d, must be one of %v", sampleRate, validRates)
	}
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("create webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("set vad mode: %w", err)
	}
	return &WebRTC{vad: v, sampleRate: sampleRate, frameSize: sampleRate / 50}, nil
}

func (w *WebRTC) Score(samples []int16) (float64, error) {
	if len(samples) < w.frameSize {
		padded := make([]int16, w.frameSize)
		copy(padded, samples)
		samples = padded
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	var frames, voiced int
	for i := 0; i+w.frameSize <= len(samples); i += w.frameSize {
		active, err := w.vad.Process(w.sampleRate, audio.Encode(samples[i:i+w.frameSize]))
		if err != nil {
			return 0, fmt.Errorf("vad processing failed: %w", err)
		}
		frames++
		if active {
			voiced++
		}
	}
	return float64(voiced) / float64(frames), nil
}
