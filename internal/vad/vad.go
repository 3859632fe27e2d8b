// Package vad scores audio for voice activity on a 0..1 scale.
package vad

import (
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Classifier returns a speech likelihood in [0,1] for mono samples.
type Classifier interface {
	Score(samples []int16) (float64, error)
}

// EnergyFullScale is the RMS level that scores 1.0.
const EnergyFullScale = 0.01

// Energy scores by short-term RMS energy.
type Energy struct {
	FullScale float64
}

func NewEnergy() Energy {
	return Energy{FullScale: EnergyFullScale}
}

func (e Energy) Score(samples []int16) (float64, error) {
	full := e.FullScale
	if full <= 0 {
		full = EnergyFullScale
	}
	score := audio.RMS(samples) / full
	if score > 1 {
		score = 1
	}
	return score, nil
}

// New builds the classifier selected by cfg.VADMode.
func New(cfg config.SegmenterConfig, sampleRate int) (Classifier, error) {
	switch cfg.VADMode {
	case "", "energy":
		return NewEnergy(), nil
	case "webrtc":
		return NewWebRTC(sampleRate, cfg.VADAggressive)
	default:
		return nil, fmt.Errorf("unknown vad mode %q", cfg.VADMode)
	}
}
