// Package segment slices a capture stream into fixed-duration, VAD-tagged chunks.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/vad"
)

// Chunk is one slice of mono PCM16LE audio. Chunks are immutable once emitted.
type Chunk struct {
	Seq      uint64
	PCM      []byte
	Speech   bool
	Score    float64
	Level    float64
	Duration time.Duration
	// Trailing marks the short remainder flushed when capture stops.
	Trailing bool
}

// Stats summarises one capture.
type Stats struct {
	Chunks       int           `json:"chunks"`
	SpeechChunks int           `json:"speech_chunks"`
	PeakLevel    float64       `json:"peak_level"`
	MeanLevel    float64       `json:"mean_level"`
	Audio        time.Duration `json:"audio"`
}

type Segmenter struct {
	src       audio.Source
	clf       vad.Classifier
	threshold float64
	samples   int
	logger    *slog.Logger

	mu      sync.Mutex
	seq     uint64
	pending []int16
	stats   Stats
	level   float64
}

func New(src audio.Source, clf vad.Classifier, cfg config.SegmenterConfig, logger *slog.Logger) (*Segmenter, error) {
	if cfg.ChunkDurationMS < config.MinChunkDurationMS {
		return nil, fmt.Errorf("chunk duration %dms below minimum %dms", cfg.ChunkDurationMS, config.MinChunkDurationMS)
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return nil, fmt.Errorf("vad threshold %.2f outside 0..1", cfg.VADThreshold)
	}
	if clf == nil {
		clf = vad.NewEnergy()
	}
	format := src.Format()
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format %+v", format)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		src:       src,
		clf:       clf,
		threshold: cfg.VADThreshold,
		samples:   format.SampleRate * cfg.ChunkDurationMS / 1000,
		logger:    logger.With(slog.String("component", "segmenter")),
	}, nil
}

// Open acquires the audio device and resets per-capture state.
func (s *Segmenter) Open(ctx context.Context) error {
	if err := s.src.Open(ctx); err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	s.mu.Lock()
	s.seq = 0
	s.pending = s.pending[:0]
	s.stats = Stats{}
	s.level = 0
	s.mu.Unlock()
	return nil
}

// Run reads the source until stop is closed, the stream ends or ctx is
// cancelled. Complete chunks are sent to out in order; on stop or end of
// stream the remainder is flushed as a trailing chunk. Run always closes out
// and releases the source before returning.
func (s *Segmenter) Run(ctx context.Context, stop <-chan struct{}, out chan<- Chunk) error {
	defer close(out)

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := s.src.Close(); err != nil {
				s.logger.Warn("failed to release audio source", slogError(err))
			}
		})
	}
	defer release()

	watchDone := make(chan struct{})
	defer close(watchDone)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-stop:
			close(stopped)
			release()
		case <-ctx.Done():
			release()
		case <-watchDone:
		}
	}()

	channels := s.src.Format().Channels
	for {
		samples, err := s.src.Read(ctx)
		if len(samples) > 0 {
			s.pending = append(s.pending, audio.Downmix(samples, channels)...)
			for len(s.pending) >= s.samples {
				chunk, cerr := s.cut(s.samples, false)
				if cerr != nil {
					return cerr
				}
				if serr := s.send(ctx, out, chunk); serr != nil {
					return serr
				}
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		isStopped := false
		select {
		case <-stopped:
			isStopped = true
		default:
		}
		if !isStopped && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read audio: %w", err)
		}
		if len(s.pending) > 0 {
			chunk, cerr := s.cut(len(s.pending), true)
			if cerr != nil {
				return cerr
			}
			if serr := s.send(ctx, out, chunk); serr != nil {
				return serr
			}
		}
		return nil
	}
}

// Stats reports totals for the most recent capture.
func (s *Segmenter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if st.Chunks > 0 {
		st.MeanLevel = s.level / float64(st.Chunks)
	}
	return st
}

func (s *Segmenter) cut(n int, trailing bool) (Chunk, error) {
	slice := s.pending[:n]
	score, err := s.clf.Score(slice)
	if err != nil {
		return Chunk{}, fmt.Errorf("classify chunk: %w", err)
	}
	level := audio.RMS(slice)
	rate := s.src.Format().SampleRate

	s.mu.Lock()
	chunk := Chunk{
		Seq:      s.seq,
		PCM:      audio.Encode(slice),
		Speech:   score >= s.threshold,
		Score:    score,
		Level:    level,
		Duration: time.Duration(n) * time.Second / time.Duration(rate),
		Trailing: trailing,
	}
	s.seq++
	s.stats.Chunks++
	if chunk.Speech {
		s.stats.SpeechChunks++
	}
	if level > s.stats.PeakLevel {
		s.stats.PeakLevel = level
	}
	s.level += level
	s.stats.Audio += chunk.Duration
	s.mu.Unlock()

	s.pending = append(s.pending[:0], s.pending[n:]...)
	return chunk, nil
}

func (s *Segmenter) send(ctx context.Context, out chan<- Chunk, chunk Chunk) error {
	s.logger.Debug("chunk",
		slog.Uint64("seq", chunk.Seq),
		slog.Bool("speech", chunk.Speech),
		slog.Float64("score", chunk.Score),
		slog.Bool("trailing", chunk.Trailing),
	)
	select {
	case out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
