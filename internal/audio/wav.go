package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a PCM WAV file. When Paced is set, reads are spaced at
// wall-clock rate so the pipeline sees the same cadence as a live device.
type WAVSource struct {
	path  string
	block int
	Paced bool

	mu      sync.Mutex
	file    *os.File
	dec     *wav.Decoder
	format  Format
	shift   int
	started time.Time
	served  int
}

// NewWAVSource reads the header of path to learn its format.
func NewWAVSource(path string, blockMS int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	if dec.BitDepth < 16 {
		return nil, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	if blockMS <= 0 {
		blockMS = 20
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return &WAVSource{
		path:   path,
		block:  format.SampleRate * blockMS / 1000 * format.Channels,
		format: format,
		shift:  int(dec.BitDepth) - 16,
	}, nil
}

func (w *WAVSource) Open(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	w.file = f
	w.dec = dec
	w.started = time.Now()
	w.served = 0
	return nil
}

func (w *WAVSource) Read(ctx context.Context) ([]int16, error) {
	w.mu.Lock()
	dec := w.dec
	w.mu.Unlock()
	if dec == nil {
		return nil, io.EOF
	}

	if w.Paced {
		due := w.started.Add(time.Duration(w.served) * time.Second / time.Duration(w.format.SampleRate*w.format.Channels))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dec == nil {
		return nil, io.EOF
	}
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: w.format.Channels, SampleRate: w.format.SampleRate},
		Data:   make([]int, w.block),
	}
	n, err := w.dec.PCMBuffer(buf)
	if n == 0 {
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read wav: %w", err)
		}
		return nil, io.EOF
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(buf.Data[i] >> w.shift)
	}
	w.served += n
	return out, nil
}

func (w *WAVSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dec = nil
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *WAVSource) Format() Format { return w.format }

// WriteWAV encodes PCM16LE bytes as a WAV stream.
func WriteWAV(out io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := Decode(pcm)
	buffer.Data = make([]int, len(samples))
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
