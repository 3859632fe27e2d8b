package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
)

// ErrDeviceUnavailable is returned when the capture device cannot be acquired.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Format describes interleaved signed 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Mono returns the same format with a single channel.
func (f Format) Mono() Format {
	return Format{SampleRate: f.SampleRate, Channels: 1}
}

// Source yields PCM samples for one capture. Read returns io.EOF once the
// stream has ended. Close must release the device promptly even while a
// Read is pending.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) ([]int16, error)
	Close() error
	Format() Format
}

// Downmix averages interleaved channels into a mono signal.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Encode converts samples to little-endian PCM16 bytes.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Decode converts little-endian PCM16 bytes to samples. A trailing odd byte is ignored.
func Decode(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// RMS returns the root mean square of the samples normalised to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
