// Package device captures microphone input through PortAudio.
package device

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// PortAudio is an audio.Source bound to a PortAudio input stream. The library
// is initialised on Open and terminated on Close so no device handle is held
// between sessions.
type PortAudio struct {
	format     audio.Format
	frames     int
	deviceName string

	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []int16
	running bool
}

func NewPortAudio(cfg config.AudioConfig) *PortAudio {
	return &PortAudio{
		format:     audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		frames:     cfg.FramesPerBuffer,
		deviceName: cfg.Device,
	}
}

func (p *PortAudio) Open(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("capture already running")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize portaudio: %v", audio.ErrDeviceUnavailable, err)
	}

	buffer := make([]int16, p.frames*p.format.Channels)
	var stream *portaudio.Stream
	var err error
	if p.deviceName != "" && p.deviceName != "default" {
		dev, findErr := findInputDevice(p.deviceName)
		if findErr != nil {
			portaudio.Terminate()
			return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, findErr)
		}
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: p.format.Channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(p.format.SampleRate),
			FramesPerBuffer: p.frames,
		}
		stream, err = portaudio.OpenStream(params, buffer)
	} else {
		stream, err = portaudio.OpenDefaultStream(p.format.Channels, 0, float64(p.format.SampleRate), p.frames, buffer)
	}
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: open stream: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: start stream: %v", audio.ErrDeviceUnavailable, err)
	}

	p.stream = stream
	p.buffer = buffer
	p.running = true
	return nil
}

func (p *PortAudio) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	stream := p.stream
	buffer := p.buffer
	running := p.running
	p.mu.Unlock()
	if !running || stream == nil {
		return nil, io.EOF
	}

	if err := stream.Read(); err != nil {
		if err == portaudio.InputOverflowed {
			// Samples were lost but the buffer holds valid audio.
			return append([]int16(nil), buffer...), nil
		}
		p.mu.Lock()
		stillRunning := p.running
		p.mu.Unlock()
		if !stillRunning {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	return append([]int16(nil), buffer...), nil
}

func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	var closeErr error
	if p.stream != nil {
		_ = p.stream.Abort()
		if err := p.stream.Close(); err != nil {
			closeErr = fmt.Errorf("close audio stream: %w", err)
		}
		p.stream = nil
	}
	if err := portaudio.Terminate(); err != nil && closeErr == nil {
		closeErr = fmt.Errorf("terminate portaudio: %w", err)
	}
	return closeErr
}

func (p *PortAudio) Format() audio.Format { return p.format }

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// Info describes an input device.
type Info struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
}

// List enumerates input devices.
func List() ([]Info, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []Info
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		info := Info{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev.Name == defaultName,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}
