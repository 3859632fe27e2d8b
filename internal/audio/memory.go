package audio

import (
	"context"
	"io"
	"math"
	"sync"
)

// MemorySource replays a fixed sample slice in blocks.
type MemorySource struct {
	format  Format
	samples []int16
	block   int

	mu     sync.Mutex
	pos    int
	opened bool
	closed bool
	// OpenErr, when set, is returned by Open.
	OpenErr error
}

// NewMemorySource serves samples in reads of block samples each.
func NewMemorySource(format Format, samples []int16, block int) *MemorySource {
	if block <= 0 {
		block = format.SampleRate / 50 * format.Channels
	}
	return &MemorySource{format: format, samples: samples, block: block}
}

func (m *MemorySource) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.opened = true
	m.closed = false
	m.pos = 0
	return nil
}

func (m *MemorySource) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened || m.closed {
		return nil, io.EOF
	}
	if m.pos >= len(m.samples) {
		return nil, io.EOF
	}
	end := m.pos + m.block
	if end > len(m.samples) {
		end = len(m.samples)
	}
	out := append([]int16(nil), m.samples[m.pos:end]...)
	m.pos = end
	return out, nil
}

func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemorySource) Format() Format { return m.format }

// Closed reports whether the source has been released.
func (m *MemorySource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ChannelSource is a push-driven source fed by tests and the replay command.
type ChannelSource struct {
	format Format
	ch     chan []int16

	mu       sync.Mutex
	done     chan struct{}
	ended    bool
	opens    int
	closes   int
	closedCh chan struct{}
	isClosed bool
	// OpenErr, when set, is returned by Open.
	OpenErr error
}

func NewChannelSource(format Format, buffer int) *ChannelSource {
	return &ChannelSource{
		format:   format,
		ch:       make(chan []int16, buffer),
		done:     make(chan struct{}),
		closedCh: make(chan struct{}),
	}
}

// Push queues samples for the next Read. It blocks when the buffer is full.
func (c *ChannelSource) Push(samples []int16) {
	select {
	case c.ch <- samples:
	case <-c.done:
	}
}

// End marks the stream complete; Read drains queued samples then returns io.EOF.
func (c *ChannelSource) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended {
		c.ended = true
		close(c.done)
	}
}

func (c *ChannelSource) Open(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return c.OpenErr
	}
	c.opens++
	if c.isClosed {
		c.closedCh = make(chan struct{})
		c.isClosed = false
	}
	return nil
}

func (c *ChannelSource) Read(ctx context.Context) ([]int16, error) {
	c.mu.Lock()
	closed := c.closedCh
	c.mu.Unlock()
	select {
	case s := <-c.ch:
		return s, nil
	default:
	}
	select {
	case s := <-c.ch:
		return s, nil
	case <-c.done:
		select {
		case s := <-c.ch:
			return s, nil
		default:
			return nil, io.EOF
		}
	case <-closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ChannelSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if !c.isClosed {
		c.isClosed = true
		close(c.closedCh)
	}
	return nil
}

func (c *ChannelSource) Format() Format { return c.format }

// Stats returns how many times the source was opened and closed.
func (c *ChannelSource) Stats() (opens, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

// Tone generates a sine wave at the given amplitude (0..1).
func Tone(format Format, ms int, freq, amplitude float64) []int16 {
	frames := format.SampleRate * ms / 1000
	out := make([]int16, frames*format.Channels)
	for i := 0; i < frames; i++ {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate)))
		for c := 0; c < format.Channels; c++ {
			out[i*format.Channels+c] = v
		}
	}
	return out
}

// Silence generates ms milliseconds of zero samples.
func Silence(format Format, ms int) []int16 {
	return make([]int16, format.SampleRate*ms/1000*format.Channels)
}
