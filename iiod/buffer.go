package iiod

import (
	"context"
	"fmt"
)

// Buffer is an open stream buffer on a remote device. It remembers which scan
// channels it enabled so Close can put the device back the way it found it.
type Buffer struct {
	client  *Client
	device  string
	id      int
	samples int
	open    bool
	enabled []string
	dir     string
}

// CreateStreamBuffer enables the device's scan channels selected by mask (bit
// i covers the channel with scan index i, in index order), then opens a
// buffer of the given sample depth. dir selects "output" for transmit
// buffers, "input" for capture.
//
// Example, both TX channel pairs of an AD936x DAC:
//
//	buf, err := client.CreateStreamBuffer(ctx, "cf-ad9361-dds-core-lpc", "output", 8192, 0xF, false)
func (c *Client) CreateStreamBuffer(ctx context.Context, device, dir string, samples int, mask uint64, cyclic bool) (*Buffer, error) {
	if device == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if samples <= 0 {
		return nil, fmt.Errorf("sample count must be positive")
	}

	doc, err := c.Context(ctx)
	if err != nil {
		return nil, err
	}
	dev, ok := doc.FindDevice(device)
	if !ok {
		return nil, fmt.Errorf("device %q not present in context", device)
	}
	scan := dev.ScanChannels(dir)
	if len(scan) == 0 {
		return nil, fmt.Errorf("device %q has no %s scan channels", device, dir)
	}

	b := &Buffer{client: c, device: device, samples: samples, dir: dir}
	for i, ch := range scan {
		if i >= 64 {
			break
		}
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if err := c.WriteAttr(ctx, device, ch.ID, "en", "1"); err != nil {
			b.disableAll(ctx)
			return nil, fmt.Errorf("enable scan channel %s: %w", ch.ID, err)
		}
		b.enabled = append(b.enabled, ch.ID)
	}
	if len(b.enabled) == 0 {
		return nil, fmt.Errorf("channel mask %#x selects no scan channels", mask)
	}

	id, err := c.openBuffer(ctx, device, samples, cyclic)
	if err != nil {
		b.disableAll(ctx)
		return nil, err
	}
	b.id = id
	b.open = true
	return b, nil
}

// ID returns the daemon-assigned buffer id.
func (b *Buffer) ID() int { return b.id }

// Samples returns the buffer depth in samples per channel.
func (b *Buffer) Samples() int { return b.samples }

// EnabledChannels lists the scan channel IDs this buffer enabled.
func (b *Buffer) EnabledChannels() []string {
	out := make([]string, len(b.enabled))
	copy(out, b.enabled)
	return out
}

// WriteSamples pushes one block of interleaved little-endian samples. The
// daemon blocks the reply until kernel buffer space frees up, which is the
// backpressure the streaming loop relies on.
func (b *Buffer) WriteSamples(ctx context.Context, samples []int16) error {
	if !b.open {
		return fmt.Errorf("buffer is not open")
	}
	if len(samples) == 0 {
		return fmt.Errorf("no samples to write")
	}
	data := FormatInt16(samples)
	n, err := b.client.writeBuffer(ctx, b.id, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short buffer write: %d of %d bytes", n, len(data))
	}
	return nil
}

// ReadSamples fills p with interleaved samples from the device. Used by
// loopback diagnostics; the transmit path never reads.
func (b *Buffer) ReadSamples(ctx context.Context, p []int16) (int, error) {
	if !b.open {
		return 0, fmt.Errorf("buffer is not open")
	}
	raw := make([]byte, len(p)*2)
	n, err := b.client.readBuffer(ctx, b.id, raw)
	if err != nil {
		return 0, err
	}
	parsed, err := ParseInt16(raw[:n-n%2])
	if err != nil {
		return 0, err
	}
	return copy(p, parsed), nil
}

// Close releases the remote buffer and disables the channels it enabled.
// Safe to call more than once.
func (b *Buffer) Close(ctx context.Context) error {
	if !b.open {
		return nil
	}
	b.open = false
	err := b.client.closeBuffer(ctx, b.id)
	b.disableAll(ctx)
	return err
}

func (b *Buffer) disableAll(ctx context.Context) {
	for _, ch := range b.enabled {
		// Best effort teardown; the daemon resets enables on session end
		// anyway.
		_ = b.client.WriteAttr(ctx, b.device, ch, "en", "0")
	}
	b.enabled = nil
}
