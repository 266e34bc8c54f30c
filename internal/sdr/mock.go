package sdr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory Device. It validates like the hardware backends,
// records every call, and lets tests inject failures at each stage.
type Mock struct {
	mu         sync.Mutex
	limits     Limits
	configured []ChannelConfig
	enabled    bool
	closed     bool
	frames     [][]int16
	pushes     int

	disableCalls int
	closeCalls   int

	// RejectChannel makes Configure refuse that channel index, simulating
	// a driver-side rejection. -1 disables the injection.
	RejectChannel int
	// EnableErr fails Enable when set.
	EnableErr error
	// OnPush runs before a frame is recorded; n is the 1-based push count.
	// A non-nil result is surfaced as a DeviceError.
	OnPush func(n int, frame []int16) error
	// PushDelay simulates driver backpressure. Push blocks for the delay
	// or until the context is cancelled.
	PushDelay time.Duration
}

// NewMock returns a Mock with the default hardware limits.
func NewMock() *Mock {
	return &Mock{limits: DefaultLimits(), RejectChannel: -1}
}

func (m *Mock) Configure(_ context.Context, channels []ChannelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return deviceErr("configure", -1, errors.New("device is closed"))
	}
	if err := m.limits.Validate(channels); err != nil {
		return err
	}
	for _, ch := range channels {
		if ch.Channel == m.RejectChannel {
			return configErr(ch.Channel, "channel", ch.Channel, "driver rejected channel")
		}
	}
	m.configured = append([]ChannelConfig(nil), channels...)
	return nil
}

func (m *Mock) Enable(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return deviceErr("enable", -1, errors.New("device is closed"))
	}
	if len(m.configured) == 0 {
		return deviceErr("enable", -1, errors.New("no channels configured"))
	}
	if m.EnableErr != nil {
		return deviceErr("enable", -1, m.EnableErr)
	}
	m.enabled = true
	return nil
}

func (m *Mock) Push(ctx context.Context, frame []int16) error {
	m.mu.Lock()
	if m.closed || !m.enabled {
		m.mu.Unlock()
		return deviceErr("push", -1, errors.New("device not streaming"))
	}
	m.pushes++
	n := m.pushes
	hook := m.OnPush
	delay := m.PushDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		if err := hook(n, frame); err != nil {
			return deviceErr("push", -1, err)
		}
	}

	m.mu.Lock()
	m.frames = append(m.frames, append([]int16(nil), frame...))
	m.mu.Unlock()
	return nil
}

func (m *Mock) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableCalls++
	m.enabled = false
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.closed = true
	return nil
}

func (m *Mock) Limits() Limits { return m.limits }

func (m *Mock) Description() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("mock SDR (%d channels configured)", len(m.configured))
}

// Configured returns a copy of the accepted channel set.
func (m *Mock) Configured() []ChannelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChannelConfig(nil), m.configured...)
}

// Enabled reports whether the mock is armed for streaming.
func (m *Mock) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Pushes returns how many frames were attempted, including failed ones.
func (m *Mock) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// Frames returns the recorded frames, most recent last.
func (m *Mock) Frames() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int16, len(m.frames))
	copy(out, m.frames)
	return out
}

// DisableCalls reports how many times Disable ran.
func (m *Mock) DisableCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableCalls
}

// CloseCalls reports how many times Close ran.
func (m *Mock) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
