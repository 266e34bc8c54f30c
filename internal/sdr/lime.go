package sdr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/myriadrf/limedrv"

	"github.com/rdekker/noisetx/internal/logging"
)

// Lime drives a LimeSDR transmit path through the limedrv bindings. The
// library pulls samples through a callback, so Push feeds per-channel queues
// that the callback drains; a full queue is the backpressure that blocks the
// streaming loop.
type Lime struct {
	mu       sync.Mutex
	opts     Options
	dev      *limedrv.LMSDevice
	name     string
	channels []ChannelConfig
	queues   map[int]chan []complex64
	tails    map[int][]complex64
	running  bool
	closed   bool

	underruns atomic.Uint64
}

// NewLime constructs the backend. The device is opened during Configure.
func NewLime(opts Options) *Lime {
	return &Lime{opts: opts.withDefaults()}
}

func (l *Lime) Limits() Limits { return DefaultLimits() }

func (l *Lime) Description() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.name == "" {
		return "LimeSDR (not connected)"
	}
	return l.name
}

// Underruns reports how many times the hardware asked for samples the
// streaming loop had not delivered yet.
func (l *Lime) Underruns() uint64 { return l.underruns.Load() }

func (l *Lime) Configure(_ context.Context, channels []ChannelConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return deviceErr("configure", -1, errors.New("device is closed"))
	}
	if l.dev != nil {
		return deviceErr("configure", -1, errors.New("device already configured"))
	}
	if err := l.Limits().Validate(channels); err != nil {
		return err
	}

	devices := limedrv.GetDevices()
	if len(devices) == 0 {
		return deviceNotFound("enumerate LimeSDR devices", nil)
	}
	idx := 0
	if l.opts.URI != "" {
		idx = -1
		for i, di := range devices {
			if strings.Contains(di.DeviceName, l.opts.URI) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return deviceNotFound(fmt.Sprintf("no LimeSDR matching %q", l.opts.URI), nil)
		}
	}

	dev := limedrv.Open(devices[idx])
	l.opts.Logger.Info("LimeSDR opened", logging.F("device", devices[idx].DeviceName))

	dev.SetSampleRate(channels[0].SampleRateHz, 8)

	for _, ch := range channels {
		if ch.Channel >= len(dev.TXChannels) {
			dev.Close()
			return configErr(ch.Channel, "channel", ch.Channel,
				fmt.Sprintf("device exposes %d TX channels", len(dev.TXChannels)))
		}
		tx := dev.TXChannels[ch.Channel]
		tx.Enable().
			SetAntennaByName(limedrv.BAND1).
			SetGainNormalized(limeNormalizedGain(ch.GainDB, l.Limits())).
			SetLPF(ch.BandwidthHz).
			EnableLPF().
			SetCenterFrequency(ch.FrequencyHz)

		if ch.BiasTee || len(ch.StageGains) > 0 {
			l.opts.Logger.Debug("bias tee and stage gains are not exposed by limedrv, skipping",
				logging.F("channel", ch.Channel))
		}
		l.opts.Logger.Info("channel configured", logging.F("config", ch.String()))
	}

	l.dev = dev
	l.name = devices[idx].DeviceName
	l.channels = append([]ChannelConfig(nil), channels...)
	l.queues = make(map[int]chan []complex64, len(channels))
	l.tails = make(map[int][]complex64, len(channels))
	for _, ch := range channels {
		l.queues[ch.Channel] = make(chan []complex64, l.opts.Stream.KernelBuffers)
	}
	return nil
}

func (l *Lime) Enable(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dev == nil {
		return deviceErr("enable", -1, errors.New("device not configured"))
	}
	if l.running {
		return deviceErr("enable", -1, errors.New("already streaming"))
	}
	l.dev.SetTXCallback(l.feed)
	l.dev.Start()
	l.running = true
	l.opts.Logger.Info("transmit enabled", logging.F("channels", len(l.channels)))
	return nil
}

// feed services the hardware's sample requests from the per-channel queues.
// Requests beyond what Push delivered are zero-filled and counted as
// underruns.
func (l *Lime) feed(data []complex64, channel int) {
	l.mu.Lock()
	q, ok := l.queues[channel]
	tail := l.tails[channel]
	l.mu.Unlock()
	if !ok {
		for i := range data {
			data[i] = 0
		}
		return
	}

	n := 0
	for n < len(data) {
		if len(tail) == 0 {
			select {
			case tail = <-q:
			default:
				l.underruns.Add(1)
				for i := n; i < len(data); i++ {
					data[i] = 0
				}
				n = len(data)
				continue
			}
		}
		c := copy(data[n:], tail)
		tail = tail[c:]
		n += c
	}

	l.mu.Lock()
	l.tails[channel] = tail
	l.mu.Unlock()
}

func (l *Lime) Push(ctx context.Context, frame []int16) error {
	l.mu.Lock()
	running := l.running
	channels := l.channels
	l.mu.Unlock()
	if !running {
		return deviceErr("push", -1, errors.New("device not streaming"))
	}

	want := l.opts.Stream.FrameSamples * 2 * len(channels)
	if len(frame) != want {
		return fmt.Errorf("frame has %d values, want %d", len(frame), want)
	}

	for i, ch := range channels {
		block, err := limeChannelBlock(frame, len(channels), i)
		if err != nil {
			return err
		}
		if err := l.enqueue(ctx, ch.Channel, block); err != nil {
			return err
		}
	}
	return nil
}

// enqueue hands one channel block to the callback queue. The stream timeout
// bounds the wait so a wedged device surfaces as a push failure instead of a
// hang; caller cancellation stays a context error.
func (l *Lime) enqueue(ctx context.Context, channel int, block []complex64) error {
	queue := l.queues[channel]
	if t := l.opts.Stream.Timeout; t > 0 {
		pushCtx, cancel := context.WithTimeout(ctx, t)
		defer cancel()
		select {
		case queue <- block:
			return nil
		case <-pushCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return deviceErr("push", channel, fmt.Errorf("transmit queue full after %s", t))
		}
	}
	select {
	case queue <- block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lime) Disable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dev == nil || !l.running {
		return nil
	}
	l.dev.Stop()
	l.running = false
	l.opts.Logger.Info("transmit disabled")
	return nil
}

func (l *Lime) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.dev == nil {
		return nil
	}
	l.dev.Close()
	l.dev = nil
	return nil
}

// limeChannelBlock extracts channel index's I/Q pairs from the interleaved
// frame and scales the 12-bit samples onto the unit circle.
func limeChannelBlock(frame []int16, numChannels, index int) ([]complex64, error) {
	stride := numChannels * 2
	if len(frame)%stride != 0 {
		return nil, fmt.Errorf("frame length %d not aligned to %d channels", len(frame), numChannels)
	}
	pairs := len(frame) / stride
	out := make([]complex64, pairs)
	const scale = 1.0 / 2048.0
	for n := 0; n < pairs; n++ {
		i := frame[n*stride+2*index]
		q := frame[n*stride+2*index+1]
		out[n] = complex(float32(i)*scale, float32(q)*scale)
	}
	return out, nil
}

// limeNormalizedGain maps the dB gain range onto limedrv's [0, 1] scale.
func limeNormalizedGain(gainDB float64, l Limits) float64 {
	span := l.MaxGainDB - l.MinGainDB
	if span <= 0 {
		return 0
	}
	g := (gainDB - l.MinGainDB) / span
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}
