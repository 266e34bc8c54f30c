package sdr

import (
	"context"
	"fmt"
	"time"

	"github.com/rdekker/noisetx/internal/logging"
)

// ChannelConfig carries the transmit settings for one channel.
type ChannelConfig struct {
	Channel      int
	FrequencyHz  float64
	BandwidthHz  float64
	SampleRateHz float64
	GainDB       float64

	// BiasTee powers an external amplifier through the RF port when the
	// hardware supports it. Applied best effort.
	BiasTee bool

	// StageGains overrides named amplifier stages (attenuators and the
	// like) that the overall GainDB does not reach. Unknown stages are
	// skipped. Applied best effort.
	StageGains map[string]float64
}

func (c ChannelConfig) String() string {
	return fmt.Sprintf("ch%d %.3f MHz bw %.3f MHz %.3f MSPS gain %.1f dB",
		c.Channel, c.FrequencyHz/1e6, c.BandwidthHz/1e6, c.SampleRateHz/1e6, c.GainDB)
}

// StreamParams sizes the transmit stream.
type StreamParams struct {
	// FrameSamples is the number of I/Q pairs per channel in one pushed
	// frame.
	FrameSamples int
	// KernelBuffers is the queue depth requested from the driver.
	KernelBuffers int
	// Timeout bounds a single blocking push.
	Timeout time.Duration
}

// DefaultStreamParams returns the stream sizing used by the shipped
// transmitters.
func DefaultStreamParams() StreamParams {
	return StreamParams{
		FrameSamples:  8192,
		KernelBuffers: 16,
		Timeout:       3500 * time.Millisecond,
	}
}

func (p StreamParams) withDefaults() StreamParams {
	d := DefaultStreamParams()
	if p.FrameSamples <= 0 {
		p.FrameSamples = d.FrameSamples
	}
	if p.KernelBuffers <= 0 {
		p.KernelBuffers = d.KernelBuffers
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Limits describes what the hardware accepts. Validation failures map to
// ConfigError before anything touches the device.
type Limits struct {
	MinFrequencyHz   float64
	MaxFrequencyHz   float64
	MinSampleRateHz  float64
	MaxSampleRateHz  float64
	MinBandwidthHz   float64
	MaxBandwidthHz   float64
	MinGainDB        float64
	MaxGainDB        float64
	GainSumCeilingDB float64
	MaxChannels      int
}

// DefaultLimits returns the AD936x-class envelope shared by the supported
// front ends.
func DefaultLimits() Limits {
	return Limits{
		MinFrequencyHz:   70e6,
		MaxFrequencyHz:   6e9,
		MinSampleRateHz:  520833,
		MaxSampleRateHz:  61.44e6,
		MinBandwidthHz:   200e3,
		MaxBandwidthHz:   56e6,
		MinGainDB:        -15,
		MaxGainDB:        60,
		GainSumCeilingDB: 60,
		MaxChannels:      2,
	}
}

// Validate checks a channel set against the limits. The first violation is
// returned as a ConfigError.
func (l Limits) Validate(channels []ChannelConfig) error {
	if len(channels) == 0 {
		return configErr(-1, "channels", 0, "at least one channel is required")
	}
	if len(channels) > l.MaxChannels {
		return configErr(-1, "channels", len(channels),
			fmt.Sprintf("device supports at most %d channels", l.MaxChannels))
	}

	seen := make(map[int]bool, len(channels))
	for _, ch := range channels {
		if ch.Channel < 0 || ch.Channel >= l.MaxChannels {
			return configErr(ch.Channel, "channel", ch.Channel,
				fmt.Sprintf("channel index must be in [0, %d]", l.MaxChannels-1))
		}
		if seen[ch.Channel] {
			return configErr(ch.Channel, "channel", ch.Channel, "channel configured twice")
		}
		seen[ch.Channel] = true

		if ch.FrequencyHz < l.MinFrequencyHz || ch.FrequencyHz > l.MaxFrequencyHz {
			return configErr(ch.Channel, "frequency", ch.FrequencyHz,
				fmt.Sprintf("must be in [%.0f, %.0f] Hz", l.MinFrequencyHz, l.MaxFrequencyHz))
		}
		if ch.SampleRateHz < l.MinSampleRateHz || ch.SampleRateHz > l.MaxSampleRateHz {
			return configErr(ch.Channel, "sample_rate", ch.SampleRateHz,
				fmt.Sprintf("must be in [%.0f, %.0f] Hz", l.MinSampleRateHz, l.MaxSampleRateHz))
		}
		if ch.BandwidthHz < l.MinBandwidthHz || ch.BandwidthHz > l.MaxBandwidthHz {
			return configErr(ch.Channel, "bandwidth", ch.BandwidthHz,
				fmt.Sprintf("must be in [%.0f, %.0f] Hz", l.MinBandwidthHz, l.MaxBandwidthHz))
		}
		if ch.GainDB < l.MinGainDB || ch.GainDB > l.MaxGainDB {
			return configErr(ch.Channel, "gain", ch.GainDB,
				fmt.Sprintf("must be in [%.0f, %.0f] dB", l.MinGainDB, l.MaxGainDB))
		}
	}

	if len(channels) == 2 {
		// Paired channels run off one converter clock.
		if channels[0].SampleRateHz != channels[1].SampleRateHz {
			return configErr(channels[1].Channel, "sample_rate", channels[1].SampleRateHz,
				"paired channels must share one sample rate")
		}
		// The amplifier headroom is shared; the gain budget splits
		// across active channels.
		sum := channels[0].GainDB + channels[1].GainDB
		if sum > l.GainSumCeilingDB {
			return configErr(channels[1].Channel, "gain", channels[1].GainDB,
				fmt.Sprintf("combined gain %.1f dB exceeds the %.0f dB ceiling", sum, l.GainSumCeilingDB))
		}
	}
	return nil
}

// Device captures the transmit operations the streaming loop needs. A Device
// is owned by exactly one session; none of the implementations tolerate
// concurrent pushes.
type Device interface {
	// Configure applies the whole channel set. Either every channel is
	// accepted or the device is left untouched.
	Configure(ctx context.Context, channels []ChannelConfig) error
	// Enable arms the configured channels for streaming in one step.
	Enable(ctx context.Context) error
	// Push streams one frame of interleaved I/Q samples. It blocks while
	// the driver's queue is full.
	Push(ctx context.Context, frame []int16) error
	// Disable stops transmission on all channels. Safe to call more than
	// once.
	Disable() error
	// Close releases the device handle. Safe to call more than once.
	Close() error

	Limits() Limits
	Description() string
}

// Options carries backend construction parameters shared by the hardware
// implementations.
type Options struct {
	// URI addresses the device (host:port for IIOD). Empty means locate
	// one by enumeration.
	URI string
	// Locate resolves a device address when URI is empty. Defaults to
	// mDNS discovery for the IIOD backend.
	Locate func(ctx context.Context) (string, error)
	Stream StreamParams
	// SSH, when set, enables the sysfs fallback for attribute writes the
	// daemon rejects.
	SSH    *SSHConfig
	Logger logging.Logger
	// Debug enables hardware readback logging on configure.
	Debug bool
}

func (o Options) withDefaults() Options {
	o.Stream = o.Stream.withDefaults()
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}
