// Package app drives a transmit session: configure the device, arm it, and
// stream noise frames until cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rdekker/noisetx/internal/dsp"
	"github.com/rdekker/noisetx/internal/logging"
	"github.com/rdekker/noisetx/internal/noise"
	"github.com/rdekker/noisetx/internal/sdr"
	"github.com/rdekker/noisetx/internal/telemetry"
)

// flatnessInterval is how many frames pass between flatness probes when the
// self check is enabled.
const flatnessInterval = 512

// State tracks where a session is in its lifecycle. A session moves forward
// only: once Stopped it never streams again, a fresh Transmitter does.
type State int

const (
	Idle State = iota
	Configured
	Streaming
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config carries one session's parameters.
type Config struct {
	// Channels is the full channel set, one or two entries. Dual sessions
	// apply and arm both channels as a single critical section.
	Channels []sdr.ChannelConfig
	// FrameSamples is the number of I/Q pairs per channel in one frame.
	FrameSamples int
	// Pacing is the sleep between pushes. Zero means the 1 ms default;
	// negative disables pacing.
	Pacing time.Duration
	// PushRetryWait is the wait before the single retry of a failed push.
	PushRetryWait time.Duration
	// Seed seeds the noise generator. Zero derives one from the clock.
	Seed int64
	// ReuseFrame keeps one noise frame across pushes and refreshes it with
	// probability RefillChance instead of regenerating every iteration.
	ReuseFrame bool
	// RefillChance is the per-push refresh probability in reuse mode.
	// Zero means the historical 1/100; negative never refreshes.
	RefillChance float64
	// SelfCheck scores generated noise with a spectral flatness probe at
	// startup and every flatnessInterval frames, reporting the result
	// through telemetry. Costs one FFT pass per scored frame.
	SelfCheck bool
}

func (c Config) withDefaults() Config {
	if c.FrameSamples <= 0 {
		c.FrameSamples = sdr.DefaultStreamParams().FrameSamples
	}
	if c.Pacing == 0 {
		c.Pacing = time.Millisecond
	}
	if c.PushRetryWait <= 0 {
		c.PushRetryWait = 250 * time.Millisecond
	}
	if c.ReuseFrame && c.RefillChance == 0 {
		c.RefillChance = 0.01
	}
	return c
}

// Transmitter owns one device handle for the life of a session and walks it
// through configure, stream, stop.
type Transmitter struct {
	dev      sdr.Device
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config
	gen      *noise.Generator
	analyzer *dsp.Analyzer

	mu         sync.Mutex
	state      State
	channels   []telemetry.ChannelStatus
	frames     uint64
	samples    uint64
	retries    uint64
	pushErrors uint64
	flatnessDB float64

	stopOnce sync.Once
	stopErr  error
}

// New builds a Transmitter in Idle. The device handle passes into the
// transmitter's exclusive ownership; nil reporter and logger get defaults.
func New(dev sdr.Device, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Transmitter {
	if logger == nil {
		logger = logging.Default()
	}
	if reporter == nil {
		reporter = telemetry.Nop()
	}
	cfg = cfg.withDefaults()
	return &Transmitter{
		dev:      dev,
		reporter: reporter,
		logger:   logger,
		cfg:      cfg,
		gen:      noise.NewGenerator(cfg.Seed),
		state:    Idle,
	}
}

// State reports the session state.
func (t *Transmitter) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Frames reports how many frames have been pushed successfully.
func (t *Transmitter) Frames() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Retries reports how many push retries have run.
func (t *Transmitter) Retries() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// Configure validates the full channel set and applies it to the device as
// one critical section: either every channel is accepted or nothing is. On
// success the session moves from Idle to Configured.
func (t *Transmitter) Configure(ctx context.Context) error {
	if err := t.require(Idle, "configure"); err != nil {
		return err
	}

	if err := t.dev.Limits().Validate(t.cfg.Channels); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := t.dev.Configure(ctx, t.cfg.Channels); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	t.mu.Lock()
	t.state = Configured
	t.channels = channelStatuses(t.cfg.Channels)
	t.mu.Unlock()

	for _, ch := range t.cfg.Channels {
		t.logger.Info("channel configured", logging.F("channel", ch.String()))
	}
	t.report()
	return nil
}

// Start arms the configured channel set jointly; a dual session's channels
// begin streaming together or not at all. Configured to Streaming.
func (t *Transmitter) Start(ctx context.Context) error {
	if err := t.require(Configured, "start"); err != nil {
		return err
	}

	if err := t.dev.Enable(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	t.mu.Lock()
	t.state = Streaming
	t.mu.Unlock()

	t.logger.Info("streaming",
		logging.F("device", t.dev.Description()),
		logging.F("channels", len(t.cfg.Channels)),
		logging.F("frame_samples", t.cfg.FrameSamples))
	t.report()
	return nil
}

// Run streams frames until ctx is cancelled or a push fails twice in a row.
// Cancellation is a clean exit: Run returns nil and the caller's deferred
// Stop releases the device.
func (t *Transmitter) Run(ctx context.Context) error {
	if err := t.require(Streaming, "run"); err != nil {
		return err
	}

	frame := t.newFrame()
	if t.cfg.SelfCheck {
		t.scoreFrame(frame)
	}

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stream cancelled", logging.F("frames", t.Frames()))
			return nil
		default:
		}

		if err := t.push(ctx, frame); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.logger.Info("stream cancelled", logging.F("frames", t.Frames()))
				return nil
			}
			return fmt.Errorf("push frame: %w", err)
		}
		t.account(frame)

		if t.cfg.Pacing > 0 {
			select {
			case <-time.After(t.cfg.Pacing):
			case <-ctx.Done():
			}
		}

		t.refreshFrame(frame)
	}
}

// Stop disables the channels and releases the handle. The teardown runs
// once no matter how often Stop is called; later calls return the first
// result. The session always ends in Stopped.
func (t *Transmitter) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.state = Stopped
		frames, samples := t.frames, t.samples
		t.mu.Unlock()

		if err := t.dev.Disable(); err != nil {
			t.stopErr = fmt.Errorf("disable: %w", err)
		}
		if err := t.dev.Close(); err != nil && t.stopErr == nil {
			t.stopErr = fmt.Errorf("close: %w", err)
		}

		t.logger.Info("stopped", logging.F("frames", frames), logging.F("samples", samples))
		t.report()
	})
	return t.stopErr
}

// Session runs the full lifecycle: configure, start, stream until ctx ends,
// stop. Stop is deferred, so a fatal error still releases the device before
// Session returns.
func (t *Transmitter) Session(ctx context.Context) (err error) {
	defer func() {
		if stopErr := t.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if err = t.Configure(ctx); err != nil {
		return err
	}
	if err = t.Start(ctx); err != nil {
		return err
	}
	return t.Run(ctx)
}

// push tries one frame, retrying once after PushRetryWait. The second
// failure in a row is fatal. Context cancellation is never retried.
func (t *Transmitter) push(ctx context.Context, frame []int16) error {
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			t.mu.Lock()
			t.retries++
			t.mu.Unlock()
			t.logger.Warn("retrying push", logging.F("frames", t.Frames()))
		}
		err := t.dev.Push(ctx, frame)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		t.mu.Lock()
		t.pushErrors++
		t.mu.Unlock()
		t.logger.Warn("push failed", logging.F("attempt", attempts), logging.F("error", err.Error()))
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(t.cfg.PushRetryWait), 1)
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func (t *Transmitter) newFrame() []int16 {
	if len(t.cfg.Channels) == 2 {
		return t.gen.DualFrame(t.cfg.FrameSamples)
	}
	return t.gen.Frame(t.cfg.FrameSamples)
}

// refreshFrame prepares the buffer for the next push in place.
func (t *Transmitter) refreshFrame(frame []int16) {
	if t.cfg.ReuseFrame {
		t.gen.MaybeRefill(frame, t.cfg.RefillChance)
		return
	}
	t.gen.Fill(frame)
}

func (t *Transmitter) account(frame []int16) {
	t.mu.Lock()
	t.frames++
	t.samples += uint64(len(frame) / 2)
	frames := t.frames
	t.mu.Unlock()

	if t.cfg.SelfCheck && frames%flatnessInterval == 0 {
		t.scoreFrame(frame)
	}
	t.report()
}

func (t *Transmitter) scoreFrame(frame []int16) {
	if t.analyzer == nil || t.analyzer.FrameLen() != len(frame) {
		t.analyzer = dsp.NewAnalyzer(len(frame))
	}
	flat := t.analyzer.Flatness(frame)
	db := dsp.FlatnessDB(flat)

	t.mu.Lock()
	t.flatnessDB = db
	t.mu.Unlock()

	t.logger.Debug("noise flatness", logging.F("flatness", flat), logging.F("flatness_db", db))
}

func (t *Transmitter) require(want State, op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != want {
		return fmt.Errorf("%s: invalid in state %s", op, t.state)
	}
	return nil
}

func (t *Transmitter) report() {
	t.reporter.Report(t.sample())
}

func (t *Transmitter) sample() telemetry.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return telemetry.Sample{
		Time:       time.Now(),
		State:      t.state.String(),
		Frames:     t.frames,
		Samples:    t.samples,
		Retries:    t.retries,
		PushErrors: t.pushErrors,
		FlatnessDB: t.flatnessDB,
		Channels:   append([]telemetry.ChannelStatus(nil), t.channels...),
	}
}

func channelStatuses(channels []sdr.ChannelConfig) []telemetry.ChannelStatus {
	out := make([]telemetry.ChannelStatus, 0, len(channels))
	for _, ch := range channels {
		out = append(out, telemetry.ChannelStatus{
			Channel:      ch.Channel,
			FrequencyHz:  ch.FrequencyHz,
			BandwidthHz:  ch.BandwidthHz,
			SampleRateHz: ch.SampleRateHz,
			GainDB:       ch.GainDB,
		})
	}
	return out
}
