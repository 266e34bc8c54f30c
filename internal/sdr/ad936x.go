package sdr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdekker/noisetx/iiod"
	"github.com/rdekker/noisetx/internal/logging"
	"github.com/rdekker/noisetx/internal/mdns"
)

const (
	phyDeviceName = "ad9361-phy"
	txDeviceName  = "cf-ad9361-dds"

	// The AD9361 exposes the RX LO on altvoltage0 and the TX LO on
	// altvoltage1.
	txLOChannel = "altvoltage1"
)

// AD936x drives the transmit path of an AD936x front end through a network
// IIOD session. Configure programs the PHY attributes, Enable arms the DAC
// scan channels and opens the stream buffer, Push writes frames through it.
type AD936x struct {
	mu       sync.Mutex
	opts     Options
	dial     func(ctx context.Context, uri string) (*iiod.Client, error)
	client   *iiod.Client
	doc      *iiod.IIOContext
	phyDev   string
	txDev    string
	buffer   *iiod.Buffer
	channels []ChannelConfig
	sysfs    *SSHAttributeWriter
	desc     string
	closed   bool

	pushes   atomic.Uint64
	pushErrs atomic.Uint64
}

// NewAD936x constructs the backend. Nothing is contacted until Configure.
func NewAD936x(opts Options) *AD936x {
	return &AD936x{opts: opts.withDefaults(), dial: iiod.Dial}
}

func (a *AD936x) Limits() Limits { return DefaultLimits() }

func (a *AD936x) Description() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.desc == "" {
		return "AD936x (not connected)"
	}
	return a.desc
}

// Pushes reports the number of frames attempted since Configure.
func (a *AD936x) Pushes() uint64 { return a.pushes.Load() }

// PushErrors reports how many pushes the daemon refused.
func (a *AD936x) PushErrors() uint64 { return a.pushErrs.Load() }

func (a *AD936x) Configure(ctx context.Context, channels []ChannelConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return deviceErr("configure", -1, errors.New("device is closed"))
	}
	if a.client != nil {
		return deviceErr("configure", -1, errors.New("device already configured"))
	}
	if err := a.Limits().Validate(channels); err != nil {
		return err
	}

	uri := a.opts.URI
	if uri == "" {
		locate := a.opts.Locate
		if locate == nil {
			locate = discoverURI
		}
		var err error
		if uri, err = locate(ctx); err != nil {
			return fmt.Errorf("locate device: %w", err)
		}
	}

	log := a.opts.Logger
	log.Info("connecting to IIOD", logging.F("uri", uri))

	client, err := a.dial(ctx, uri)
	if err != nil {
		return deviceNotFound(fmt.Sprintf("connect to %s", uri), err)
	}
	client.Logf = func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}
	fail := func(err error) error {
		_ = client.Close()
		return err
	}

	doc, err := client.Context(ctx)
	if err != nil {
		return fail(deviceErr("configure", -1, err))
	}
	phy, tx := identifyTransmitPath(doc)
	if phy == "" || tx == "" {
		return fail(deviceNotFound(
			fmt.Sprintf("AD936x transmit path not exposed by %s (phy=%q tx=%q)", uri, phy, tx), nil))
	}
	log.Info("device identified",
		logging.F("description", doc.DescriptionShort()),
		logging.F("iiod", doc.Version()),
		logging.F("phy", phy),
		logging.F("tx", tx))

	if a.opts.SSH != nil {
		w, err := NewSSHAttributeWriter(*a.opts.SSH)
		if err != nil {
			return fail(fmt.Errorf("sysfs fallback: %w", err))
		}
		a.sysfs = w
	}
	a.client = client
	a.doc = doc

	// Sample rate is shared by the converter; Validate guaranteed the
	// channel set agrees on it.
	rate := fmt.Sprintf("%.0f", channels[0].SampleRateHz)
	if err := a.writeAttr(ctx, phy, "", "sampling_frequency", rate); err != nil {
		a.client = nil
		return fail(configRejected(channels[0].Channel, "sample_rate", channels[0].SampleRateHz, err))
	}

	if len(channels) == 2 && channels[0].FrequencyHz != channels[1].FrequencyHz {
		// One TX LO serves both channels on this silicon; the last write
		// wins. The configuration still applies so the gain split and
		// channel enables behave as requested.
		log.Warn("paired channels request different centers on a shared TX LO",
			logging.F("ch0_hz", channels[0].FrequencyHz),
			logging.F("ch1_hz", channels[1].FrequencyHz))
	}

	for _, ch := range channels {
		if err := a.configureChannel(ctx, phy, ch); err != nil {
			a.client = nil
			return fail(err)
		}
	}

	a.phyDev = phy
	a.txDev = tx
	a.channels = append([]ChannelConfig(nil), channels...)
	a.desc = fmt.Sprintf("%s via %s", doc.DescriptionShort(), uri)

	if a.opts.Debug {
		a.logReadback(ctx)
	}
	return nil
}

func (a *AD936x) configureChannel(ctx context.Context, phy string, ch ChannelConfig) error {
	log := a.opts.Logger
	chName := fmt.Sprintf("voltage%d", ch.Channel)

	freq := fmt.Sprintf("%.0f", ch.FrequencyHz)
	if err := a.writeAttr(ctx, phy, txLOChannel, "frequency", freq); err != nil {
		return configRejected(ch.Channel, "frequency", ch.FrequencyHz, err)
	}

	bw := fmt.Sprintf("%.0f", ch.BandwidthHz)
	if err := a.writeAttr(ctx, phy, chName, "rf_bandwidth", bw); err != nil {
		return configRejected(ch.Channel, "bandwidth", ch.BandwidthHz, err)
	}

	// TX hardwaregain is attenuation below full scale, so the configured
	// [-15, 60] dB range maps onto [-75, 0].
	gain := txHardwareGain(ch.GainDB, a.Limits().MaxGainDB)
	if err := a.writeAttr(ctx, phy, chName, "hardwaregain", gain); err != nil {
		return configRejected(ch.Channel, "gain", ch.GainDB, err)
	}

	for stage, value := range ch.StageGains {
		if !a.channelHasAttr(phy, chName, stage) {
			log.Debug("gain stage not exposed, skipping",
				logging.F("channel", ch.Channel), logging.F("stage", stage))
			continue
		}
		if err := a.writeAttr(ctx, phy, chName, stage, fmt.Sprintf("%.0f", value)); err != nil {
			return configRejected(ch.Channel, "gain_stage:"+stage, value, err)
		}
	}

	if ch.BiasTee {
		if err := a.writeAttr(ctx, phy, chName, "bias_tee_en", "1"); err != nil {
			// Not every board routes a bias tee; the transmit chain
			// works without it.
			log.Warn("bias tee not available",
				logging.F("channel", ch.Channel), logging.F("err", err))
		}
	}

	log.Info("channel configured", logging.F("config", ch.String()))
	return nil
}

func (a *AD936x) Enable(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return deviceErr("enable", -1, errors.New("device not configured"))
	}
	if a.buffer != nil {
		return deviceErr("enable", -1, errors.New("already streaming"))
	}

	// Scan channels pair up as I/Q per transmit channel, so channel k owns
	// mask bits 2k and 2k+1.
	var mask uint64
	for _, ch := range a.channels {
		mask |= 0x3 << (2 * uint(ch.Channel))
	}

	kb := strconv.Itoa(a.opts.Stream.KernelBuffers)
	if err := a.client.WriteAttr(ctx, a.txDev, "", "kernel_buffers_count", kb); err != nil {
		a.opts.Logger.Debug("kernel buffer depth not adjustable", logging.F("err", err))
	}

	buf, err := a.client.CreateStreamBuffer(ctx, a.txDev, "output",
		a.opts.Stream.FrameSamples, mask, false)
	if err != nil {
		return deviceErr("enable", -1, err)
	}
	a.buffer = buf

	a.opts.Logger.Info("transmit enabled",
		logging.F("channels", len(a.channels)),
		logging.F("mask", fmt.Sprintf("%#x", mask)),
		logging.F("frame_samples", a.opts.Stream.FrameSamples),
		logging.F("scan", strings.Join(buf.EnabledChannels(), ",")))
	return nil
}

func (a *AD936x) Push(ctx context.Context, frame []int16) error {
	a.mu.Lock()
	buf := a.buffer
	want := a.opts.Stream.FrameSamples * 2 * len(a.channels)
	a.mu.Unlock()

	if buf == nil {
		return deviceErr("push", -1, errors.New("device not streaming"))
	}
	if len(frame) != want {
		return fmt.Errorf("frame has %d values, want %d", len(frame), want)
	}

	if t := a.opts.Stream.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	a.pushes.Add(1)
	if err := buf.WriteSamples(ctx, frame); err != nil {
		a.pushErrs.Add(1)
		return deviceErr("push", -1, err)
	}
	return nil
}

func (a *AD936x) Disable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buffer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.buffer.Close(ctx)
	a.buffer = nil
	if err != nil {
		return deviceErr("disable", -1, err)
	}
	a.opts.Logger.Info("transmit disabled")
	return nil
}

func (a *AD936x) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.sysfs != nil {
		_ = a.sysfs.Close()
		a.sysfs = nil
	}
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	a.doc = nil
	if err != nil {
		return deviceErr("close", -1, err)
	}
	return nil
}

// writeAttr writes through the daemon and falls back to sysfs over SSH when
// the daemon rejects the write (older firmware lacks write support for some
// attributes).
func (a *AD936x) writeAttr(ctx context.Context, dev, ch, attr, value string) error {
	err := a.client.WriteAttr(ctx, dev, ch, attr, value)
	if err == nil {
		return nil
	}
	if a.sysfs != nil {
		if serr := a.sysfs.WriteAttribute(ctx, dev, ch, attr, value); serr == nil {
			a.opts.Logger.Debug("attribute written via sysfs fallback",
				logging.F("dev", dev), logging.F("channel", ch), logging.F("attr", attr))
			return nil
		}
	}
	return err
}

func (a *AD936x) channelHasAttr(dev, ch, attr string) bool {
	if a.doc == nil {
		return false
	}
	d, ok := a.doc.FindDevice(dev)
	if !ok {
		return false
	}
	entry, ok := d.Channel(ch, "output")
	if !ok {
		return false
	}
	return entry.HasChannelAttr(attr)
}

// logReadback reports the values the driver actually took, which may be
// rounded against the requested ones.
func (a *AD936x) logReadback(ctx context.Context) {
	log := a.opts.Logger
	if v, err := a.client.ReadAttr(ctx, a.phyDev, "", "sampling_frequency"); err == nil {
		log.Info("readback sample rate", logging.F("hz", v))
	}
	if v, err := a.client.ReadAttr(ctx, a.phyDev, txLOChannel, "frequency"); err == nil {
		log.Info("readback TX LO", logging.F("hz", v))
	}
	for _, ch := range a.channels {
		chName := fmt.Sprintf("voltage%d", ch.Channel)
		if v, err := a.client.ReadAttr(ctx, a.phyDev, chName, "hardwaregain"); err == nil {
			log.Info("readback gain", logging.F("channel", ch.Channel), logging.F("db", v))
		}
	}
	if v, err := a.client.ReadAttr(ctx, a.phyDev, "", "in_temp0_input"); err == nil {
		log.Debug("readback temperature", logging.F("milli_c", v))
	}
}

// identifyTransmitPath finds the PHY and TX DMA device IDs in the context
// document.
func identifyTransmitPath(doc *iiod.IIOContext) (phy, tx string) {
	for _, d := range doc.Devices {
		name := strings.ToLower(d.Name)
		id := strings.ToLower(d.ID)
		switch {
		case strings.Contains(name, phyDeviceName) || strings.Contains(id, phyDeviceName):
			phy = d.ID
		case strings.Contains(name, txDeviceName) || strings.Contains(id, txDeviceName):
			tx = d.ID
		}
	}
	return phy, tx
}

// txHardwareGain renders the attenuation value for out_voltage_hardwaregain.
func txHardwareGain(gainDB, maxDB float64) string {
	return fmt.Sprintf("%.2f", gainDB-maxDB)
}

func configRejected(channel int, param string, value any, cause error) *ConfigError {
	return configErr(channel, param, value, fmt.Sprintf("driver rejected: %v", cause))
}

func deviceNotFound(what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", what, ErrDeviceNotFound)
	}
	return fmt.Errorf("%s: %w: %v", what, ErrDeviceNotFound, cause)
}

// discoverURI is the default open-by-enumeration hook: take the first IIOD
// responder on the local network.
func discoverURI(ctx context.Context) (string, error) {
	host, err := mdns.First(ctx, 5*time.Second)
	if err != nil {
		if errors.Is(err, mdns.ErrNoHosts) {
			return "", fmt.Errorf("mDNS discovery: %w", ErrDeviceNotFound)
		}
		return "", fmt.Errorf("mDNS discovery: %w", err)
	}
	return host.Addr(), nil
}
