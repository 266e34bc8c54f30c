package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rdekker/noisetx/internal/logging"
	"github.com/rdekker/noisetx/internal/sdr"
	"github.com/rdekker/noisetx/internal/telemetry"
)

const (
	envPrefix   = "NOISETX_"
	profilePath = "noisetx.json"

	// logEveryFrames gates the stdout progress line. With the default 1 ms
	// pacing that is one line every second or two.
	logEveryFrames = 1000
)

// Profile is the optional persisted device profile next to the binary. It
// carries what differs between installations; the transmit parameters
// themselves are compiled into each command.
type Profile struct {
	Backend      string `json:"backend"`
	URI          string `json:"uri"`
	HTTPAddr     string `json:"http_addr"`
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`
	HistoryLimit int    `json:"history_limit"`
	SSHHost      string `json:"ssh_host"`
	SSHUser      string `json:"ssh_user"`
	SSHPassword  string `json:"ssh_password"`
	SSHKeyPath   string `json:"ssh_key_path"`
}

func defaultProfile() Profile {
	return Profile{
		Backend:      "iiod",
		LogLevel:     "info",
		LogFormat:    "text",
		HistoryLimit: 500,
	}
}

// Main runs one transmit session to completion and returns the process exit
// code: 0 after a clean stop, including interrupts, 1 after a fatal error.
// Command mains call it with their compiled-in channel set.
func Main(name string, channels []sdr.ChannelConfig) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, name, channels, os.LookupEnv)
}

// run is Main with the lifetime context and environment injected for tests.
func run(ctx context.Context, name string, channels []sdr.ChannelConfig, lookup func(string) (string, bool)) int {
	profile, err := loadOrCreateProfile(profilePath)
	if err != nil {
		logging.Default().Error("load device profile",
			logging.F("path", profilePath), logging.F("error", err.Error()))
		return 1
	}

	logger := buildLogger(profile, lookup)
	logging.SetDefault(logger)
	logger = logger.With(logging.F("cmd", name))

	debug := envBool(lookup, envPrefix+"DEBUG", false)
	dev, err := newDevice(profile, lookup, logger, debug)
	if err != nil {
		logger.Error("select backend", logging.F("error", err.Error()))
		return 1
	}

	tx := New(dev, buildReporter(ctx, profile, lookup, logger), logger, Config{
		Channels:  channels,
		Seed:      envInt64(lookup, envPrefix+"SEED", 0),
		SelfCheck: debug,
	})

	logger.Info("starting transmit session", logging.F("channels", len(channels)))
	err = tx.Session(ctx)
	if err == nil {
		logger.Info("clean shutdown")
		return 0
	}

	var cfgErr *sdr.ConfigError
	var devErr *sdr.DeviceError
	switch {
	case errors.Is(err, sdr.ErrDeviceNotFound):
		logger.Error("no transmit device reachable", logging.F("error", err.Error()))
	case errors.As(err, &cfgErr):
		logger.Error("configuration rejected",
			logging.F("channel", cfgErr.Channel),
			logging.F("param", cfgErr.Param),
			logging.F("reason", cfgErr.Reason))
	case errors.As(err, &devErr):
		logger.Error("device failure",
			logging.F("op", devErr.Op), logging.F("error", err.Error()))
	default:
		logger.Error("session failed", logging.F("error", err.Error()))
	}
	return 1
}

func buildLogger(p Profile, lookup func(string) (string, bool)) logging.Logger {
	level, err := logging.ParseLevel(envString(lookup, envPrefix+"LOG_LEVEL", p.LogLevel))
	if err != nil {
		level = logging.Info
	}
	format, err := logging.ParseFormat(envString(lookup, envPrefix+"LOG_FORMAT", p.LogFormat))
	if err != nil {
		format = logging.Text
	}
	return logging.New(level, format, os.Stderr)
}

func newDevice(p Profile, lookup func(string) (string, bool), logger logging.Logger, debug bool) (sdr.Device, error) {
	backend := envString(lookup, envPrefix+"BACKEND", p.Backend)
	opts := sdr.Options{
		URI:    envString(lookup, envPrefix+"URI", p.URI),
		Logger: logger,
		Debug:  debug,
	}
	if host := envString(lookup, envPrefix+"SSH_HOST", p.SSHHost); host != "" {
		opts.SSH = &sdr.SSHConfig{
			Host:     host,
			User:     envString(lookup, envPrefix+"SSH_USER", p.SSHUser),
			Password: envString(lookup, envPrefix+"SSH_PASSWORD", p.SSHPassword),
			KeyPath:  envString(lookup, envPrefix+"SSH_KEY_PATH", p.SSHKeyPath),
		}
	}

	switch backend {
	case "", "iiod":
		return sdr.NewAD936x(opts), nil
	case "lime":
		return sdr.NewLime(opts), nil
	case "mock":
		return sdr.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want mock, iiod, or lime)", backend)
	}
}

func buildReporter(ctx context.Context, p Profile, lookup func(string) (string, bool), logger logging.Logger) telemetry.Reporter {
	reporters := telemetry.MultiReporter{
		telemetry.NewStdoutReporter(logger, logEveryFrames),
	}
	if addr := envString(lookup, envPrefix+"HTTP_ADDR", p.HTTPAddr); addr != "" {
		hub := telemetry.NewHub(p.HistoryLimit)
		reporters = append(reporters, hub)
		go telemetry.NewServer(addr, hub, logger).Start(ctx)
		logger.Info("telemetry endpoint", logging.F("addr", addr))
	}
	return reporters
}

func loadOrCreateProfile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			p := defaultProfile()
			if saveErr := saveProfile(path, p); saveErr != nil {
				return Profile{}, saveErr
			}
			return p, nil
		}
		return Profile{}, err
	}
	defer f.Close()

	var p Profile
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func saveProfile(path string, p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envInt64(lookup func(string) (string, bool), key string, def int64) int64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}
