package telemetry

import (
	"sync"

	"github.com/rdekker/noisetx/internal/logging"
)

// Reporter consumes transmitter progress samples.
type Reporter interface {
	Report(sample Sample)
}

// Nop returns a Reporter that discards every sample.
func Nop() Reporter { return nopReporter{} }

type nopReporter struct{}

func (nopReporter) Report(Sample) {}

// StdoutReporter writes progress lines through the process logger. State
// changes always log; between them at most one line per every frames.
type StdoutReporter struct {
	logger logging.Logger
	every  uint64

	mu         sync.Mutex
	lastState  string
	lastFrames uint64
}

// NewStdoutReporter builds a reporter logging once per every frames, or on
// every sample when every is 0.
func NewStdoutReporter(logger logging.Logger, every uint64) *StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &StdoutReporter{logger: logger, every: every}
}

func (r *StdoutReporter) Report(s Sample) {
	r.mu.Lock()
	due := s.State != r.lastState || r.every == 0 || s.Frames >= r.lastFrames+r.every
	if due {
		r.lastState = s.State
		r.lastFrames = s.Frames
	}
	r.mu.Unlock()
	if !due {
		return
	}

	fields := []logging.Field{
		logging.F("subsystem", "telemetry"),
		logging.F("state", s.State),
		logging.F("frames", s.Frames),
		logging.F("samples", s.Samples),
	}
	if s.Retries > 0 {
		fields = append(fields, logging.F("retries", s.Retries))
	}
	if s.PushErrors > 0 {
		fields = append(fields, logging.F("push_errors", s.PushErrors))
	}
	if s.FlatnessDB != 0 {
		fields = append(fields, logging.F("flatness_db", s.FlatnessDB))
	}
	r.logger.Info("progress", fields...)
}
