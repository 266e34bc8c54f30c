package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rdekker/noisetx/internal/logging"
)

func TestStdoutReporterGatesByFrames(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Debug, logging.Text, &buf), 100)

	r.Report(Sample{State: "streaming", Frames: 0})   // state change, logs
	r.Report(Sample{State: "streaming", Frames: 50})  // gated
	r.Report(Sample{State: "streaming", Frames: 100}) // due
	r.Report(Sample{State: "streaming", Frames: 150}) // gated
	r.Report(Sample{State: "stopped", Frames: 160})   // state change, logs

	lines := strings.Count(buf.String(), "\n")
	if lines != 3 {
		t.Fatalf("expected 3 log lines, got %d: %q", lines, buf.String())
	}
	if !strings.Contains(buf.String(), "state=stopped") {
		t.Fatalf("missing final state line: %q", buf.String())
	}
}

func TestStdoutReporterEveryZeroLogsAll(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Debug, logging.Text, &buf), 0)

	for i := 0; i < 4; i++ {
		r.Report(Sample{State: "streaming", Frames: uint64(i)})
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 4 {
		t.Fatalf("expected 4 log lines, got %d", lines)
	}
}

func TestNopReporter(t *testing.T) {
	Nop().Report(Sample{State: "streaming"}) // must not panic
}
