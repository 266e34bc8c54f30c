package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   Debug,
		"INFO":    Info,
		"":        Info,
		"warning": Warn,
		"error":   Error,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("quiet")
	l.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info entry leaked past warn filter: %q", out)
	}
	if !strings.Contains(out, "[WARN] loud") {
		t.Fatalf("missing warn entry: %q", out)
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, JSON, &buf).With(F("channel", 1))
	l.Info("configured", F("freq_hz", 1575420000.0))

	line := strings.TrimSpace(buf.String())
	idx := strings.IndexByte(line, '{')
	if idx < 0 {
		t.Fatalf("no JSON object in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["msg"] != "configured" {
		t.Fatalf("msg = %v", payload["msg"])
	}
	if payload["channel"] != float64(1) {
		t.Fatalf("context field lost: %v", payload["channel"])
	}
	if payload["freq_hz"] != 1575420000.0 {
		t.Fatalf("freq_hz = %v", payload["freq_hz"])
	}
}
