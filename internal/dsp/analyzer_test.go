package dsp

import (
	"math"
	"testing"

	"github.com/rdekker/noisetx/internal/noise"
)

func TestAnalyzerMatchesUncached(t *testing.T) {
	frame := noise.NewGenerator(21).Frame(2048)
	a := NewAnalyzer(len(frame))

	if got, want := a.Flatness(frame), SpectralFlatness(frame); math.Abs(got-want) > 1e-9 {
		t.Fatalf("cached flatness %.12f, uncached %.12f", got, want)
	}

	want := SpectrumDBFS(frame)
	got := a.SpectrumDBFS(frame)
	if len(got) != len(want) {
		t.Fatalf("spectrum length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("bin %d: cached %.6f, uncached %.6f", i, got[i], want[i])
		}
	}
}

func TestAnalyzerFallback(t *testing.T) {
	a := NewAnalyzer(4096)
	if a.FrameLen() != 4096 {
		t.Fatalf("frame length %d, want 4096", a.FrameLen())
	}

	small := noise.NewGenerator(2).Frame(256)
	if got := a.SpectrumDBFS(small); len(got) != 256 {
		t.Fatalf("fallback spectrum has %d bins, want 256", len(got))
	}
	// A 256-sample frame is a single periodogram, so the score sits well
	// below the averaged case; it still has to be a valid ratio.
	if flat := a.Flatness(small); flat <= 0 || flat > 1 {
		t.Fatalf("fallback flatness %.4f outside (0, 1]", flat)
	}
}
