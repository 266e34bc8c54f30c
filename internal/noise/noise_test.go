package noise

import (
	"testing"

	"pgregory.net/rapid"
)

func TestFrameBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Int64().Draw(t, "seed")
		n := rapid.IntRange(1, 4096).Draw(t, "n")

		frame := NewGenerator(seed).Frame(n)
		if len(frame) != 2*n {
			t.Fatalf("frame length %d, want %d", len(frame), 2*n)
		}
		for i, v := range frame {
			if v > MaxAmplitude || v < -MaxAmplitude {
				t.Fatalf("sample %d = %d exceeds amplitude bound %d", i, v, MaxAmplitude)
			}
		}
	})
}

func TestDualFrameLayout(t *testing.T) {
	frame := NewGenerator(5).DualFrame(1024)
	if len(frame) != 4*1024 {
		t.Fatalf("dual frame length %d, want %d", len(frame), 4*1024)
	}
	for i, v := range frame {
		if v > MaxAmplitude || v < -MaxAmplitude {
			t.Fatalf("sample %d = %d exceeds amplitude bound %d", i, v, MaxAmplitude)
		}
	}
}

func TestSeedDeterminism(t *testing.T) {
	a := NewGenerator(42).Frame(1024)
	b := NewGenerator(42).Frame(1024)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at sample %d", i)
		}
	}
	c := NewGenerator(43).Frame(1024)
	if equalFrames(a, c) {
		t.Fatalf("different seeds produced identical frames")
	}
}

func TestConsecutiveFramesDiffer(t *testing.T) {
	g := NewGenerator(7)
	prev := g.Frame(8192)
	for i := 0; i < 4; i++ {
		next := g.Frame(8192)
		if equalFrames(prev, next) {
			t.Fatalf("iteration %d repeated the previous frame", i)
		}
		prev = next
	}
}

func TestFrameMeanNearZero(t *testing.T) {
	frame := NewGenerator(1).Frame(16384)
	var sum int64
	for _, v := range frame {
		sum += int64(v)
	}
	mean := float64(sum) / float64(len(frame))
	if mean > 50 || mean < -50 {
		t.Fatalf("frame mean %.2f, want near zero", mean)
	}
}

func TestMaybeRefill(t *testing.T) {
	g := NewGenerator(99)
	frame := g.Frame(256)

	orig := append([]int16(nil), frame...)
	if g.MaybeRefill(frame, 0) {
		t.Fatalf("p=0 refilled")
	}
	if !equalFrames(frame, orig) {
		t.Fatalf("p=0 modified the frame")
	}
	if !g.MaybeRefill(frame, 1) {
		t.Fatalf("p=1 did not refill")
	}
	if equalFrames(frame, orig) {
		t.Fatalf("p=1 left the frame unchanged")
	}

	// Across many rolls at p=0.5 both outcomes must occur.
	hits := 0
	for i := 0; i < 200; i++ {
		if g.MaybeRefill(frame, 0.5) {
			hits++
		}
	}
	if hits == 0 || hits == 200 {
		t.Fatalf("p=0.5 produced %d refills out of 200", hits)
	}
}

func equalFrames(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
