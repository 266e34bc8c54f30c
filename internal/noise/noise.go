// Package noise generates white noise frames for the transmit path.
package noise

import (
	"math/rand"
	"time"
)

// Sample format constants for the 12-bit DAC carried in 16-bit containers
// (SC16 Q11).
const (
	// FullScale is the DAC's largest representable magnitude.
	FullScale = 2047
	// Headroom backs the drive level off full scale to keep the analog
	// chain out of compression.
	Headroom = 0.95
	// MaxAmplitude is the largest magnitude Fill emits: FullScale scaled
	// by Headroom, truncated toward zero.
	MaxAmplitude = int16(FullScale * Headroom)
)

// Generator produces uniform white noise. Each I and Q value is drawn
// independently over the full DAC range, which spreads the transmitted
// energy flat across the configured bandwidth.
//
// A Generator is not safe for concurrent use; the streaming loop owns it.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator. Seed 0 derives one from the clock; any
// other value gives a reproducible sequence.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Fill overwrites dst with fresh noise.
func (g *Generator) Fill(dst []int16) {
	for i := range dst {
		dst[i] = g.sample()
	}
}

// Frame allocates and fills one single-channel frame of n I/Q pairs,
// interleaved I then Q (2n values).
func (g *Generator) Frame(n int) []int16 {
	frame := make([]int16, 2*n)
	g.Fill(frame)
	return frame
}

// DualFrame allocates and fills one two-channel frame of n I/Q pairs per
// channel in the X2 buffer layout: ch0I, ch0Q, ch1I, ch1Q per sample
// (4n values). Every value is independent, so the layout costs nothing here
// and matters only to the stream buffer consuming it.
func (g *Generator) DualFrame(n int) []int16 {
	frame := make([]int16, 4*n)
	g.Fill(frame)
	return frame
}

// MaybeRefill regenerates frame with probability p and reports whether it
// did. The single-band transmitters historically reused a frame and
// refreshed it roughly every hundredth push.
func (g *Generator) MaybeRefill(frame []int16, p float64) bool {
	if p <= 0 {
		return false
	}
	if p < 1 && g.rng.Float64() >= p {
		return false
	}
	g.Fill(frame)
	return true
}

func (g *Generator) sample() int16 {
	// Uniform over [-FullScale, FullScale], then scaled by the headroom
	// with truncation toward zero, matching the DAC drive level the
	// hardware was tuned with.
	v := g.rng.Intn(2*FullScale+1) - FullScale
	return int16(float64(v) * Headroom)
}
