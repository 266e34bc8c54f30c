package iiod

import (
	"encoding/binary"
	"fmt"
)

// Sample wire helpers for AD936x-class converters: every sample is a
// little-endian int16, interleaved I then Q, channels ordered by scan index.

// FormatInt16 renders samples as little-endian bytes for a buffer write.
func FormatInt16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return data
}

// ParseInt16 decodes little-endian bytes into samples.
func ParseInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("raw sample data length %d is odd", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples, nil
}

// InterleaveChannels merges per-channel I/Q streams into buffer layout:
// sample n of channel 0, then sample n of channel 1, and so on. Each input
// slice is already I/Q interleaved for its own channel.
func InterleaveChannels(channels ...[]int16) ([]int16, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels provided")
	}
	per := len(channels[0])
	for i, ch := range channels {
		if len(ch) != per {
			return nil, fmt.Errorf("channel %d has %d values, want %d", i, len(ch), per)
		}
		if len(ch)%2 != 0 {
			return nil, fmt.Errorf("channel %d length %d is not I/Q aligned", i, len(ch))
		}
	}
	out := make([]int16, per*len(channels))
	pairs := per / 2
	for n := 0; n < pairs; n++ {
		base := n * 2 * len(channels)
		for c, ch := range channels {
			out[base+2*c] = ch[2*n]
			out[base+2*c+1] = ch[2*n+1]
		}
	}
	return out, nil
}

// DeinterleaveChannel extracts one channel's I/Q stream from buffer layout.
func DeinterleaveChannel(samples []int16, numChannels, index int) ([]int16, error) {
	if numChannels <= 0 {
		return nil, fmt.Errorf("numChannels must be positive")
	}
	if index < 0 || index >= numChannels {
		return nil, fmt.Errorf("channel index %d out of range", index)
	}
	stride := numChannels * 2
	if len(samples)%stride != 0 {
		return nil, fmt.Errorf("sample count %d not divisible by %d channels", len(samples), numChannels)
	}
	pairs := len(samples) / stride
	out := make([]int16, pairs*2)
	for n := 0; n < pairs; n++ {
		out[2*n] = samples[n*stride+2*index]
		out[2*n+1] = samples[n*stride+2*index+1]
	}
	return out, nil
}
