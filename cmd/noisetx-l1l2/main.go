// Command noisetx-l1l2 transmits wideband noise on the GPS L1 and L2
// carriers at once, one carrier per transmit channel. The 60 dB amplifier
// budget splits evenly across the pair.
package main

import (
	"os"

	"github.com/rdekker/noisetx/internal/app"
	"github.com/rdekker/noisetx/internal/sdr"
)

const (
	l1FrequencyHz = 1575.42e6
	l2FrequencyHz = 1227.60e6
	bandwidthHz   = 2e6
	sampleRateHz  = 5e6
	gainDB        = 30
)

func channels() []sdr.ChannelConfig {
	return []sdr.ChannelConfig{
		{
			Channel:      0,
			FrequencyHz:  l1FrequencyHz,
			BandwidthHz:  bandwidthHz,
			SampleRateHz: sampleRateHz,
			GainDB:       gainDB,
			BiasTee:      true,
			StageGains:   map[string]float64{"dsa": 0},
		},
		{
			Channel:      1,
			FrequencyHz:  l2FrequencyHz,
			BandwidthHz:  bandwidthHz,
			SampleRateHz: sampleRateHz,
			GainDB:       gainDB,
			BiasTee:      true,
			StageGains:   map[string]float64{"dsa": 0},
		},
	}
}

func main() {
	os.Exit(app.Main("noisetx-l1l2", channels()))
}
