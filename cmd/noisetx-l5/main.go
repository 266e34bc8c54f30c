// Command noisetx-l5 transmits wideband noise centred on the GPS L5 carrier.
package main

import (
	"os"

	"github.com/rdekker/noisetx/internal/app"
	"github.com/rdekker/noisetx/internal/sdr"
)

const (
	frequencyHz  = 1176.45e6
	bandwidthHz  = 2e6
	sampleRateHz = 5e6
	gainDB       = 60
)

func channels() []sdr.ChannelConfig {
	return []sdr.ChannelConfig{{
		Channel:      0,
		FrequencyHz:  frequencyHz,
		BandwidthHz:  bandwidthHz,
		SampleRateHz: sampleRateHz,
		GainDB:       gainDB,
		BiasTee:      true,
		StageGains:   map[string]float64{"dsa": 0},
	}}
}

func main() {
	os.Exit(app.Main("noisetx-l5", channels()))
}
