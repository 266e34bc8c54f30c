// Command noisetx-l2 transmits wideband noise centred on the GPS L2 carrier.
package main

import (
	"os"

	"github.com/rdekker/noisetx/internal/app"
	"github.com/rdekker/noisetx/internal/sdr"
)

const (
	frequencyHz  = 1227.60e6
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
	os.Exit(app.Main("noisetx-l2", channels()))
}
