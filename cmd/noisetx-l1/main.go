// Command noisetx-l1 transmits wideband noise centred on the GPS L1 carrier.
// The transmit parameters are compiled in; backend selection, device URI and
// telemetry endpoints come from noisetx.json and NOISETX_* variables.
package main

import (
	"os"

	"github.com/rdekker/noisetx/internal/app"
	"github.com/rdekker/noisetx/internal/sdr"
)

const (
	frequencyHz  = 1575.42e6
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
	os.Exit(app.Main("noisetx-l1", channels()))
}
