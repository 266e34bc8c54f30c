package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10_000
	subscriberBuffer    = 16
)

// ChannelStatus mirrors the applied configuration of one transmit channel.
type ChannelStatus struct {
	Channel      int     `json:"channel"`
	FrequencyHz  float64 `json:"frequencyHz"`
	BandwidthHz  float64 `json:"bandwidthHz"`
	SampleRateHz float64 `json:"sampleRateHz"`
	GainDB       float64 `json:"gainDb"`
}

// Sample captures one progress point of a transmit session.
type Sample struct {
	Time       time.Time       `json:"time"`
	State      string          `json:"state"`
	Frames     uint64          `json:"frames"`
	Samples    uint64          `json:"samples"`
	Retries    uint64          `json:"retries"`
	PushErrors uint64          `json:"pushErrors"`
	FlatnessDB float64         `json:"flatnessDb,omitempty"`
	Channels   []ChannelStatus `json:"channels,omitempty"`
}

// Hub keeps bounded sample history and fans live updates out to subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	latest       Sample
	seen         bool
	subscribers  map[chan Sample]struct{}
}

// NewHub builds a hub holding at most historyLimit samples. Zero or negative
// limits fall back to the default; oversized ones are clamped.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if historyLimit > maxHistoryLimit {
		historyLimit = maxHistoryLimit
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Sample]struct{}),
	}
}

// Report implements Reporter and records a new sample.
func (h *Hub) Report(sample Sample) {
	if sample.Time.IsZero() {
		sample.Time = time.Now()
	}

	h.mu.Lock()
	h.latest = sample
	h.seen = true
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// Latest returns the most recent sample, if any arrived yet.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.seen
}

// History returns a copy of the stored samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe registers a listener for live updates. Slow listeners drop
// samples rather than stalling Report.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// MultiReporter fans samples out to multiple destinations.
type MultiReporter []Reporter

// Report forwards the sample to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sample, ok := h.Latest()
	if !ok {
		http.Error(w, "no samples yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sample)
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// Replay stored samples so a new listener paints immediately.
	for _, sample := range h.History() {
		writeEvent(w, sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, sample Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
