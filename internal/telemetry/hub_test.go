package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHubHistoryBounded(t *testing.T) {
	hub := NewHub(3)
	for i := 1; i <= 5; i++ {
		hub.Report(Sample{State: "streaming", Frames: uint64(i)})
	}

	history := hub.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(history))
	}
	if history[0].Frames != 3 || history[2].Frames != 5 {
		t.Fatalf("unexpected window: first %d last %d", history[0].Frames, history[2].Frames)
	}

	latest, ok := hub.Latest()
	if !ok || latest.Frames != 5 {
		t.Fatalf("latest = %+v ok=%v, want frames 5", latest, ok)
	}
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(10)
	ch, cancel := hub.Subscribe()

	hub.Report(Sample{State: "configured"})
	got := <-ch
	if got.State != "configured" {
		t.Fatalf("unexpected sample %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("expected Report to stamp the sample time")
	}

	cancel()
	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}
}

func TestHandleStatus(t *testing.T) {
	hub := NewHub(10)

	rr := httptest.NewRecorder()
	hub.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any sample, got %d", rr.Code)
	}

	hub.Report(Sample{State: "streaming", Frames: 7, Samples: 7 * 16384})
	rr = httptest.NewRecorder()
	hub.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got Sample
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.State != "streaming" || got.Frames != 7 {
		t.Fatalf("unexpected status %+v", got)
	}

	rr = httptest.NewRecorder()
	hub.handleStatus(rr, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	hub := NewHub(10)
	hub.Report(Sample{State: "configured"})
	hub.Report(Sample{State: "streaming", Frames: 1})

	rr := httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []Sample
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 || got[1].State != "streaming" {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestHandleLiveReplaysHistory(t *testing.T) {
	hub := NewHub(4)
	hub.Report(Sample{State: "streaming", Frames: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/live", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	hub.handleLive(rr, req)

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "data: ") || !strings.Contains(body, `"streaming"`) {
		t.Fatalf("live stream missing replayed sample: %q", body)
	}
	if !rr.Flushed {
		t.Fatal("expected handler to flush")
	}
}

func TestMultiReporter(t *testing.T) {
	a := NewHub(5)
	b := NewHub(5)
	m := MultiReporter{a, nil, b}

	m.Report(Sample{State: "stopped", Frames: 9})

	for name, hub := range map[string]*Hub{"a": a, "b": b} {
		latest, ok := hub.Latest()
		if !ok || latest.Frames != 9 {
			t.Fatalf("hub %s missed the sample: %+v ok=%v", name, latest, ok)
		}
	}
}
