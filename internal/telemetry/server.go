package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/rdekker/noisetx/internal/logging"
)

// Server exposes the hub's status, history, and live endpoints over HTTP.
// There is no UI; the endpoints serve JSON for external tooling.
type Server struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewServer wires the hub's handlers onto addr.
func NewServer(addr string, hub *Hub, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive)
	return &Server{
		hub:    hub,
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start listens until the context is canceled. It blocks, so callers run it
// on its own goroutine.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("telemetry shutdown", logging.F("error", err.Error()))
		}
	}()

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("telemetry server", logging.F("error", err.Error()))
	}
}
