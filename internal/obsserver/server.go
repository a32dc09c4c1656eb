// Package obsserver exposes the engine's observability surface over HTTP:
// /health, /metrics (Prometheus pull), and /api/snapshot (a JSON dump of
// current engine state). Modeled on the teacher's internal/api/server.go,
// trimmed of its websocket dashboard hub — spec.md names no outbound
// push-event requirement, only a pull surface.
package obsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"triarb/internal/config"
)

// Snapshot is the shape returned by /api/snapshot (spec.md §6).
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	ChainsCompiled  int       `json:"chains_compiled"`
	ChainsDirty     int       `json:"chains_dirty"`
	QueueDepth      int       `json:"queue_depth"`
	MalformedTotal  uint64    `json:"malformed_updates_total"`
	SendOrdersLive  bool      `json:"send_orders_live"`
}

// SnapshotProvider is implemented by internal/engine.Engine; kept as a
// narrow interface so this package has no dependency on the engine.
type SnapshotProvider interface {
	Snapshot() Snapshot
}

// Server runs the HTTP observability endpoint.
type Server struct {
	cfg      config.MetricsConfig
	provider SnapshotProvider
	server   *http.Server
	logger   *slog.Logger
}

// New builds the server; it does not start listening until Start is called.
func New(cfg config.MetricsConfig, provider SnapshotProvider, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{cfg: cfg, provider: provider, logger: logger.With("component", "obsserver")}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving until Stop is called or the server errors.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.logger.Info("observability server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("obsserver: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Snapshot()); err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
