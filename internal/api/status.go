// Package api serves the read-only status surface: health, queue depths,
// recent routing events, and Prometheus metrics. Job submission is the
// ingress service's business, not the router's.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/oriys/vela/internal/broker"
	"github.com/oriys/vela/internal/journal"
	"github.com/oriys/vela/internal/logging"
	"github.com/oriys/vela/internal/metrics"
)

// ObservedQueues is the set reported by /queues/status. batch-jobs is a
// legacy queue kept for observation only; no routing decision targets it.
var ObservedQueues = []string{"jobqueue", "actor-jobs", "ml-jobs", "spark-jobs", "batch-jobs"}

// Server is the status HTTP server.
type Server struct {
	broker  broker.Broker
	journal journal.Journal
	httpSrv *http.Server
}

// New creates a status server bound to addr.
func New(addr string, b broker.Broker, j journal.Journal) *Server {
	s := &Server{broker: b, journal: j}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/queues/status", s.handleQueueStatus)
	mux.HandleFunc("/jobs/recent", s.handleRecentJobs)
	if h := metrics.Handler(); h != nil {
		mux.Handle("/metrics", h)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the server until Shutdown. ErrServerClosed is swallowed.
func (s *Server) Start() {
	go func() {
		logging.Op().Info("status server started", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("status server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.broker.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	depths := make(map[string]int, len(ObservedQueues))
	for _, q := range ObservedQueues {
		depth, err := s.broker.Depth(r.Context(), q)
		if err != nil {
			// Best-effort view: an unreadable queue reports zero.
			logging.Op().Debug("queue depth unavailable", "queue", q, "error", err)
			depth = 0
		}
		depths[q] = depth
	}
	writeJSON(w, http.StatusOK, depths)
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events := s.journal.Recent(limit)
	if events == nil {
		events = []*journal.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Op().Debug("write response failed", "error", err)
	}
}
