package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ardrey/translate-hub/internal/dispatch"
	"github.com/ardrey/translate-hub/internal/gateway"
	"github.com/ardrey/translate-hub/internal/relay"
	"github.com/ardrey/translate-hub/internal/room"
	"github.com/ardrey/translate-hub/internal/work"
	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// HealthFunc reports liveness of one dependency.
type HealthFunc func() bool

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Gateway       *gateway.Gateway
	Relay         *relay.Relay
	Dispatcher    *dispatch.Dispatcher
	Rooms         *room.Manager
	Registry      *prometheus.Registry
	RedisHealthy  HealthFunc
	BrokerHealthy HealthFunc
	Log           *zap.Logger
}

// Server hosts the WebSocket endpoints and the REST surface on one listener.
type Server struct {
	deps Deps
	http *http.Server
	log  *zap.Logger
}

func New(addr string, deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  deps.Log.With(zap.String("module", "server")),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the full mux. Exposed separately so tests can mount it on an
// httptest server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.deps.Gateway.HandleWS)
	mux.HandleFunc("GET /ws/{room_id}", s.deps.Gateway.HandleWSRoom)
	mux.HandleFunc("POST /api/v1/translate", s.handleTranslate)
	mux.HandleFunc("POST /translation-result", s.deps.Relay.IngestHandler)
	mux.HandleFunc("GET /api/v1/rooms/stats", s.handleRoomStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

// handleTranslate accepts a work request and answers as soon as it is queued.
// 202 means "accepted for processing", not "translated".
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req work.Request
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}

	err := s.deps.Dispatcher.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.As(err, new(*dispatch.ValidationError)):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	case errors.Is(err, dispatch.ErrSessionNotConnected):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": err.Error()})
	default:
		s.log.Error("submit failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "work queue unavailable"})
	}
}

func (s *Server) handleRoomStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Rooms.Snapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	redisOK := s.deps.RedisHealthy()
	brokerOK := s.deps.BrokerHealthy()

	status := http.StatusOK
	overall := "ok"
	if !redisOK || !brokerOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"redis":  redisOK,
		"broker": brokerOK,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.NewEncoder(w).Encode(v)
}
