package relay

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ardrey/translate-hub/internal/broker"
	"github.com/ardrey/translate-hub/internal/gateway"
	"github.com/ardrey/translate-hub/internal/metrics"
	"github.com/ardrey/translate-hub/internal/room"
	"github.com/ardrey/translate-hub/internal/work"
	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// Relay consumes finished results and pushes them to the live connection of
// the originating session. Delivery is at-most-once: a result whose session
// has disconnected is acked and dropped, never retried, so a client that
// reconnects under a new session id can never receive a stale result.
type Relay struct {
	queue       broker.Queue
	resultQueue string
	rooms       *room.Manager
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewRelay(queue broker.Queue, resultQueue string, rooms *room.Manager, m *metrics.Metrics, log *zap.Logger) *Relay {
	return &Relay{
		queue:       queue,
		resultQueue: resultQueue,
		rooms:       rooms,
		metrics:     m,
		log:         log.With(zap.String("module", "relay")),
	}
}

// Run blocks consuming the results queue until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.queue.Consume(ctx, r.resultQueue, r.handle)
}

func (r *Relay) handle(_ context.Context, d broker.Delivery) {
	var res work.Result
	if err := jsonx.Unmarshal(d.Body(), &res); err != nil {
		r.log.Warn("malformed result message, rejecting", zap.Error(err))
		if err := d.Reject(); err != nil {
			r.log.Warn("reject failed", zap.Error(err))
		}
		return
	}
	if !resultValid(res) {
		r.log.Warn("result without session or content, rejecting",
			zap.String("session_id", res.SessionID))
		if err := d.Reject(); err != nil {
			r.log.Warn("reject failed", zap.Error(err))
		}
		return
	}

	if delivered := r.deliver(res); delivered {
		r.metrics.ResultsDelivered.Inc()
	} else {
		// Session gone: dropping is the contract. The ack is deliberate.
		r.metrics.ResultsDropped.Inc()
	}
	if err := d.Ack(); err != nil {
		r.log.Warn("ack failed", zap.Error(err))
	}
}

func (r *Relay) deliver(res work.Result) bool {
	frame := gateway.ResultFrame{
		Type:   gateway.TypeTranslationResult,
		Result: res.Result,
		Error:  res.Error,
	}
	if err := r.rooms.SendToUser(res.SessionID, frame); err != nil {
		r.log.Info("result dropped, session not connected",
			zap.String("session_id", res.SessionID), zap.Error(err))
		return false
	}
	r.log.Info("result delivered", zap.String("session_id", res.SessionID))
	return true
}

// resultValid rejects results that can never be delivered meaningfully: no
// target session, or neither a payload nor an error.
func resultValid(res work.Result) bool {
	return res.SessionID != "" && (res.Result != nil || res.Error != "")
}

// IngestHandler accepts results over HTTP, for deployments where workers run
// in a separate process and bypass the broker for delivery.
func (r *Relay) IngestHandler(w http.ResponseWriter, req *http.Request) {
	var res work.Result
	if err := jsonx.NewDecoder(req.Body).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid result body"})
		return
	}
	if !resultValid(res) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "result requires ws_session_id and result or error"})
		return
	}
	if !r.deliver(res) {
		r.metrics.ResultsDropped.Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "session is not connected"})
		return
	}
	r.metrics.ResultsDelivered.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.NewEncoder(w).Encode(v)
}
