package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ardrey/translate-hub/internal/broker"
	"github.com/ardrey/translate-hub/internal/session"
	"github.com/ardrey/translate-hub/internal/work"
	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// ErrSessionNotConnected rejects work bound to a session with no live
// connection: accepting it would waste worker capacity on an undeliverable
// result.
var ErrSessionNotConnected = errors.New("session is not connected")

// ValidationError marks rejections caused by request shape, so the transport
// layer can answer 400 instead of 500.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Dispatcher validates work requests and publishes them onto the durable
// work queue. Publishing is fire-and-forget: "accepted" means the broker
// acknowledged the publish, not that the work completed.
type Dispatcher struct {
	queue     broker.Queue
	workQueue string
	sessions  *session.Registry
	log       *zap.Logger
}

func NewDispatcher(queue broker.Queue, workQueue string, sessions *session.Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		workQueue: workQueue,
		sessions:  sessions,
		log:       log.With(zap.String("module", "dispatch")),
	}
}

// Submit accepts or rejects a work request. Shape validation and the session
// liveness check both happen before the publish; a request rejected here
// never enters the queue.
func (d *Dispatcher) Submit(ctx context.Context, req work.Request) error {
	if err := req.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	if !d.sessions.Exists(ctx, req.SessionID) {
		return ErrSessionNotConnected
	}

	body, err := jsonx.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal work request: %w", err)
	}
	if err := d.queue.Publish(ctx, d.workQueue, body); err != nil {
		return fmt.Errorf("enqueue work request: %w", err)
	}
	d.log.Info("work request accepted",
		zap.String("method", req.Method),
		zap.String("session_id", req.SessionID))
	return nil
}
