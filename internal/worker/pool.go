package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ardrey/translate-hub/internal/broker"
	"github.com/ardrey/translate-hub/internal/metrics"
	"github.com/ardrey/translate-hub/internal/work"
	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// Capability executes one work method. A returned error becomes an error
// result for the originating session, never a crash or a redelivery.
type Capability func(ctx context.Context, payload json.RawMessage) (*work.Outcome, error)

// Pool consumes the work queue with a fixed number of workers. Each worker
// holds its own prefetch-1 consumer, so in-flight work is capped at the pool
// size and a slow worker never starves the others.
type Pool struct {
	queue       broker.Queue
	workQueue   string
	resultQueue string
	caps        map[string]Capability
	count       int
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewPool(queue broker.Queue, workQueue, resultQueue string, caps map[string]Capability, count int, m *metrics.Metrics, log *zap.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		queue:       queue,
		workQueue:   workQueue,
		resultQueue: resultQueue,
		caps:        caps,
		count:       count,
		metrics:     m,
		log:         log.With(zap.String("module", "worker")),
	}
}

// Run blocks until ctx is cancelled, consuming work with p.count workers.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.count; i++ {
		worker := i
		g.Go(func() error {
			log := p.log.With(zap.Int("worker", worker))
			log.Info("worker started")
			err := p.queue.Consume(ctx, p.workQueue, p.handle)
			log.Info("worker stopped", zap.Error(err))
			return err
		})
	}
	return g.Wait()
}

// handle settles exactly one delivery. The ordering is deliberate: the result
// is published before the ack, so a crash between the two redelivers the
// request (at-least-once) rather than losing it.
func (p *Pool) handle(ctx context.Context, d broker.Delivery) {
	var req work.Request
	if err := jsonx.Unmarshal(d.Body(), &req); err != nil {
		p.log.Warn("malformed work message, rejecting", zap.Error(err))
		p.metrics.WorkProcessed.WithLabelValues("unknown", "rejected").Inc()
		if err := d.Reject(); err != nil {
			p.log.Warn("reject failed", zap.Error(err))
		}
		return
	}
	if req.SessionID == "" {
		// Without a session there is nowhere to send even an error result.
		p.log.Warn("work message without session, rejecting",
			zap.String("method", req.Method))
		p.metrics.WorkProcessed.WithLabelValues(req.Method, "rejected").Inc()
		if err := d.Reject(); err != nil {
			p.log.Warn("reject failed", zap.Error(err))
		}
		return
	}

	res, outcome := p.execute(ctx, req)
	p.metrics.WorkProcessed.WithLabelValues(req.Method, outcome).Inc()

	body, err := jsonx.Marshal(res)
	if err != nil {
		// A Result can always marshal; treat failure as a poison message.
		p.log.Error("marshal result failed, rejecting", zap.Error(err))
		if err := d.Reject(); err != nil {
			p.log.Warn("reject failed", zap.Error(err))
		}
		return
	}
	if err := p.queue.Publish(ctx, p.resultQueue, body); err != nil {
		p.log.Warn("publish result failed, requeueing request",
			zap.String("session_id", req.SessionID), zap.Error(err))
		if err := d.Requeue(); err != nil {
			p.log.Warn("requeue failed", zap.Error(err))
		}
		return
	}
	if err := d.Ack(); err != nil {
		p.log.Warn("ack failed", zap.Error(err))
	}
}

// execute resolves the method and runs it, converting every failure into an
// error result bound to the session.
func (p *Pool) execute(ctx context.Context, req work.Request) (work.Result, string) {
	capability, ok := p.caps[req.Method]
	if !ok {
		p.log.Warn("unknown work method",
			zap.String("method", req.Method),
			zap.String("session_id", req.SessionID))
		return work.ErrorResult(req.SessionID, fmt.Sprintf("unknown method %q", req.Method)), "unknown_method"
	}

	out, err := capability(ctx, req.Payload)
	if err != nil {
		p.log.Warn("work failed",
			zap.String("method", req.Method),
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return work.ErrorResult(req.SessionID, err.Error()), "error"
	}
	p.log.Info("work completed",
		zap.String("method", req.Method),
		zap.String("session_id", req.SessionID))
	return work.Result{SessionID: req.SessionID, Result: out}, "ok"
}
