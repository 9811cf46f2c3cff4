package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBroker implements Queue over a RabbitMQ connection. Connection loss is
// handled by an explicit reconnect-with-backoff loop, kept apart from message
// handling: publishers retry once after a reconnect, consumers re-enter their
// consume loop until their context is cancelled.
type AMQPBroker struct {
	url string
	log *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	declared map[string]bool
}

func NewAMQPBroker(url string, log *zap.Logger) *AMQPBroker {
	return &AMQPBroker{
		url:      url,
		log:      log.With(zap.String("module", "broker")),
		declared: make(map[string]bool),
	}
}

// Connect dials the broker, retrying with exponential backoff until ctx is
// cancelled. Called once at startup; later reconnects happen lazily.
func (b *AMQPBroker) Connect(ctx context.Context) error {
	op := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.ensureLocked()
	}
	bo := backoff.WithContext(newBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	return nil
}

// ensureLocked (re)establishes the connection and publisher channel. Caller
// holds b.mu.
func (b *AMQPBroker) ensureLocked() error {
	if b.conn != nil && !b.conn.IsClosed() && b.pubCh != nil && !b.pubCh.IsClosed() {
		return nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return fmt.Errorf("amqp dial: %w", err)
		}
		b.conn = conn
		b.declared = make(map[string]bool)
		b.log.Info("connected to broker")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	b.pubCh = ch
	return nil
}

// declareLocked declares a durable queue once per connection. Caller holds
// b.mu.
func (b *AMQPBroker) declareLocked(queue string) error {
	if b.declared[queue] {
		return nil
	}
	if _, err := b.pubCh.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	b.declared[queue] = true
	return nil
}

// Publish sends body to queue with persistent delivery. A publish that fails
// on a stale connection is retried once after reconnecting.
func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := b.ensureLocked(); err != nil {
			lastErr = err
			continue
		}
		if err := b.declareLocked(queue); err != nil {
			lastErr = err
			b.resetLocked()
			continue
		}
		err := b.pubCh.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		b.resetLocked()
	}
	return fmt.Errorf("publish to %s: %w", queue, lastErr)
}

// resetLocked drops the publisher channel so the next attempt redials. Caller
// holds b.mu.
func (b *AMQPBroker) resetLocked() {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
}

// Consume runs a prefetch-1 consumer on queue until ctx is cancelled. Each
// consumer gets its own channel so fair dispatch applies per consumer. The
// loop survives connection loss: on channel close it backs off and redials.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	bo := newBackOff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, ch, err := b.openConsumer(queue)
		if err != nil {
			b.log.Warn("consumer setup failed, retrying",
				zap.String("queue", queue), zap.Error(err))
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
		b.log.Info("consuming", zap.String("queue", queue))

		if done := b.consumeLoop(ctx, deliveries, handler); done {
			_ = ch.Close()
			return ctx.Err()
		}
		// Channel closed underneath us; redial.
		_ = ch.Close()
		b.log.Warn("consumer channel lost, reconnecting", zap.String("queue", queue))
		if !sleepCtx(ctx, bo.NextBackOff()) {
			return ctx.Err()
		}
	}
}

// consumeLoop drains deliveries until the channel closes (returns false) or
// ctx is cancelled (returns true).
func (b *AMQPBroker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			handler(ctx, amqpDelivery{d: d})
		}
	}
}

// openConsumer sets up a dedicated channel with prefetch 1 and starts
// consuming from a durable queue.
func (b *AMQPBroker) openConsumer(queue string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	b.mu.Lock()
	if err := b.ensureLocked(); err != nil {
		b.mu.Unlock()
		return nil, nil, err
	}
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("consumer channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, ch, nil
}

// Healthy reports whether the broker connection is open.
func (b *AMQPBroker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a amqpDelivery) Body() []byte { return a.d.Body }
func (a amqpDelivery) Ack() error   { return a.d.Ack(false) }
func (a amqpDelivery) Reject() error {
	return a.d.Nack(false, false)
}
func (a amqpDelivery) Requeue() error {
	return a.d.Nack(false, true)
}

func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until cancelled
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
