package broker

import "context"

// Delivery is one consumed message with explicit settlement. Ack confirms
// processing; Reject discards without requeue (structurally invalid messages
// cannot be fixed by redelivery); Requeue returns the message for another
// attempt after a transient failure.
type Delivery interface {
	Body() []byte
	Ack() error
	Reject() error
	Requeue() error
}

// Handler processes a single delivery. Settlement is the handler's
// responsibility: a delivery left unsettled when the consumer dies becomes
// redeliverable, which is what gives at-least-once semantics.
type Handler func(ctx context.Context, d Delivery)

// Queue is the durable-queue contract: persistent publish plus prefetch-1
// consumption from named queues.
type Queue interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queue string, handler Handler) error
}
