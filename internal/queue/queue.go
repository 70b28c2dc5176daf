package queue

import (
	"context"
	"fmt"
)

// Publisher publishes calendar event messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg EventCreatedMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg EventCreatedMessage) error

// Consumer consumes calendar event messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// EventsCreatedQueue receives one message per newly stored calendar event.
	EventsCreatedQueue = "calendar.events.created"

	eventsRoutingKey = "events.created"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.calendar.events.created.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns the work queues declared by the topology.
func WorkQueueNames() []string {
	return []string{EventsCreatedQueue}
}
