// Package queue provides at-least-once queues with visibility-timeout redelivery.
//
// A received message stays hidden from other receivers until it is deleted
// with its receipt handle or its visibility window expires, after which it
// is delivered again.
package queue

import (
	"context"
	"time"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

var (
	// ErrStaleReceipt is returned by Delete when the receipt handle no longer
	// owns the message, typically because its visibility window expired.
	ErrStaleReceipt = errors.New("queue: receipt handle is no longer valid")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue: closed")
)

// Message is a single delivery of a queued body
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is the durable channel between producer and consumer
type Queue interface {
	Send(ctx context.Context, body string) error
	// Receive returns up to maxMessages, waiting at most wait for the first one.
	// An empty slice with a nil error means the wait elapsed.
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Close() error
}

// Stats is a point-in-time view of queue depth
type Stats struct {
	Waiting  int64
	InFlight int64
}

func clampMax(maxMessages, limit int) int {
	if maxMessages < 1 {
		return 1
	}
	if maxMessages > limit {
		return limit
	}
	return maxMessages
}
