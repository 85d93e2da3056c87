package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue with the same visibility semantics as
// the durable backends. It only connects workers inside one process.
type MemoryQueue struct {
	mu         sync.Mutex
	visibility time.Duration
	now        func() time.Time

	nextID   int
	ready    []*memoryEntry
	inflight map[string]*memoryEntry
	signal   chan struct{}
	closed   bool
}

type memoryEntry struct {
	id           string
	body         string
	receiveCount int
	visibleAt    time.Time
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{
		visibility: visibility,
		now:        time.Now,
		inflight:   make(map[string]*memoryEntry),
		signal:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.nextID++
	q.ready = append(q.ready, &memoryEntry{id: strconv.Itoa(q.nextID), body: body})
	q.wake()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	maxMessages = clampMax(maxMessages, 10)
	deadline := time.Now().Add(wait)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.requeueExpired()
		msgs := q.take(maxMessages)
		signal := q.signal
		nextExpiry := q.nextExpiry()
		q.mu.Unlock()

		if len(msgs) > 0 {
			return msgs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return []Message{}, nil
		}
		if !nextExpiry.IsZero() {
			if d := nextExpiry.Sub(q.now()); d < remaining {
				remaining = d
			}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.inflight[receiptHandle]; !ok {
		return ErrStaleReceipt
	}
	delete(q.inflight, receiptHandle)
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	return nil
}

// Stats returns waiting and in-flight counts
func (q *MemoryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpired()
	return Stats{Waiting: int64(len(q.ready)), InFlight: int64(len(q.inflight))}
}

// take must be called with mu held.
func (q *MemoryQueue) take(n int) []Message {
	if len(q.ready) == 0 {
		return nil
	}
	if n > len(q.ready) {
		n = len(q.ready)
	}

	batch := q.ready[:n]
	q.ready = q.ready[n:]

	msgs := make([]Message, 0, n)
	for _, e := range batch {
		e.receiveCount++
		e.visibleAt = q.now().Add(q.visibility)
		receipt := e.id + ":" + uuid.NewString()
		q.inflight[receipt] = e
		msgs = append(msgs, Message{
			ID:            e.id,
			Body:          e.body,
			ReceiptHandle: receipt,
			ReceiveCount:  e.receiveCount,
		})
	}
	return msgs
}

// requeueExpired must be called with mu held.
func (q *MemoryQueue) requeueExpired() {
	now := q.now()
	for receipt, e := range q.inflight {
		if !now.Before(e.visibleAt) {
			delete(q.inflight, receipt)
			q.ready = append(q.ready, e)
		}
	}
}

func (q *MemoryQueue) nextExpiry() time.Time {
	var next time.Time
	for _, e := range q.inflight {
		if next.IsZero() || e.visibleAt.Before(next) {
			next = e.visibleAt
		}
	}
	return next
}

// wake must be called with mu held.
func (q *MemoryQueue) wake() {
	close(q.signal)
	q.signal = make(chan struct{})
}
