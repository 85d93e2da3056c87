package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// NATSQueueConfig holds JetStream configuration
type NATSQueueConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string

	// AckWait is the JetStream equivalent of the visibility timeout.
	AckWait time.Duration
}

// NATSQueue implements Queue on a JetStream pull consumer. Delete acks the
// message; an unacked message is redelivered after AckWait.
type NATSQueue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	sub     *nats.Subscription
	subject string
	pending *receiptTable
}

// receiptTable maps receipt handles to fetched messages. An entry lives for
// one AckWait; after that JetStream has redelivered the message and the
// receipt is stale.
type receiptTable struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]receiptEntry
}

type receiptEntry struct {
	msg     *nats.Msg
	expires time.Time
}

func newReceiptTable(ttl time.Duration) *receiptTable {
	return &receiptTable{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]receiptEntry),
	}
}

// add stores msg under a new receipt and drops expired entries.
func (t *receiptTable) add(msg *nats.Msg) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for receipt, e := range t.entries {
		if !now.Before(e.expires) {
			delete(t.entries, receipt)
		}
	}

	receipt := uuid.NewString()
	t.entries[receipt] = receiptEntry{msg: msg, expires: now.Add(t.ttl)}
	return receipt
}

// take removes the receipt and returns its message if it has not expired.
func (t *receiptTable) take(receipt string) (*nats.Msg, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[receipt]
	delete(t.entries, receipt)
	if !ok || !t.now().Before(e.expires) {
		return nil, false
	}
	return e.msg, true
}

func (t *receiptTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NewNATSQueue connects, ensures the stream exists and binds a durable pull consumer
func NewNATSQueue(cfg *NATSQueueConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "vision.items"
	}
	if cfg.Stream == "" {
		cfg.Stream = "VISION"
	}
	if cfg.Durable == "" {
		cfg.Durable = "vision-consumer"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.AckWait(cfg.AckWait))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Subject, err)
	}

	return &NATSQueue{
		conn:    conn,
		js:      js,
		sub:     sub,
		subject: cfg.Subject,
		pending: newReceiptTable(cfg.AckWait),
	}, nil
}

func (q *NATSQueue) Send(ctx context.Context, body string) error {
	if _, err := q.js.Publish(q.subject, []byte(body), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (q *NATSQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if wait <= 0 {
		// Fetch needs a positive deadline.
		wait = 100 * time.Millisecond
	}

	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	raw, err := q.sub.Fetch(clampMax(maxMessages, 256), nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		msg := Message{Body: string(m.Data), ReceiptHandle: q.pending.add(m)}
		if meta, err := m.Metadata(); err == nil {
			msg.ID = strconv.FormatUint(meta.Sequence.Stream, 10)
			msg.ReceiveCount = int(meta.NumDelivered)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *NATSQueue) Delete(ctx context.Context, receiptHandle string) error {
	m, ok := q.pending.take(receiptHandle)
	if !ok {
		return ErrStaleReceipt
	}
	if err := m.Ack(nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (q *NATSQueue) Close() error {
	q.conn.Close()
	return nil
}
