package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestReceiptTableTakeOnce(t *testing.T) {
	table := newReceiptTable(time.Minute)
	msg := &nats.Msg{Data: []byte("3,3.jpg")}

	receipt := table.add(msg)
	got, ok := table.take(receipt)
	if !ok || got != msg {
		t.Fatalf("take = %v, %v", got, ok)
	}
	if _, ok := table.take(receipt); ok {
		t.Error("receipt usable twice")
	}
}

func TestReceiptTableExpiresAfterAckWait(t *testing.T) {
	clock := time.Now()
	table := newReceiptTable(30 * time.Second)
	table.now = func() time.Time { return clock }

	receipt := table.add(&nats.Msg{})
	clock = clock.Add(30 * time.Second)

	if _, ok := table.take(receipt); ok {
		t.Error("receipt honoured after the message was redelivered")
	}
}

func TestReceiptTablePrunesUnackedEntries(t *testing.T) {
	clock := time.Now()
	table := newReceiptTable(30 * time.Second)
	table.now = func() time.Time { return clock }

	// Malformed messages are fetched but never acked.
	for i := 0; i < 100; i++ {
		table.add(&nats.Msg{})
	}
	if n := table.len(); n != 100 {
		t.Fatalf("len = %d, want 100", n)
	}

	clock = clock.Add(31 * time.Second)
	fresh := table.add(&nats.Msg{})

	if n := table.len(); n != 1 {
		t.Errorf("len = %d after expiry, want 1", n)
	}
	if _, ok := table.take(fresh); !ok {
		t.Error("fresh receipt was pruned")
	}
}

func TestNATSQueueDeleteUnknownReceipt(t *testing.T) {
	q := &NATSQueue{pending: newReceiptTable(time.Minute)}
	if err := q.Delete(context.Background(), "never-issued"); !errors.Is(err, ErrStaleReceipt) {
		t.Errorf("err = %v, want ErrStaleReceipt", err)
	}
}
