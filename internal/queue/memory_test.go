package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueSendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(30 * time.Second)

	for _, body := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, body); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "a" || msgs[1].Body != "b" {
		t.Fatalf("unexpected batch: %+v", msgs)
	}
	if msgs[0].ReceiveCount != 1 {
		t.Errorf("ReceiveCount = %d, want 1", msgs[0].ReceiveCount)
	}

	for _, m := range msgs {
		if err := q.Delete(ctx, m.ReceiptHandle); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}

	stats := q.Stats()
	if stats.Waiting != 1 || stats.InFlight != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMemoryQueueEmptyPollReturnsAfterWait(t *testing.T) {
	q := NewMemoryQueue(time.Second)

	start := time.Now()
	msgs, err := q.Receive(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty poll, got %d", len(msgs))
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned after %v, expected to wait", elapsed)
	}
}

func TestMemoryQueueLongPollWakesOnSend(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Send(ctx, "late")
	}()

	msgs, err := q.Receive(ctx, 10, 5*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "late" {
		t.Fatalf("unexpected batch: %+v", msgs)
	}
}

func TestMemoryQueueRedeliversAfterVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(30 * time.Second)
	clock := time.Now()
	q.now = func() time.Time { return clock }

	q.Send(ctx, "item")

	first, _ := q.Receive(ctx, 1, 0)
	if len(first) != 1 {
		t.Fatalf("expected one message, got %d", len(first))
	}

	if again, _ := q.Receive(ctx, 1, 0); len(again) != 0 {
		t.Fatal("message visible before the window expired")
	}

	clock = clock.Add(31 * time.Second)

	second, _ := q.Receive(ctx, 1, 0)
	if len(second) != 1 {
		t.Fatalf("expected redelivery, got %d", len(second))
	}
	if second[0].ReceiveCount != 2 {
		t.Errorf("ReceiveCount = %d, want 2", second[0].ReceiveCount)
	}

	if err := q.Delete(ctx, first[0].ReceiptHandle); !errors.Is(err, ErrStaleReceipt) {
		t.Errorf("Delete with expired receipt = %v, want ErrStaleReceipt", err)
	}
	if err := q.Delete(ctx, second[0].ReceiptHandle); err != nil {
		t.Errorf("Delete with current receipt: %v", err)
	}
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Receive(ctx, 1, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(time.Second)
	q.Close()

	if err := q.Send(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v", err)
	}
	if _, err := q.Receive(context.Background(), 1, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive after Close = %v", err)
	}
}
