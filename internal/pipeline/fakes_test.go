package pipeline

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/adverant/nexus/visionpipe-worker/internal/detection"
	perrors "github.com/adverant/nexus/visionpipe-worker/internal/errors"
	"github.com/adverant/nexus/visionpipe-worker/internal/logging"
	"github.com/adverant/nexus/visionpipe-worker/internal/output"
	"github.com/adverant/nexus/visionpipe-worker/internal/queue"
	"github.com/adverant/nexus/visionpipe-worker/internal/workitem"
)

func quietLogger() *logging.Logger {
	return logging.New(io.Discard, "test")
}

// fakeStore serves each key's own name as its bytes so detector fakes can
// tell images apart.
type fakeStore struct {
	mu       sync.Mutex
	keys     map[string]bool
	errs     map[string]error
	failOnce map[string]error
	listErr  error
	gets     map[string]int
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{
		keys:     make(map[string]bool),
		errs:     make(map[string]error),
		failOnce: make(map[string]error),
		gets:     make(map[string]int),
	}
	for _, k := range keys {
		s.keys[k] = true
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets[key]++
	if err, ok := s.failOnce[key]; ok {
		delete(s.failOnce, key)
		return nil, err
	}
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	if !s.keys[key] {
		return nil, perrors.NewNotFoundError(key, nil)
	}
	return []byte(key), nil
}

func (s *fakeStore) List(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

type fakeLabels struct {
	labels map[string][]detection.Label
	errs   map[string]error
}

func (f *fakeLabels) DetectLabels(ctx context.Context, image []byte, minConfidence float64) ([]detection.Label, error) {
	key := string(image)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.labels[key], nil
}

type fakeTexts struct {
	mu    sync.Mutex
	texts map[string][]string
	errs  map[string]error
	calls int
}

func (f *fakeTexts) DetectText(ctx context.Context, image []byte) ([]detection.TextDetection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	key := string(image)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	var out []detection.TextDetection
	for _, line := range f.texts[key] {
		out = append(out, detection.TextDetection{Text: line, Confidence: 99, Type: detection.TypeLine})
	}
	return out, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []output.Record
	err     error
}

func (m *memorySink) Append(ctx context.Context, rec output.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) sequences() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seqs []int
	for _, r := range m.records {
		seqs = append(seqs, r.Sequence)
	}
	sort.Ints(seqs)
	return seqs
}

// flakyQueue wraps a queue and injects failures.
type flakyQueue struct {
	queue.Queue
	sendErr    error
	receiveErr error
	deleteErr  error
}

func (f *flakyQueue) Send(ctx context.Context, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	return f.Queue.Send(ctx, body)
}

func (f *flakyQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return f.Queue.Receive(ctx, max, wait)
}

func (f *flakyQueue) Delete(ctx context.Context, handle string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Queue.Delete(ctx, handle)
}

// drainItems receives everything currently visible and decodes it.
func drainItems(t *testing.T, q queue.Queue) []workitem.Item {
	t.Helper()
	var items []workitem.Item
	for {
		msgs, err := q.Receive(context.Background(), 10, 0)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if len(msgs) == 0 {
			return items
		}
		for _, m := range msgs {
			item, err := workitem.Decode(m.Body)
			if err != nil {
				t.Fatalf("Decode(%q): %v", m.Body, err)
			}
			items = append(items, item)
			q.Delete(context.Background(), m.ReceiptHandle)
		}
	}
}

func send(t *testing.T, q queue.Queue, bodies ...string) {
	t.Helper()
	for _, b := range bodies {
		if err := q.Send(context.Background(), b); err != nil {
			t.Fatalf("Send(%q): %v", b, err)
		}
	}
}

func encode(t *testing.T, item workitem.Item) string {
	t.Helper()
	body, err := item.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return body
}

var errUnreachable = errors.New("dial tcp: connection refused")
