package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// FileSink appends human-readable record blocks to a log file
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens path for appending, creating it and its directory if needed
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output log: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// FormatRecord renders the block written for rec
func FormatRecord(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Detected Text for Image Index: %d ===\n", rec.Sequence)
	fmt.Fprintf(&b, "Image Key: %s\n", rec.Key)
	b.WriteString("Detected text:\n")
	for _, line := range rec.Text {
		fmt.Fprintf(&b, "Detected: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}

// Append writes the whole block in one call so concurrent appends never interleave
func (s *FileSink) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.NewSinkFailedError("file", rec.Key, rec.Sequence, fmt.Errorf("sink closed"))
	}
	if _, err := s.f.WriteString(FormatRecord(rec)); err != nil {
		return errors.NewSinkFailedError("file", rec.Key, rec.Sequence, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
