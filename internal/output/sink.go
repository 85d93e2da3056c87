// Package output records the text detected for each processed work item.
package output

import (
	"context"
	"errors"
	"time"
)

// Record is one processed item. Records are appended, never updated.
type Record struct {
	Sequence   int
	Key        string
	Text       []string
	DetectedAt time.Time
}

// Sink is an append-only destination for records
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// MultiSink fans each record out to every sink
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append writes to every sink and joins their errors. A record that reached
// some sinks before a failure is written to them again on redelivery.
func (m *MultiSink) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
