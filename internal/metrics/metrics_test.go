package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObjectScanned()
	m.ObjectScanned()
	m.ObjectMatched()
	m.MessageProcessed(OutcomeAppended)
	m.MessageProcessed(OutcomeAppended)
	m.MessageProcessed(OutcomeRetry)
	m.MalformedMessage()

	if got := testutil.ToFloat64(m.objectsScanned); got != 2 {
		t.Errorf("scanned = %v", got)
	}
	if got := testutil.ToFloat64(m.objectsMatched); got != 1 {
		t.Errorf("matched = %v", got)
	}
	if got := testutil.ToFloat64(m.messagesProcessed.WithLabelValues(OutcomeAppended)); got != 2 {
		t.Errorf("appended = %v", got)
	}
	if got := testutil.ToFloat64(m.malformedMessages); got != 1 {
		t.Errorf("malformed = %v", got)
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("GatherAndCount = %d, %v", n, err)
	}
}

func TestConsumerState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetConsumerState("", "POLLING")
	m.SetConsumerState("POLLING", "PROCESSING_BATCH")

	if got := testutil.ToFloat64(m.consumerState.WithLabelValues("POLLING")); got != 0 {
		t.Errorf("POLLING = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.consumerState.WithLabelValues("PROCESSING_BATCH")); got != 1 {
		t.Errorf("PROCESSING_BATCH = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObjectScanned()
	m.ObjectMatched()
	m.MessageProcessed(OutcomeAppended)
	m.MalformedMessage()
	m.SetConsumerState("", "DONE")
}
