// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Consumer message outcomes
const (
	OutcomeAppended  = "appended"
	OutcomeNoText    = "no_text"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeDetection = "detection_failed"
	OutcomeRetry     = "retry"
)

// Metrics holds the pipeline collectors. A nil *Metrics is a no-op.
type Metrics struct {
	objectsScanned    prometheus.Counter
	objectsMatched    prometheus.Counter
	messagesProcessed *prometheus.CounterVec
	malformedMessages prometheus.Counter
	consumerState     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		objectsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visionpipe_objects_scanned_total",
			Help: "Objects fetched and submitted to label detection.",
		}),
		objectsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visionpipe_objects_matched_total",
			Help: "Objects whose labels matched the filter and were enqueued.",
		}),
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visionpipe_messages_processed_total",
			Help: "Data messages handled by the consumer, by outcome.",
		}, []string{"outcome"}),
		malformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visionpipe_malformed_messages_total",
			Help: "Messages skipped because the body could not be decoded.",
		}),
		consumerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "visionpipe_consumer_state",
			Help: "1 for the consumer's current state, 0 otherwise.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.objectsScanned,
		m.objectsMatched,
		m.messagesProcessed,
		m.malformedMessages,
		m.consumerState,
	)
	return m
}

func (m *Metrics) ObjectScanned() {
	if m != nil {
		m.objectsScanned.Inc()
	}
}

func (m *Metrics) ObjectMatched() {
	if m != nil {
		m.objectsMatched.Inc()
	}
}

func (m *Metrics) MessageProcessed(outcome string) {
	if m != nil {
		m.messagesProcessed.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) MalformedMessage() {
	if m != nil {
		m.malformedMessages.Inc()
	}
}

// SetConsumerState marks state as current and clears previous
func (m *Metrics) SetConsumerState(previous, state string) {
	if m == nil {
		return
	}
	if previous != "" && previous != state {
		m.consumerState.WithLabelValues(previous).Set(0)
	}
	m.consumerState.WithLabelValues(state).Set(1)
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[metrics] listening on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
