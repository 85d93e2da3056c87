// Package pipeline runs the producer and consumer workers.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/adverant/nexus/visionpipe-worker/internal/detection"
	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
	"github.com/adverant/nexus/visionpipe-worker/internal/logging"
	"github.com/adverant/nexus/visionpipe-worker/internal/metrics"
	"github.com/adverant/nexus/visionpipe-worker/internal/queue"
	"github.com/adverant/nexus/visionpipe-worker/internal/storage"
	"github.com/adverant/nexus/visionpipe-worker/internal/workitem"
)

// ProducerConfig holds the producer's collaborators
type ProducerConfig struct {
	Store        storage.BlobStore
	Labels       detection.LabelDetector
	Queue        queue.Queue
	Cache        *storage.ScratchCache
	Preprocessor *detection.Preprocessor
	Metrics      *metrics.Metrics
	Logger       *logging.Logger

	// RunID stamps every item sent. Empty means a fresh uuid per Run.
	RunID string
}

// ProducerSummary counts what one run did
type ProducerSummary struct {
	RunID             string
	Scanned           int
	Matched           int
	Skipped           int
	DetectionFailures int
}

// Producer enqueues a work item for every object carrying the target label
type Producer struct {
	store   storage.BlobStore
	labels  detection.LabelDetector
	queue   queue.Queue
	cache   *storage.ScratchCache
	prep    *detection.Preprocessor
	metrics *metrics.Metrics
	logger  *logging.Logger
	runID   string
}

// NewProducer validates cfg and builds a producer
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Labels == nil {
		return nil, fmt.Errorf("label detector is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("producer")
	}

	return &Producer{
		store:   cfg.Store,
		labels:  cfg.Labels,
		queue:   cfg.Queue,
		cache:   cfg.Cache,
		prep:    cfg.Preprocessor,
		metrics: cfg.Metrics,
		logger:  logger,
		runID:   cfg.RunID,
	}, nil
}

// Run scans keys in order and enqueues Data{i, key} for each match, where i
// is the key's 1-based position, then enqueues EndOfStream with the match
// count. An empty keys slice scans the whole bucket.
//
// Blob store outages and queue failures abort the run without a sentinel.
// Detection failures and missing objects count as no match.
func (p *Producer) Run(ctx context.Context, keys []string, labelFilter string, threshold float64) (*ProducerSummary, error) {
	runID := p.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := &ProducerSummary{RunID: runID}

	if len(keys) == 0 {
		listed, err := p.store.List(ctx)
		if err != nil {
			p.logger.Error("Failed to list bucket", "error", err)
			return summary, err
		}
		keys = listed
		p.logger.Info("Listed bucket", "objects", len(keys))
	}

	p.logger.Info("Producer starting", "run", runID, "objects", len(keys), "label", labelFilter, "threshold", threshold)

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		seq := i + 1
		log := p.logger.With("seq", seq, "key", key)

		matched, err := p.scan(ctx, log, key, labelFilter, threshold, summary)
		if err != nil {
			return summary, err
		}
		if !matched {
			continue
		}

		if err := p.send(ctx, workitem.Data(seq, key).WithRun(runID)); err != nil {
			log.Error("Failed to enqueue work item", "error", err)
			return summary, err
		}
		summary.Matched++
		p.metrics.ObjectMatched()
		log.Info("Match enqueued")
	}

	if err := p.send(ctx, workitem.EndOfStream(summary.Matched).WithRun(runID)); err != nil {
		p.logger.Error("Failed to enqueue end of stream", "error", err)
		return summary, err
	}

	p.logger.Info("Producer finished",
		"run", runID,
		"scanned", summary.Scanned,
		"matched", summary.Matched,
		"skipped", summary.Skipped,
		"detection_failures", summary.DetectionFailures)
	return summary, nil
}

// scan reports whether key matched. Only a fatal error is returned.
func (p *Producer) scan(ctx context.Context, log *logging.Logger, key, labelFilter string, threshold float64, summary *ProducerSummary) (bool, error) {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.HasCode(err, errors.ErrorStorageUnavailable) {
			log.Error("Blob store unavailable, aborting", "error", err)
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("Object skipped", "error", err)
		summary.Skipped++
		return false, nil
	}

	summary.Scanned++
	p.metrics.ObjectScanned()
	cacheCopy(p.cache, log, key, data)

	image, err := prepareImage(p.prep, data)
	if err != nil {
		log.Warn("Image preprocessing failed, treating as no match", "error", err)
		summary.DetectionFailures++
		return false, nil
	}

	labels, err := p.labels.DetectLabels(ctx, image, threshold)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("Label detection failed, treating as no match", "error", err)
		summary.DetectionFailures++
		return false, nil
	}

	if !detection.HasLabel(labels, labelFilter, threshold) {
		log.Info("No match", "labels", len(labels))
		return false, nil
	}
	return true, nil
}

func (p *Producer) send(ctx context.Context, item workitem.Item) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewQueueUnavailableError("send", err)
	}
	return nil
}

// cacheCopy refreshes the scratch copy of key. Failures are logged only.
func cacheCopy(cache *storage.ScratchCache, log *logging.Logger, key string, data []byte) {
	if cache == nil {
		return
	}
	if _, err := cache.Store(key, data); err != nil {
		log.Warn("Failed to cache scratch copy", "error", err)
	}
}

func prepareImage(prep *detection.Preprocessor, data []byte) ([]byte, error) {
	if prep == nil {
		return data, nil
	}
	return prep.Prepare(data)
}
