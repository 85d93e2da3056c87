package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/visionpipe-worker/internal/dedup"
	"github.com/adverant/nexus/visionpipe-worker/internal/detection"
	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
	"github.com/adverant/nexus/visionpipe-worker/internal/logging"
	"github.com/adverant/nexus/visionpipe-worker/internal/metrics"
	"github.com/adverant/nexus/visionpipe-worker/internal/output"
	"github.com/adverant/nexus/visionpipe-worker/internal/queue"
	"github.com/adverant/nexus/visionpipe-worker/internal/storage"
	"github.com/adverant/nexus/visionpipe-worker/internal/workitem"
)

// State is the consumer's position in its poll loop
type State string

const (
	StatePolling         State = "POLLING"
	StateProcessingBatch State = "PROCESSING_BATCH"
	StateDone            State = "DONE"
)

// ConsumerConfig holds the consumer's collaborators and poll settings
type ConsumerConfig struct {
	Store        storage.BlobStore
	Texts        detection.TextDetector
	Queue        queue.Queue
	Cache        *storage.ScratchCache
	Preprocessor *detection.Preprocessor

	// Dedup is optional. When set, an item already recorded is not appended again.
	Dedup   dedup.Store
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	MaxMessages int
	WaitTime    time.Duration

	// DrainEmptyPolls bounds how many consecutive polls without progress the
	// consumer waits for missing items after the end-of-stream marker. Empty
	// polls and batches that complete no item of the marker's run both count.
	DrainEmptyPolls int

	now func() time.Time
}

// ConsumerSummary counts what one run did
type ConsumerSummary struct {
	Processed         int
	Appended          int
	NoText            int
	Duplicates        int
	Skipped           int
	Retried           int
	DetectionFailures int
	Malformed         int

	// Missing is how many announced items never completed before the drain gave up.
	Missing int
}

// Consumer processes work items until it has seen the end-of-stream marker
// and drained the items announced before it.
type Consumer struct {
	store   storage.BlobStore
	texts   detection.TextDetector
	queue   queue.Queue
	cache   *storage.ScratchCache
	prep    *detection.Preprocessor
	dedup   dedup.Store
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time

	maxMessages     int
	waitTime        time.Duration
	drainEmptyPolls int

	state     State
	eos       *workitem.Item
	completed map[string]map[int]struct{} // run -> sequences
	idlePolls int
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
)

// NewConsumer validates cfg and builds a consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Texts == nil {
		return nil, fmt.Errorf("text detector is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	c := &Consumer{
		store:           cfg.Store,
		texts:           cfg.Texts,
		queue:           cfg.Queue,
		cache:           cfg.Cache,
		prep:            cfg.Preprocessor,
		dedup:           cfg.Dedup,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		now:             cfg.now,
		maxMessages:     cfg.MaxMessages,
		waitTime:        cfg.WaitTime,
		drainEmptyPolls: cfg.DrainEmptyPolls,
		completed:       make(map[string]map[int]struct{}),
	}

	if c.logger == nil {
		c.logger = logging.NewLogger("consumer")
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.maxMessages <= 0 {
		c.maxMessages = 10
	}
	if c.waitTime < 0 {
		c.waitTime = 0
	}
	if c.drainEmptyPolls <= 0 {
		c.drainEmptyPolls = 3
	}
	return c, nil
}

// State returns the consumer's current state
func (c *Consumer) State() State {
	return c.state
}

func (c *Consumer) setState(s State) {
	c.metrics.SetConsumerState(string(c.state), string(s))
	c.state = s
}

// Run polls until DONE. Only queue failures and cancellation end it early.
func (c *Consumer) Run(ctx context.Context, sink output.Sink) (*ConsumerSummary, error) {
	if sink == nil {
		return nil, fmt.Errorf("output sink is required")
	}

	summary := &ConsumerSummary{}
	c.setState(StatePolling)
	c.logger.Info("Consumer polling", "max_messages", c.maxMessages, "wait", c.waitTime)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		msgs, err := c.queue.Receive(ctx, c.maxMessages, c.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			c.logger.Error("Queue receive failed, aborting", "error", err)
			return summary, errors.NewQueueUnavailableError("receive", err)
		}

		if len(msgs) == 0 {
			if c.eos != nil {
				c.idlePolls++
				if c.drained(summary) {
					return c.finish(summary), nil
				}
			}
			continue
		}

		c.setState(StateProcessingBatch)
		eosKnown := c.eos != nil
		before := c.completedCount()

		for _, m := range msgs {
			if err := c.handle(ctx, sink, m, summary); err != nil {
				return summary, err
			}
		}

		if c.eos != nil {
			// A batch of redelivered poison or retried messages is no progress.
			switch {
			case c.completedCount() > before:
				c.idlePolls = 0
			case eosKnown:
				c.idlePolls++
			}
			if c.drained(summary) {
				return c.finish(summary), nil
			}
		}
		c.setState(StatePolling)
	}
}

func (c *Consumer) finish(summary *ConsumerSummary) *ConsumerSummary {
	c.setState(StateDone)
	c.logger.Info("Consumer done",
		"processed", summary.Processed,
		"appended", summary.Appended,
		"duplicates", summary.Duplicates,
		"retried", summary.Retried,
		"malformed", summary.Malformed,
		"missing", summary.Missing)
	return summary
}

// completedCount is how many distinct items of the end-of-stream marker's run
// have completed. Items left over from other runs never count.
func (c *Consumer) completedCount() int {
	if c.eos == nil {
		return 0
	}
	return len(c.completed[c.eos.Run])
}

func (c *Consumer) markCompleted(item workitem.Item) {
	seqs, ok := c.completed[item.Run]
	if !ok {
		seqs = make(map[int]struct{})
		c.completed[item.Run] = seqs
	}
	seqs[item.Sequence] = struct{}{}
}

// drained reports whether the stop condition holds after the end-of-stream
// marker: immediately when it carried no count, otherwise once every
// announced item completed or the idle-poll budget ran out.
func (c *Consumer) drained(summary *ConsumerSummary) bool {
	if !c.eos.TotalKnown() {
		return true
	}
	done := c.completedCount()
	if done >= c.eos.Total {
		return true
	}
	if c.idlePolls >= c.drainEmptyPolls {
		summary.Missing = c.eos.Total - done
		c.logger.Warn("Drain gave up before all items completed",
			"run", c.eos.Run,
			"total", c.eos.Total,
			"completed", done,
			"idle_polls", c.idlePolls)
		return true
	}
	return false
}

// handle processes one message. Only fatal errors are returned.
func (c *Consumer) handle(ctx context.Context, sink output.Sink, m queue.Message, summary *ConsumerSummary) error {
	item, err := workitem.Decode(m.Body)
	if err != nil {
		// Left undeleted: it is redelivered or expires, and stays visible to operators.
		c.logger.Warn("Malformed message skipped", "message_id", m.ID, "body", m.Body, "error", err)
		summary.Malformed++
		c.metrics.MalformedMessage()
		return nil
	}

	if item.IsEndOfStream() {
		if c.eos == nil {
			c.eos = &item
			c.logger.Info("End of stream observed", "item", item.String())
		} else {
			c.logger.Warn("Duplicate end of stream ignored", "item", item.String())
		}
		return c.delete(ctx, m)
	}

	log := c.logger.With("run", item.Run, "seq", item.Sequence, "key", item.Key, "message_id", m.ID, "receive_count", m.ReceiveCount)
	summary.Processed++

	if c.process(ctx, sink, item, log, summary) == outcomeRetry {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary.Retried++
		c.metrics.MessageProcessed(metrics.OutcomeRetry)
		return nil
	}

	if err := c.delete(ctx, m); err != nil {
		return err
	}
	c.markCompleted(item)
	return nil
}

func (c *Consumer) process(ctx context.Context, sink output.Sink, item workitem.Item, log *logging.Logger, summary *ConsumerSummary) outcome {
	data, err := c.store.Get(ctx, item.Key)
	if err != nil {
		if errors.HasCode(err, errors.ErrorStorageUnavailable) || ctx.Err() != nil {
			log.Warn("Blob store unavailable, leaving message for redelivery", "error", err)
			return outcomeRetry
		}
		log.Warn("Object cannot be fetched, dropping message", "error", err)
		summary.Skipped++
		c.metrics.MessageProcessed(metrics.OutcomeNotFound)
		return outcomeDone
	}

	cacheCopy(c.cache, log, item.Key, data)

	image, err := prepareImage(c.prep, data)
	if err != nil {
		log.Warn("Image preprocessing failed", "error", err)
		summary.DetectionFailures++
		c.metrics.MessageProcessed(metrics.OutcomeDetection)
		return outcomeDone
	}

	detections, err := c.texts.DetectText(ctx, image)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeRetry
		}
		log.Warn("Text detection failed", "error", err)
		summary.DetectionFailures++
		c.metrics.MessageProcessed(metrics.OutcomeDetection)
		return outcomeDone
	}

	lines := detection.Lines(detections)
	if len(lines) == 0 {
		log.Info("No text detected")
		summary.NoText++
		c.metrics.MessageProcessed(metrics.OutcomeNoText)
		return outcomeDone
	}

	if c.dedup != nil {
		seen, err := c.dedup.Seen(ctx, item.ID())
		if err != nil {
			log.Warn("Dedup lookup failed, appending anyway", "error", err)
		} else if seen {
			log.Info("Already recorded, skipping append")
			summary.Duplicates++
			c.metrics.MessageProcessed(metrics.OutcomeDuplicate)
			return outcomeDone
		}
	}

	rec := output.Record{
		Sequence:   item.Sequence,
		Key:        item.Key,
		Text:       lines,
		DetectedAt: c.now(),
	}
	if err := sink.Append(ctx, rec); err != nil {
		log.Error("Failed to append record, leaving message for redelivery", "error", err)
		return outcomeRetry
	}

	if c.dedup != nil {
		if err := c.dedup.MarkSeen(ctx, item.ID()); err != nil {
			log.Warn("Failed to record dedup marker", "error", err)
		}
	}

	summary.Appended++
	c.metrics.MessageProcessed(metrics.OutcomeAppended)
	log.Info("Text recorded", "lines", len(lines))
	return outcomeDone
}

func (c *Consumer) delete(ctx context.Context, m queue.Message) error {
	err := c.queue.Delete(ctx, m.ReceiptHandle)
	if err == nil {
		return nil
	}
	if errors.Is(err, queue.ErrStaleReceipt) {
		c.logger.Warn("Receipt expired before delete, message will be redelivered", "message_id", m.ID)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Error("Queue delete failed, aborting", "message_id", m.ID, "error", err)
	return errors.NewQueueUnavailableError("delete", err)
}
