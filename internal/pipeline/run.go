package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/visionpipe-worker/internal/output"
)

// ProducerArgs are the arguments of Producer.Run
type ProducerArgs struct {
	Keys        []string
	LabelFilter string
	Threshold   float64
}

// Result collects the summaries of the workers that ran
type Result struct {
	Producer *ProducerSummary
	Consumer *ConsumerSummary
}

// RunAll starts the given workers as goroutines and waits for both. Either
// may be nil. The first fatal error cancels the other worker and is returned.
func RunAll(ctx context.Context, producer *Producer, args ProducerArgs, consumer *Consumer, sink output.Sink) (*Result, error) {
	result := &Result{}
	g, gctx := errgroup.WithContext(ctx)

	if producer != nil {
		g.Go(func() error {
			summary, err := producer.Run(gctx, args.Keys, args.LabelFilter, args.Threshold)
			result.Producer = summary
			return err
		})
	}

	if consumer != nil {
		g.Go(func() error {
			summary, err := consumer.Run(gctx, sink)
			result.Consumer = summary
			return err
		})
	}

	err := g.Wait()
	return result, err
}
