package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/adverant/nexus/visionpipe-worker/internal/config"
	"github.com/adverant/nexus/visionpipe-worker/internal/dedup"
	"github.com/adverant/nexus/visionpipe-worker/internal/detection"
	"github.com/adverant/nexus/visionpipe-worker/internal/detection/tesseract"
	"github.com/adverant/nexus/visionpipe-worker/internal/logging"
	"github.com/adverant/nexus/visionpipe-worker/internal/metrics"
	"github.com/adverant/nexus/visionpipe-worker/internal/output"
	"github.com/adverant/nexus/visionpipe-worker/internal/pipeline"
	"github.com/adverant/nexus/visionpipe-worker/internal/queue"
	"github.com/adverant/nexus/visionpipe-worker/internal/storage"
)

// dependencies are the constructed workers plus everything that needs closing
type dependencies struct {
	producer *pipeline.Producer
	consumer *pipeline.Consumer
	sink     output.Sink
	closers  []io.Closer
}

func (d *dependencies) Close(logger *logging.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			logger.Warn("Error during shutdown", "error", err)
		}
	}
}

// wire builds the workers PIPELINE_ROLE asks for. Worker loggers derive from
// logger and inherit its LOG_LEVEL. On error everything constructed so far
// is closed.
func wire(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (_ *dependencies, err error) {
	deps := &dependencies{}
	defer func() {
		if err != nil {
			deps.Close(logger)
		}
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.AWSEndpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWSEndpoint)
	}

	store, err := newBlobStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	q, err := newQueue(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, q)
	logger.Info("Queue connected", "backend", cfg.QueueBackend, "name", cfg.QueueName)

	prep := detection.NewPreprocessor(cfg.MaxImageBytes)
	rek := detection.NewRekognition(rekognition.NewFromConfig(awsCfg))

	if cfg.RunsProducer() {
		cache, err := storage.NewScratchCache(filepath.Join(cfg.ScratchDir, "producer"))
		if err != nil {
			return nil, err
		}
		deps.producer, err = pipeline.NewProducer(&pipeline.ProducerConfig{
			Store:        store,
			Labels:       rek,
			Queue:        q,
			Cache:        cache,
			Preprocessor: prep,
			Metrics:      m,
			Logger:       logger.Named("producer"),
		})
		if err != nil {
			return nil, err
		}
	}

	if !cfg.RunsConsumer() {
		return deps, nil
	}

	cache, err := storage.NewScratchCache(filepath.Join(cfg.ScratchDir, "consumer"))
	if err != nil {
		return nil, err
	}

	var texts detection.TextDetector = rek
	if cfg.TextDetector == "tesseract" {
		texts = tesseract.NewDetector(&tesseract.Config{Languages: cfg.TesseractLanguages})
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.sink = sink
	deps.closers = append(deps.closers, sink)

	var seen dedup.Store
	if cfg.DedupRedisURL != "" {
		rs, err := dedup.NewRedisStoreFromURL(ctx, cfg.DedupRedisURL, cfg.DedupTTLHours)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, rs)
		seen = rs
		logger.Info("Dedup store connected", "ttl_hours", cfg.DedupTTLHours)
	}

	deps.consumer, err = pipeline.NewConsumer(&pipeline.ConsumerConfig{
		Store:           store,
		Texts:           texts,
		Queue:           q,
		Cache:           cache,
		Preprocessor:    prep,
		Dedup:           seen,
		Metrics:         m,
		Logger:          logger.Named("consumer"),
		MaxMessages:     cfg.MaxMessages,
		WaitTime:        cfg.PollWait(),
		DrainEmptyPolls: cfg.DrainEmptyPolls,
	})
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func newBlobStore(cfg *config.Config, awsCfg aws.Config) (storage.BlobStore, error) {
	if cfg.BlobBackend == "filesystem" {
		return storage.NewFilesystemStore(cfg.BlobDir, cfg.MaxObjectSize)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3Store(client, cfg.BucketName, cfg.MaxObjectSize)
}

func newQueue(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "sqs":
		return queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), &queue.SQSQueueConfig{
			QueueURL:          cfg.QueueURL,
			GroupID:           cfg.QueueGroupID,
			VisibilityTimeout: cfg.VisibilityTimeout(),
		})
	case "redis":
		return queue.NewRedisQueue(ctx, &queue.RedisQueueConfig{
			RedisURL:          cfg.QueueURL,
			QueueName:         cfg.QueueName,
			VisibilityTimeout: cfg.VisibilityTimeout(),
		})
	case "nats":
		return queue.NewNATSQueue(&queue.NATSQueueConfig{
			URL:     cfg.QueueURL,
			Subject: cfg.QueueName,
			AckWait: cfg.VisibilityTimeout(),
		})
	case "memory":
		return queue.NewMemoryQueue(cfg.VisibilityTimeout()), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

// newSink always writes the output log; Postgres and Meilisearch are added when configured
func newSink(ctx context.Context, cfg *config.Config, logger *logging.Logger) (output.Sink, error) {
	file, err := output.NewFileSink(cfg.OutputLogPath)
	if err != nil {
		return nil, err
	}
	sinks := []output.Sink{file}

	if cfg.DatabaseURL != "" {
		pg, err := output.NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			file.Close()
			return nil, err
		}
		sinks = append(sinks, pg)
		logger.Info("PostgreSQL sink enabled")
	}

	if cfg.MeilisearchHost != "" {
		sinks = append(sinks, output.NewSearchSink(ctx, cfg.MeilisearchHost, cfg.MeilisearchKey, cfg.MeilisearchIndex))
		logger.Info("Meilisearch sink enabled", "index", cfg.MeilisearchIndex)
	}

	if len(sinks) == 1 {
		return file, nil
	}
	return output.NewMultiSink(sinks...), nil
}
