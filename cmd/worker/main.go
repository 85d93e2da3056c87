/**
 * Vision Pipeline Worker - Main Entry Point
 *
 * Two-stage image pipeline:
 * - Producer: scans a bucket, runs label detection and enqueues every
 *   object carrying the target label, then an end-of-stream marker
 * - Consumer: polls the queue, runs text detection on each item and
 *   appends the detected lines to the output log
 *
 * PIPELINE_ROLE selects producer, consumer or both (default). In "both"
 * mode the two workers run concurrently and a fatal error in either
 * stops the other.
 *
 * Exit codes:
 * 0 - pipeline completed
 * 1 - configuration or startup failure
 * 2 - a worker aborted on a fatal error
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/adverant/nexus/visionpipe-worker/internal/config"
	"github.com/adverant/nexus/visionpipe-worker/internal/logging"
	"github.com/adverant/nexus/visionpipe-worker/internal/metrics"
	"github.com/adverant/nexus/visionpipe-worker/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	logger := logging.NewLogger("worker")
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("Unknown LOG_LEVEL, using info", "error", err)
	}
	logger.SetLevel(level)

	logger.Info("Vision pipeline worker starting",
		"role", cfg.Role,
		"blob_backend", cfg.BlobBackend,
		"queue_backend", cfg.QueueBackend,
		"text_detector", cfg.TextDetector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics are optional
	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewMetrics(reg)

		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
		logger.Info("Metrics listening", "addr", cfg.MetricsAddr)
	}

	deps, err := wire(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", "error", err)
		return 1
	}
	defer deps.Close(logger)

	result, err := pipeline.RunAll(ctx, deps.producer, pipeline.ProducerArgs{
		Keys:        cfg.ObjectKeys,
		LabelFilter: cfg.LabelFilter,
		Threshold:   cfg.ConfidenceThreshold,
	}, deps.consumer, deps.sink)

	if result.Producer != nil {
		logger.Info("Producer summary",
			"run", result.Producer.RunID,
			"scanned", result.Producer.Scanned,
			"matched", result.Producer.Matched,
			"skipped", result.Producer.Skipped)
	}
	if result.Consumer != nil {
		logger.Info("Consumer summary",
			"appended", result.Consumer.Appended,
			"no_text", result.Consumer.NoText,
			"missing", result.Consumer.Missing)
	}

	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Interrupted, shutting down", "error", err)
		} else {
			logger.Error("Pipeline aborted", "error", err)
		}
		return 2
	}

	logger.Info("Pipeline complete", "output", cfg.OutputLogPath)
	return 0
}
