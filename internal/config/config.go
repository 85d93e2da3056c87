/**
 * Configuration for the vision pipeline worker
 *
 * Values are layered: built-in defaults, then an optional YAML file
 * (CONFIG_PATH or ./config.yaml), then environment variables.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// Worker roles
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
	RoleBoth     = "both"
)

// Config holds worker configuration
type Config struct {
	Role string `yaml:"pipeline_role"`

	// Blob store
	BlobBackend   string   `yaml:"blob_backend"`
	BucketName    string   `yaml:"bucket_name"`
	BlobDir       string   `yaml:"blob_dir"`
	S3Endpoint    string   `yaml:"s3_endpoint"`
	ObjectKeys    []string `yaml:"object_keys"`
	MaxObjectSize int64    `yaml:"max_object_size"`

	// Queue
	QueueBackend             string `yaml:"queue_backend"`
	QueueURL                 string `yaml:"queue_url"`
	QueueName                string `yaml:"queue_name"`
	QueueGroupID             string `yaml:"queue_group_id"`
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds"`
	PollWaitSeconds          int    `yaml:"poll_wait_seconds"`
	MaxMessages              int    `yaml:"max_messages"`
	DrainEmptyPolls          int    `yaml:"drain_empty_polls"`

	// Detection
	LabelFilter         string  `yaml:"label_filter"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	TextDetector        string  `yaml:"text_detector"`
	TesseractLanguages  string  `yaml:"tesseract_languages"`
	AWSRegion           string  `yaml:"aws_region"`
	AWSEndpoint         string  `yaml:"aws_endpoint"`
	MaxImageBytes       int     `yaml:"max_image_bytes"`

	// Output
	OutputLogPath    string `yaml:"output_log_path"`
	ScratchDir       string `yaml:"scratch_dir"`
	DatabaseURL      string `yaml:"database_url"`
	MeilisearchHost  string `yaml:"meilisearch_host"`
	MeilisearchKey   string `yaml:"meilisearch_key"`
	MeilisearchIndex string `yaml:"meilisearch_index"`

	// Dedup
	DedupRedisURL string `yaml:"dedup_redis_url"`
	DedupTTLHours int    `yaml:"dedup_ttl_hours"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Role:                     RoleBoth,
		BlobBackend:              "s3",
		BlobDir:                  "./data",
		MaxObjectSize:            52428800, // 50MB
		QueueBackend:             "sqs",
		QueueName:                "vision:items",
		QueueGroupID:             "vision-pipeline",
		VisibilityTimeoutSeconds: 30,
		PollWaitSeconds:          20,
		MaxMessages:              10,
		DrainEmptyPolls:          3,
		LabelFilter:              "Car",
		ConfidenceThreshold:      90.0,
		TextDetector:             "rekognition",
		TesseractLanguages:       "eng",
		AWSRegion:                "us-east-1",
		MaxImageBytes:            5242880, // Rekognition inline image limit
		OutputLogPath:            "./output.txt",
		ScratchDir:               "/tmp/vision-pipeline",
		MeilisearchIndex:         "detected_text",
		DedupTTLHours:            48,
		LogLevel:                 "info",
	}
}

// LoadConfig loads configuration from the optional YAML file and environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(os.Getenv("CONFIG_PATH")); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file. An explicit path must exist; ./config.yaml is optional.
func (c *Config) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Role = getEnvOrDefault("PIPELINE_ROLE", c.Role)

	c.BlobBackend = getEnvOrDefault("BLOB_BACKEND", c.BlobBackend)
	c.BucketName = getEnvOrDefault("BUCKET_NAME", c.BucketName)
	c.BlobDir = getEnvOrDefault("BLOB_DIR", c.BlobDir)
	c.S3Endpoint = getEnvOrDefault("S3_ENDPOINT", c.S3Endpoint)
	c.ObjectKeys = getEnvAsListOrDefault("OBJECT_KEYS", c.ObjectKeys)
	c.MaxObjectSize = getEnvAsInt64OrDefault("MAX_OBJECT_SIZE", c.MaxObjectSize)

	c.QueueBackend = getEnvOrDefault("QUEUE_BACKEND", c.QueueBackend)
	c.QueueURL = getEnvOrDefault("QUEUE_URL", c.QueueURL)
	c.QueueName = getEnvOrDefault("QUEUE_NAME", c.QueueName)
	c.QueueGroupID = getEnvOrDefault("QUEUE_GROUP_ID", c.QueueGroupID)
	c.VisibilityTimeoutSeconds = getEnvAsIntOrDefault("VISIBILITY_TIMEOUT_SECONDS", c.VisibilityTimeoutSeconds)
	c.PollWaitSeconds = getEnvAsIntOrDefault("POLL_WAIT_SECONDS", c.PollWaitSeconds)
	c.MaxMessages = getEnvAsIntOrDefault("MAX_MESSAGES", c.MaxMessages)
	c.DrainEmptyPolls = getEnvAsIntOrDefault("DRAIN_EMPTY_POLLS", c.DrainEmptyPolls)

	c.LabelFilter = getEnvOrDefault("LABEL_FILTER", c.LabelFilter)
	c.ConfidenceThreshold = getEnvAsFloatOrDefault("CONFIDENCE_THRESHOLD", c.ConfidenceThreshold)
	c.TextDetector = getEnvOrDefault("TEXT_DETECTOR", c.TextDetector)
	c.TesseractLanguages = getEnvOrDefault("TESSERACT_LANGUAGES", c.TesseractLanguages)
	c.AWSRegion = getEnvOrDefault("AWS_REGION", c.AWSRegion)
	c.AWSEndpoint = getEnvOrDefault("AWS_ENDPOINT_URL", c.AWSEndpoint)
	c.MaxImageBytes = getEnvAsIntOrDefault("MAX_IMAGE_BYTES", c.MaxImageBytes)

	c.OutputLogPath = getEnvOrDefault("OUTPUT_LOG_PATH", c.OutputLogPath)
	c.ScratchDir = getEnvOrDefault("SCRATCH_DIR", c.ScratchDir)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.MeilisearchHost = getEnvOrDefault("MEILISEARCH_HOST", c.MeilisearchHost)
	c.MeilisearchKey = getEnvOrDefault("MEILISEARCH_KEY", c.MeilisearchKey)
	c.MeilisearchIndex = getEnvOrDefault("MEILISEARCH_INDEX", c.MeilisearchIndex)

	c.DedupRedisURL = getEnvOrDefault("DEDUP_REDIS_URL", c.DedupRedisURL)
	c.DedupTTLHours = getEnvAsIntOrDefault("DEDUP_TTL_HOURS", c.DedupTTLHours)

	c.MetricsAddr = getEnvOrDefault("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.Role {
	case RoleProducer, RoleConsumer, RoleBoth:
	default:
		return errors.NewConfigInvalidError("PIPELINE_ROLE", fmt.Sprintf("must be producer, consumer or both, got %q", c.Role))
	}

	switch c.BlobBackend {
	case "s3":
		if c.BucketName == "" {
			return errors.NewConfigInvalidError("BUCKET_NAME", "is required for the s3 blob backend")
		}
	case "filesystem":
		if c.BlobDir == "" {
			return errors.NewConfigInvalidError("BLOB_DIR", "is required for the filesystem blob backend")
		}
	default:
		return errors.NewConfigInvalidError("BLOB_BACKEND", fmt.Sprintf("must be s3 or filesystem, got %q", c.BlobBackend))
	}

	switch c.QueueBackend {
	case "sqs", "redis", "nats":
		if c.QueueURL == "" {
			return errors.NewConfigInvalidError("QUEUE_URL", fmt.Sprintf("is required for the %s queue backend", c.QueueBackend))
		}
	case "memory":
		if c.Role != RoleBoth {
			return errors.NewConfigInvalidError("QUEUE_BACKEND", "memory requires PIPELINE_ROLE=both")
		}
	default:
		return errors.NewConfigInvalidError("QUEUE_BACKEND", fmt.Sprintf("must be sqs, redis, nats or memory, got %q", c.QueueBackend))
	}

	if c.QueueName == "" {
		return errors.NewConfigInvalidError("QUEUE_NAME", "is required")
	}

	if c.VisibilityTimeoutSeconds < 1 || c.VisibilityTimeoutSeconds > 43200 { // SQS maximum, 12h
		return errors.NewConfigInvalidError("VISIBILITY_TIMEOUT_SECONDS", fmt.Sprintf("must be between 1 and 43200, got %d", c.VisibilityTimeoutSeconds))
	}

	if c.PollWaitSeconds < 0 || c.PollWaitSeconds > 20 {
		return errors.NewConfigInvalidError("POLL_WAIT_SECONDS", fmt.Sprintf("must be between 0 and 20, got %d", c.PollWaitSeconds))
	}

	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		return errors.NewConfigInvalidError("MAX_MESSAGES", fmt.Sprintf("must be between 1 and 10, got %d", c.MaxMessages))
	}

	if c.DrainEmptyPolls < 1 {
		return errors.NewConfigInvalidError("DRAIN_EMPTY_POLLS", fmt.Sprintf("must be at least 1, got %d", c.DrainEmptyPolls))
	}

	if c.LabelFilter == "" {
		return errors.NewConfigInvalidError("LABEL_FILTER", "is required")
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return errors.NewConfigInvalidError("CONFIDENCE_THRESHOLD", fmt.Sprintf("must be between 0 and 100, got %v", c.ConfidenceThreshold))
	}

	switch c.TextDetector {
	case "rekognition", "tesseract":
	default:
		return errors.NewConfigInvalidError("TEXT_DETECTOR", fmt.Sprintf("must be rekognition or tesseract, got %q", c.TextDetector))
	}

	if c.MaxImageBytes < 1024 {
		return errors.NewConfigInvalidError("MAX_IMAGE_BYTES", fmt.Sprintf("must be at least 1KB, got %d", c.MaxImageBytes))
	}

	if c.MaxObjectSize < 1024 {
		return errors.NewConfigInvalidError("MAX_OBJECT_SIZE", fmt.Sprintf("must be at least 1KB, got %d", c.MaxObjectSize))
	}

	if c.RunsConsumer() && c.OutputLogPath == "" {
		return errors.NewConfigInvalidError("OUTPUT_LOG_PATH", "is required for the consumer")
	}

	if c.ScratchDir == "" {
		return errors.NewConfigInvalidError("SCRATCH_DIR", "is required")
	}

	if c.MeilisearchHost != "" && c.MeilisearchIndex == "" {
		return errors.NewConfigInvalidError("MEILISEARCH_INDEX", "is required when MEILISEARCH_HOST is set")
	}

	return nil
}

// RunsProducer reports whether this process runs the producer
func (c *Config) RunsProducer() bool {
	return c.Role == RoleProducer || c.Role == RoleBoth
}

// RunsConsumer reports whether this process runs the consumer
func (c *Config) RunsConsumer() bool {
	return c.Role == RoleConsumer || c.Role == RoleBoth
}

func (c *Config) PollWait() time.Duration {
	return time.Duration(c.PollWaitSeconds) * time.Second
}

func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma separated variable, dropping empty entries
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
