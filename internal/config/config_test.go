package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("BUCKET_NAME", "images")
	t.Setenv("QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/vision")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ConfidenceThreshold != 90.0 {
		t.Errorf("ConfidenceThreshold = %v, want 90", cfg.ConfidenceThreshold)
	}
	if cfg.LabelFilter != "Car" {
		t.Errorf("LabelFilter = %q, want Car", cfg.LabelFilter)
	}
	if cfg.PollWait() != 20*time.Second {
		t.Errorf("PollWait = %v", cfg.PollWait())
	}
	if cfg.MaxMessages != 10 {
		t.Errorf("MaxMessages = %d", cfg.MaxMessages)
	}
	if cfg.VisibilityTimeout() != 30*time.Second {
		t.Errorf("VisibilityTimeout = %v", cfg.VisibilityTimeout())
	}
	if !cfg.RunsProducer() || !cfg.RunsConsumer() {
		t.Error("default role should run both workers")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PIPELINE_ROLE", "consumer")
	t.Setenv("BLOB_BACKEND", "filesystem")
	t.Setenv("BLOB_DIR", "/srv/images")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("QUEUE_URL", "redis://localhost:6379/0")
	t.Setenv("CONFIDENCE_THRESHOLD", "75.5")
	t.Setenv("LABEL_FILTER", "Truck")
	t.Setenv("OBJECT_KEYS", "1.jpg, 2.jpg,,3.jpg")
	t.Setenv("MAX_MESSAGES", "5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.RunsProducer() {
		t.Error("consumer role must not run the producer")
	}
	if cfg.ConfidenceThreshold != 75.5 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if cfg.LabelFilter != "Truck" {
		t.Errorf("LabelFilter = %q", cfg.LabelFilter)
	}
	if want := []string{"1.jpg", "2.jpg", "3.jpg"}; !reflect.DeepEqual(cfg.ObjectKeys, want) {
		t.Errorf("ObjectKeys = %v, want %v", cfg.ObjectKeys, want)
	}
	if cfg.MaxMessages != 5 {
		t.Errorf("MaxMessages = %d", cfg.MaxMessages)
	}
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	yaml := strings.Join([]string{
		"pipeline_role: both",
		"blob_backend: filesystem",
		"blob_dir: /data/images",
		"queue_backend: memory",
		"label_filter: Bus",
		"poll_wait_seconds: 5",
		"object_keys: [a.jpg, b.jpg]",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("POLL_WAIT_SECONDS", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.LabelFilter != "Bus" {
		t.Errorf("LabelFilter from file = %q", cfg.LabelFilter)
	}
	if cfg.PollWaitSeconds != 2 {
		t.Errorf("env should override file, PollWaitSeconds = %d", cfg.PollWaitSeconds)
	}
	if len(cfg.ObjectKeys) != 2 {
		t.Errorf("ObjectKeys = %v", cfg.ObjectKeys)
	}
	if cfg.MaxMessages != 10 {
		t.Errorf("defaults should survive file overlay, MaxMessages = %d", cfg.MaxMessages)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.BucketName = "images"
		cfg.QueueURL = "https://sqs.example/q"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad role", func(c *Config) { c.Role = "observer" }, "PIPELINE_ROLE"},
		{"missing bucket", func(c *Config) { c.BucketName = "" }, "BUCKET_NAME"},
		{"missing queue url", func(c *Config) { c.QueueURL = "" }, "QUEUE_URL"},
		{"memory needs both", func(c *Config) { c.QueueBackend = "memory"; c.Role = RoleProducer }, "memory"},
		{"threshold too high", func(c *Config) { c.ConfidenceThreshold = 101 }, "CONFIDENCE_THRESHOLD"},
		{"max messages", func(c *Config) { c.MaxMessages = 11 }, "MAX_MESSAGES"},
		{"poll wait", func(c *Config) { c.PollWaitSeconds = 21 }, "POLL_WAIT_SECONDS"},
		{"text detector", func(c *Config) { c.TextDetector = "magic" }, "TEXT_DETECTOR"},
		{"drain polls", func(c *Config) { c.DrainEmptyPolls = 0 }, "DRAIN_EMPTY_POLLS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidateErrorsCarryCode(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if !errors.HasCode(err, errors.ErrorConfigInvalid) {
		t.Fatalf("err = %v, want CONFIG_INVALID", err)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
