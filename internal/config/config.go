// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default settings for the inspection environment.
const (
	// DefaultVolumeBatchSize is the maximum number of ready-volume messages
	// handed to one inspection run
	DefaultVolumeBatchSize = 32
	// DefaultResultsBatchSize is the maximum number of result messages read
	// per collector cycle
	DefaultResultsBatchSize = 10
	// DefaultScaleInterval is how often the cluster scaler checks for work
	DefaultScaleInterval = time.Minute
	// DefaultAuditInterval is how often the audit-log reconciler polls its feed
	DefaultAuditInterval = 30 * time.Second
	// DefaultRestartMinAge is how stale an unfinished image must be before the
	// restart sweep resubmits it for inspection
	DefaultRestartMinAge = 12 * time.Hour
	// DefaultMaxTaskAttempts is the retry budget for a pipeline task
	DefaultMaxTaskAttempts = 5
)

// Scanner holds the configuration of the isolated scanning environment.
type Scanner struct {
	// AvailabilityZone is the fixed zone where inspection volumes are created
	AvailabilityZone string
	// AutoScalingGroup is the name of the elastic compute group running the
	// inspection host
	AutoScalingGroup string
	// ECSCluster is the cluster the scan job runs on
	ECSCluster string
	// ECSFamily is the task definition family for scan jobs
	ECSFamily string
	// ScanImage and ScanImageTag identify the scan container image
	ScanImage    string
	ScanImageTag string
	// Debug passes --debug to the scan command
	Debug bool
	// ResultsQueue receives inspection results from the scan job
	ResultsQueue string
	// ResultsExchange is the exchange name handed to the scan job environment
	ResultsExchange string
	// QueueConnectionURL is the broker URL handed to the scan job environment
	QueueConnectionURL string
	// AccessKeyID and SecretAccessKey are the credentials handed to the scan
	// job for result delivery
	AccessKeyID     string
	SecretAccessKey string
	// Region is the scanning account's home region
	Region string
}

// Queues holds the names of the SQS queues the pipeline reads and writes.
type Queues struct {
	// NamePrefix is prepended to every queue name owned by this deployment
	NamePrefix string
	// ReadyVolumes is the work queue between staging and inspection
	ReadyVolumes string
	// AuditFeed is the queue delivering audit-log object notifications
	AuditFeed string
	// VolumeBatchSize caps how many ready-volume messages one scale-up handles
	VolumeBatchSize int
	// ResultsBatchSize caps how many result messages one collector run reads
	ResultsBatchSize int
}

// Worker holds the task runner and loop settings.
type Worker struct {
	// PoolSize is the number of concurrent task workers
	PoolSize int
	// MaxTaskAttempts is the retry budget per task
	MaxTaskAttempts int
	// ScaleInterval is the cluster scaler cycle period
	ScaleInterval time.Duration
	// AuditInterval is the reconciler cycle period
	AuditInterval time.Duration
	// RestartMinAge gates the stuck-image restart sweep
	RestartMinAge time.Duration
}

// Config is the full process configuration.
type Config struct {
	Scanner Scanner
	Queues  Queues
	Worker  Worker
}

// New reads the configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{
		Scanner: Scanner{
			AvailabilityZone:   os.Getenv("SCAN_AVAILABILITY_ZONE"),
			AutoScalingGroup:   os.Getenv("SCAN_AUTOSCALING_GROUP"),
			ECSCluster:         os.Getenv("SCAN_ECS_CLUSTER"),
			ECSFamily:          getEnvDefault("SCAN_ECS_FAMILY", "imagescout-inspect"),
			ScanImage:          os.Getenv("SCAN_IMAGE"),
			ScanImageTag:       getEnvDefault("SCAN_IMAGE_TAG", "latest"),
			Debug:              os.Getenv("SCAN_DEBUG") == "true",
			ResultsQueue:       os.Getenv("SCAN_RESULTS_QUEUE"),
			ResultsExchange:    os.Getenv("SCAN_RESULTS_EXCHANGE"),
			QueueConnectionURL: os.Getenv("SCAN_QUEUE_CONNECTION_URL"),
			AccessKeyID:        os.Getenv("SCAN_AWS_ACCESS_KEY_ID"),
			SecretAccessKey:    os.Getenv("SCAN_AWS_SECRET_ACCESS_KEY"),
			Region:             getEnvDefault("SCAN_AWS_REGION", "us-east-1"),
		},
		Queues: Queues{
			NamePrefix:       os.Getenv("QUEUE_NAME_PREFIX"),
			ReadyVolumes:     getEnvDefault("READY_VOLUMES_QUEUE", "ready_volumes"),
			AuditFeed:        os.Getenv("AUDIT_FEED_QUEUE"),
			VolumeBatchSize:  DefaultVolumeBatchSize,
			ResultsBatchSize: DefaultResultsBatchSize,
		},
		Worker: Worker{
			PoolSize:        4,
			MaxTaskAttempts: DefaultMaxTaskAttempts,
			ScaleInterval:   DefaultScaleInterval,
			AuditInterval:   DefaultAuditInterval,
			RestartMinAge:   DefaultRestartMinAge,
		},
	}

	if v := os.Getenv("VOLUME_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VOLUME_BATCH_SIZE %q: %w", v, err)
		}
		cfg.Queues.VolumeBatchSize = n
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_POOL_SIZE %q: %w", v, err)
		}
		cfg.Worker.PoolSize = n
	}
	if v := os.Getenv("SCALE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCALE_INTERVAL %q: %w", v, err)
		}
		cfg.Worker.ScaleInterval = d
	}
	if v := os.Getenv("AUDIT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUDIT_INTERVAL %q: %w", v, err)
		}
		cfg.Worker.AuditInterval = d
	}

	return cfg, cfg.Validate()
}

// Validate checks that the required settings are present.
func (c *Config) Validate() error {
	if c.Scanner.AvailabilityZone == "" {
		return fmt.Errorf("SCAN_AVAILABILITY_ZONE is required")
	}
	if c.Scanner.AutoScalingGroup == "" {
		return fmt.Errorf("SCAN_AUTOSCALING_GROUP is required")
	}
	if c.Scanner.ECSCluster == "" {
		return fmt.Errorf("SCAN_ECS_CLUSTER is required")
	}
	if c.Scanner.ScanImage == "" {
		return fmt.Errorf("SCAN_IMAGE is required")
	}
	if c.Queues.AuditFeed == "" {
		return fmt.Errorf("AUDIT_FEED_QUEUE is required")
	}
	if c.Queues.VolumeBatchSize <= 0 {
		return fmt.Errorf("volume batch size must be positive")
	}
	return nil
}

// ReadyVolumesQueueName returns the fully prefixed ready-volumes queue name.
func (c *Config) ReadyVolumesQueueName() string {
	return c.Queues.NamePrefix + c.Queues.ReadyVolumes
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
