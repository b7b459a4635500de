// Package config handles loading and parsing of Pixyard configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Pixyard.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Storage     StorageConfig     `yaml:"storage"`
	Queue       QueueConfig       `yaml:"queue"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Recognition RecognitionConfig `yaml:"recognition"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// CORSOrigin is the value sent in Access-Control-Allow-Origin on every
	// response. The browser front end is served from a different origin.
	CORSOrigin string `yaml:"cors_origin"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text or json.
	Format string `yaml:"format"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify bearer tokens issued by
	// the identity provider.
	JWTSecret string `yaml:"jwt_secret"`
	// JWTAudience, when set, must appear in the token's aud claim.
	JWTAudience string `yaml:"jwt_audience"`
}

// MetadataConfig holds image-record store settings.
type MetadataConfig struct {
	// Engine is the metadata backend engine: sqlite, dynamodb, or memory.
	Engine   string         `yaml:"engine"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// SQLiteConfig holds SQLite-specific metadata store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// DynamoDBConfig holds DynamoDB-specific metadata store settings.
type DynamoDBConfig struct {
	// Table is the DynamoDB table name holding image records.
	Table string `yaml:"table"`
	// Region is the AWS region of the table.
	Region string `yaml:"region"`
	// EndpointURL overrides the DynamoDB endpoint (for local testing).
	EndpointURL string `yaml:"endpoint_url"`
}

// StorageConfig holds blob storage backend settings. Raw uploads and resized
// derivatives live in two separate buckets, both partitioned by owner
// namespace.
type StorageConfig struct {
	// Backend is the blob storage backend type: local, aws, gcp, or memory.
	Backend string `yaml:"backend"`
	// RawBucket is the bucket holding original uploads.
	RawBucket string `yaml:"raw_bucket"`
	// DerivativeBucket is the bucket holding resized derivatives.
	DerivativeBucket string      `yaml:"derivative_bucket"`
	Local            LocalConfig `yaml:"local"`
	AWS              AWSConfig   `yaml:"aws"`
	GCP              GCPConfig   `yaml:"gcp"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir is the base directory for local object storage.
	RootDir string `yaml:"root_dir"`
}

// AWSConfig holds S3 storage backend settings. Credentials are resolved via
// the standard AWS credential chain unless a static pair is configured.
type AWSConfig struct {
	Region string `yaml:"region"`
	// EndpointURL overrides the S3 endpoint (for MinIO/localstack).
	EndpointURL string `yaml:"endpoint_url"`
	// AccessKeyID and SecretAccessKey, when both set, take precedence over
	// the default credential chain. Mainly for S3-compatible test servers.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible test servers.
	UsePathStyle bool `yaml:"use_path_style"`
}

// GCPConfig holds GCS storage backend settings.
type GCPConfig struct {
	Project string `yaml:"project"`
}

// QueueConfig holds object-created notification source settings.
type QueueConfig struct {
	// Source is the notification source: memory or sqs.
	Source string    `yaml:"source"`
	SQS    SQSConfig `yaml:"sqs"`
	// Workers is the number of concurrent pipeline workers.
	Workers int `yaml:"workers"`
}

// SQSConfig holds SQS notification source settings.
type SQSConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
	// WaitTimeSeconds is the SQS long-poll duration.
	WaitTimeSeconds int `yaml:"wait_time_seconds"`
	// MaxMessages is the maximum number of messages per receive call.
	MaxMessages int `yaml:"max_messages"`
}

// PipelineConfig holds processing stage settings.
type PipelineConfig struct {
	// ThumbnailMaxWidth and ThumbnailMaxHeight bound the resized
	// derivative. Aspect ratio is preserved.
	ThumbnailMaxWidth  int `yaml:"thumbnail_max_width"`
	ThumbnailMaxHeight int `yaml:"thumbnail_max_height"`
	// StageTimeoutSeconds bounds every external call made by a pipeline
	// stage so a stuck backend cannot leak an in-flight unit of work.
	StageTimeoutSeconds int         `yaml:"stage_timeout_seconds"`
	Retry               RetryConfig `yaml:"retry"`
}

// RetryConfig holds the bounded exponential backoff policy applied to
// transient failures.
type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
}

// RecognitionConfig holds recognition engine settings.
type RecognitionConfig struct {
	// Engine is the recognition engine: rekognition or static.
	Engine string `yaml:"engine"`
	// MaxLabels caps the number of labels kept per image.
	MaxLabels int `yaml:"max_labels"`
	// MinConfidence drops labels below this confidence (0..1).
	MinConfidence float64           `yaml:"min_confidence"`
	Rekognition   RekognitionConfig `yaml:"rekognition"`
}

// RekognitionConfig holds AWS Rekognition client settings.
type RekognitionConfig struct {
	Region string `yaml:"region"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to pixyard.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "pixyard.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "pixyard.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = "*"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/metadata.db"
	}
	if cfg.Metadata.DynamoDB.Table == "" {
		cfg.Metadata.DynamoDB.Table = "ImageLabels"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.RawBucket == "" {
		cfg.Storage.RawBucket = "images"
	}
	if cfg.Storage.DerivativeBucket == "" {
		cfg.Storage.DerivativeBucket = "images-resized"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/objects"
	}
	if cfg.Queue.Source == "" {
		cfg.Queue.Source = "memory"
	}
	if cfg.Queue.SQS.WaitTimeSeconds == 0 {
		cfg.Queue.SQS.WaitTimeSeconds = 20
	}
	if cfg.Queue.SQS.MaxMessages == 0 {
		cfg.Queue.SQS.MaxMessages = 10
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Pipeline.ThumbnailMaxWidth == 0 {
		cfg.Pipeline.ThumbnailMaxWidth = 128
	}
	if cfg.Pipeline.ThumbnailMaxHeight == 0 {
		cfg.Pipeline.ThumbnailMaxHeight = 128
	}
	if cfg.Pipeline.StageTimeoutSeconds == 0 {
		cfg.Pipeline.StageTimeoutSeconds = 30
	}
	if cfg.Pipeline.Retry.MaxAttempts == 0 {
		cfg.Pipeline.Retry.MaxAttempts = 5
	}
	if cfg.Pipeline.Retry.InitialIntervalMS == 0 {
		cfg.Pipeline.Retry.InitialIntervalMS = 100
	}
	if cfg.Pipeline.Retry.MaxIntervalMS == 0 {
		cfg.Pipeline.Retry.MaxIntervalMS = 5000
	}
	if cfg.Recognition.Engine == "" {
		cfg.Recognition.Engine = "static"
	}
	if cfg.Recognition.MaxLabels == 0 {
		cfg.Recognition.MaxLabels = 10
	}
	if cfg.Recognition.MinConfidence == 0 {
		cfg.Recognition.MinConfidence = 0.5
	}
}
