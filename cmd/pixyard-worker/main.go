// Package main is the entry point for the Pixyard pipeline worker. It
// consumes object-created notifications from SQS and runs the derivative
// and label stages for each uploaded image.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pixyard/pixyard/internal/config"
	"github.com/pixyard/pixyard/internal/logging"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/metrics"
	"github.com/pixyard/pixyard/internal/pipeline"
	"github.com/pixyard/pixyard/internal/queue"
	"github.com/pixyard/pixyard/internal/recognition"
	"github.com/pixyard/pixyard/internal/storage"
)

func main() {
	configPath := flag.String("config", "pixyard.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	workerCount := flag.Int("workers", 0, "override worker count (default: from config or 4)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *workerCount != 0 {
		cfg.Queue.Workers = *workerCount
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	if cfg.Queue.Source != "sqs" {
		fmt.Fprintf(os.Stderr, "the worker requires queue.source: sqs (got %q); with queue.source: memory the API server runs the pipeline in-process\n", cfg.Queue.Source)
		os.Exit(1)
	}
	if cfg.Queue.SQS.QueueURL == "" {
		fmt.Fprintf(os.Stderr, "queue.sqs.queue_url is required\n")
		os.Exit(1)
	}

	ctx := context.Background()

	metaStore, err := buildMetadataStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		os.Exit(1)
	}
	defer metaStore.Close()

	objectStore, err := buildObjectStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}

	engine, err := buildRecognitionEngine(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize recognition engine: %v\n", err)
		os.Exit(1)
	}

	retrier := pipeline.NewRetrier(cfg.Pipeline.Retry)
	dispatcher := pipeline.NewDispatcher(
		pipeline.NewDerivativeGenerator(objectStore, cfg.Storage.RawBucket, cfg.Storage.DerivativeBucket,
			cfg.Pipeline.ThumbnailMaxWidth, cfg.Pipeline.ThumbnailMaxHeight, retrier),
		pipeline.NewLabelExtractor(objectStore, cfg.Storage.RawBucket, engine, metaStore,
			cfg.Recognition.MaxLabels, cfg.Recognition.MinConfidence, retrier),
		time.Duration(cfg.Pipeline.StageTimeoutSeconds)*time.Second,
	)

	source, err := queue.NewSQSSource(ctx, cfg.Queue.SQS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize SQS source: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	pool := queue.NewWorkerPool(source, dispatcher, cfg.Queue.Workers)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Pixyard worker running", "queue", cfg.Queue.SQS.QueueURL, "workers", cfg.Queue.Workers)
	pool.Run(runCtx)
	slog.Info("Worker stopped")
}

func buildMetadataStore(cfg *config.Config) (metadata.Store, error) {
	switch cfg.Metadata.Engine {
	case "dynamodb":
		store, err := metadata.NewDynamoDBStore(&cfg.Metadata.DynamoDB)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "dynamodb", "table", cfg.Metadata.DynamoDB.Table)
		return store, nil
	case "memory":
		slog.Info("Metadata store initialized", "engine", "memory")
		return metadata.NewMemoryStore(), nil
	default:
		dbPath := cfg.Metadata.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata directory: %w", err)
		}
		store, err := metadata.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "sqlite", "path", dbPath)
		return store, nil
	}
}

func buildObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "aws":
		store, err := storage.NewS3Store(ctx, cfg.Storage.AWS)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage backend initialized", "backend", "aws", "region", cfg.Storage.AWS.Region)
		return store, nil
	case "gcp":
		store, err := storage.NewGCSStore(ctx, cfg.Storage.GCP.Project)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage backend initialized", "backend", "gcp", "project", cfg.Storage.GCP.Project)
		return store, nil
	case "memory":
		slog.Info("Storage backend initialized", "backend", "memory")
		return storage.NewMemoryStore(), nil
	default:
		root := cfg.Storage.Local.RootDir
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage root directory: %w", err)
		}
		store, err := storage.NewLocalStore(root)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage backend initialized", "backend", "local", "root", root)
		return store, nil
	}
}

func buildRecognitionEngine(ctx context.Context, cfg *config.Config) (recognition.Engine, error) {
	switch cfg.Recognition.Engine {
	case "rekognition":
		engine, err := recognition.NewRekognitionEngine(ctx, cfg.Recognition.Rekognition.Region,
			cfg.Recognition.MaxLabels, cfg.Recognition.MinConfidence)
		if err != nil {
			return nil, err
		}
		slog.Info("Recognition engine initialized", "engine", "rekognition", "region", cfg.Recognition.Rekognition.Region)
		return engine, nil
	default:
		slog.Info("Recognition engine initialized", "engine", "static")
		return recognition.NewStaticEngine(), nil
	}
}
