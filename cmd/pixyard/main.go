// Package main is the entry point for the Pixyard API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pixyard/pixyard/internal/config"
	"github.com/pixyard/pixyard/internal/logging"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/metrics"
	"github.com/pixyard/pixyard/internal/pipeline"
	"github.com/pixyard/pixyard/internal/queue"
	"github.com/pixyard/pixyard/internal/recognition"
	"github.com/pixyard/pixyard/internal/server"
	"github.com/pixyard/pixyard/internal/service"
	"github.com/pixyard/pixyard/internal/storage"
)

func main() {
	configPath := flag.String("config", "pixyard.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	metaStore, err := buildMetadataStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		os.Exit(1)
	}
	defer metaStore.Close()

	objectStore, err := buildObjectStore(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}

	// With the in-process notification source the API server also runs the
	// pipeline workers; with SQS the dedicated worker binary consumes bucket
	// notifications and uploads need no local announcement.
	var notifier service.Notifier
	var workers *queue.WorkerPool
	var source *queue.MemorySource
	if cfg.Queue.Source == "memory" {
		engine, err := buildRecognitionEngine(context.Background(), cfg)
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
		source = queue.NewMemorySource(0)
		notifier = source
		workers = queue.NewWorkerPool(source, dispatcher, cfg.Queue.Workers)
		slog.Info("In-process pipeline workers enabled", "workers", cfg.Queue.Workers)
	}

	images := service.New(objectStore, metaStore, cfg.Storage.RawBucket, cfg.Storage.DerivativeBucket, notifier)
	srv := server.New(cfg, images)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var wg sync.WaitGroup
	if workers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workers.Run(workerCtx)
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Pixyard listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		stopWorkers()
		if source != nil {
			_ = source.Close()
		}
		wg.Wait()
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
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
		// Clean orphan temp files from writes interrupted by a crash.
		if err := store.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
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
