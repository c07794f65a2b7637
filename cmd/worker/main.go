package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
	"github.com/docstream/corpusd/internal/scheduler"
	"github.com/docstream/corpusd/internal/service"
	"github.com/docstream/corpusd/internal/storage"
)

// pipelineTask drives one polling pass of the job pipeline per tick.
type pipelineTask struct {
	pipeline *service.Pipeline
	schedule string
}

func (t *pipelineTask) Name() string            { return "pipeline" }
func (t *pipelineTask) Schedule() string        { return t.schedule }
func (t *pipelineTask) Run(ctx context.Context) { t.pipeline.RunOnce(ctx) }

// reaperTask sweeps for stalled jobs.
type reaperTask struct {
	reaper   *service.Reaper
	schedule string
}

func (t *reaperTask) Name() string            { return "reaper" }
func (t *reaperTask) Schedule() string        { return t.schedule }
func (t *reaperTask) Run(ctx context.Context) { t.reaper.RunOnce(ctx) }

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		LogFile:     cfg.Log.File,
		LogFileOnly: cfg.Log.FileOnly,
		ServiceName: cfg.Log.ServiceName + "-worker",
	})
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	docRepo := repository.NewDocumentRepository(db)
	jobRepo := repository.NewJobRepository(db)
	chunkRepo := repository.NewChunkRepository(db)

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Embedding.Dimensions,
	})
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	ctx := context.Background()
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	objectStorage, err := storage.NewS3Storage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
	})
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	parseClient := service.NewParseClient(&service.ParseClientConfig{
		BaseURL: cfg.Parser.BaseURL,
		APIKey:  cfg.Parser.APIKey,
		Timeout: cfg.Parser.Timeout,
	})

	embedClient := service.NewEmbeddingClient(&service.EmbeddingClientConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Version:    cfg.Embedding.Version,
		Dimensions: cfg.Embedding.Dimensions,
	})

	chunker := service.NewChunker(cfg.Pipeline.ChunkTarget, cfg.Pipeline.ChunkOverlap, cfg.Pipeline.ChunkLookahead)

	embedWorker, err := service.NewEmbedWorker(chunkRepo, qdrantRepo, embedClient, cfg.Pipeline.Workers, cfg.Embedding.BatchSize, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize embedding worker")
	}
	defer embedWorker.Release()

	pipeline := service.NewPipeline(
		db,
		jobRepo,
		docRepo,
		chunkRepo,
		objectStorage,
		parseClient,
		chunker,
		embedWorker,
		cfg.Embedding.Model,
		cfg.Embedding.Version,
		cfg.Server.PublicBaseURL,
		cfg.Pipeline,
		appLog,
	)
	reaper := service.NewReaper(jobRepo, cfg.Pipeline, appLog)

	sched := scheduler.New([]scheduler.Task{
		&pipelineTask{pipeline: pipeline, schedule: cfg.Pipeline.PollSchedule},
		&reaperTask{reaper: reaper, schedule: cfg.Pipeline.ReaperSchedule},
	}, appLog)

	if err := sched.Start(); err != nil {
		appLog.WithError(err).Fatal("Failed to start scheduler")
	}

	appLog.Info("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	sched.Stop()
	appLog.Info("Worker exited")
}
