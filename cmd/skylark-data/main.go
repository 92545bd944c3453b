package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"skylark-data/internal/config"
	"skylark-data/internal/database"
	"skylark-data/internal/download"
	httpapi "skylark-data/internal/http"
	"skylark-data/internal/jobs"
	"skylark-data/internal/logger"
	"skylark-data/internal/notify"
	"skylark-data/internal/objectstore"
	"skylark-data/internal/pipeline"
	"skylark-data/internal/repository"
	"skylark-data/internal/schedule"
	"skylark-data/internal/service"
	"skylark-data/internal/store"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, "skylark-data")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	kv := store.NewRedisKV(redisClient)

	var backend objectstore.Backend
	if cfg.S3.Memory {
		zlog.Warn("using in-memory object store, data will not survive a restart")
		backend = objectstore.NewMemoryBackend()
	} else {
		backend, err = objectstore.NewS3Backend(&cfg.S3)
		if err != nil {
			zlog.Fatal("failed to build s3 backend", zap.Error(err))
		}
	}

	studies := repository.NewPostgresStudiesRepository(db)
	participants := repository.NewPostgresParticipantsRepository(db)
	surveys := repository.NewPostgresSurveysRepository(db)
	chunks := repository.NewPostgresChunksRepository(db)
	uploads := repository.NewPostgresUploadsRepository(db)
	events := repository.NewPostgresEventsRepository(db)
	summaries := repository.NewPostgresSummariesRepository(db)
	blobs := repository.NewPostgresBlobsRepository(db)
	credentials := repository.NewPostgresCredentialsRepository(db)

	blobStore := objectstore.New(backend, cfg.Processing.CompressionLevel, blobs, zlog)
	driver := pipeline.NewDriver(uploads, chunks, surveys, summaries, blobStore, zlog, cfg.Processing.PageSize)
	assembler := download.NewAssembler(chunks, participants, surveys, blobStore, zlog)

	pusher := notify.NewFCMClient(&cfg.Push, zlog)
	resolver := schedule.NewResolver(surveys, participants, events, zlog)
	dispatcher := notify.NewDispatcher(events, participants, surveys, pusher, &cfg.Push, zlog)
	heartbeat := notify.NewHeartbeat(studies, participants, pusher, zlog)

	router := httpapi.NewRouter(zlog)
	router.RegisterDataAccessRoutes(httpapi.NewDataAccessHandler(credentials, studies, assembler, zlog))
	router.RegisterMobileRoutes(httpapi.NewMobileHandler(studies, participants, uploads, events, blobStore, zlog))

	var runner *jobs.Runner
	if cfg.JobsDisabled {
		zlog.Info("cron workers disabled, serving API only")
	} else {
		processing := jobs.NewProcessingQueue(uploads, participants, studies, driver, kv, cfg.Processing.Workers, zlog)
		push := jobs.NewPushQueue(studies, resolver, dispatcher, heartbeat, zlog)
		runner = jobs.NewRunner(processing, push, cfg.Processing.CycleInterval, zlog)
		runner.Start()
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, zlog)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		zlog.Error("http server exited", zap.Error(err))
	}

	if runner != nil {
		runner.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		zlog.Error("shutdown failed", zap.Error(err))
	}
}
