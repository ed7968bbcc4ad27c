package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/qs3c/carousel_go_server/config"
	"github.com/qs3c/carousel_go_server/internal/database"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/oss"
	"github.com/qs3c/carousel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/carousel_go_server/internal/pkg/queue"
	"github.com/qs3c/carousel_go_server/internal/pkg/tracing"
	"github.com/qs3c/carousel_go_server/internal/repository"
	"github.com/qs3c/carousel_go_server/internal/service"
	"github.com/qs3c/carousel_go_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 监听退出信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		log.Fatal("Failed to init tracing", "error", err)
	}

	db, err := database.Open(&cfg.Database, cfg.Log.Mode)
	if err != nil {
		log.Fatal("Failed to connect database", "error", err)
	}
	log.Info("Database connected", "driver", cfg.Database.Driver)

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect redis", "error", err)
	}
	log.Info("Redis connected")

	// 结果清单优先上传 OSS，未配置时写本地目录
	var archiver worker.ResultArchiver
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn("Failed to init OSS client, falling back to local dir", "error", err)
		} else {
			archiver = ossClient
			log.Info("OSS client initialized", "bucket", cfg.OSS.BucketName)
		}
	}
	if archiver == nil && cfg.Worker.ResultDir != "" {
		archiver = worker.NewLocalArchiver(cfg.Worker.ResultDir)
	}

	jobQueue := queue.NewQueue(rdb, cfg.Queue.DispatchQueue)
	publisher := pubsub.NewPublisher(rdb)
	jobService := service.NewJobService(repository.NewJobRepository(db), jobQueue, publisher, cfg, log)

	processor := worker.NewProcessor(jobService, worker.NewHTTPGenerator(cfg.Generator), archiver, log)
	pool := worker.NewPool(
		processor,
		jobQueue,
		cfg.Worker.MaxWorkers,
		time.Duration(cfg.Worker.PopTimeoutSeconds)*time.Second,
		workerID(),
		log,
	)

	if err := pool.Run(ctx); err != nil {
		log.Error("Worker pool exited", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", "error", err)
	}
	_ = rdb.Close()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("Worker shutdown complete")
}

// workerID 主机名加随机后缀，多个进程在同一台机器上也不会重复
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
