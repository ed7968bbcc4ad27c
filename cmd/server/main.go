package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/carousel_go_server/config"
	"github.com/qs3c/carousel_go_server/internal/api"
	"github.com/qs3c/carousel_go_server/internal/api/handler"
	"github.com/qs3c/carousel_go_server/internal/database"
	"github.com/qs3c/carousel_go_server/internal/pkg/cron"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
	"github.com/qs3c/carousel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/carousel_go_server/internal/pkg/queue"
	"github.com/qs3c/carousel_go_server/internal/pkg/tracing"
	"github.com/qs3c/carousel_go_server/internal/pkg/ws"
	"github.com/qs3c/carousel_go_server/internal/repository"
	"github.com/qs3c/carousel_go_server/internal/service"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		log.Fatal("Failed to init tracing", "error", err)
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database, cfg.Log.Mode)
	if err != nil {
		log.Fatal("Failed to connect database", "error", err)
	}
	log.Info("Database connected", "driver", cfg.Database.Driver)

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect redis", "error", err)
	}
	log.Info("Redis connected")

	jobQueue := queue.NewQueue(rdb, cfg.Queue.DispatchQueue)
	publisher := pubsub.NewPublisher(rdb)
	subscriber := pubsub.NewSubscriber(rdb)

	jobRepo := repository.NewJobRepository(db)
	jobService := service.NewJobService(jobRepo, jobQueue, publisher, cfg, log)

	// 进度消息通过 WebSocket 推给在线用户
	wsHub := ws.NewHub(log)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log)
	go func() {
		if err := subscriber.Subscribe(ctx, websocketHandler.ForwardProgress); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Progress subscriber stopped", "error", err)
		}
	}()

	cronService := cron.NewService(
		jobService,
		time.Duration(cfg.Queue.StaleAfterMinutes)*time.Minute,
		time.Duration(cfg.Queue.SweepIntervalMinutes)*time.Minute,
		log,
	)
	cronService.Start()

	router := api.NewRouter(
		handler.NewJobHandler(jobService, log),
		websocketHandler,
		handler.NewHealthHandler(db, rdb),
		cfg,
		log,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	cronService.Stop()
	if err := rdb.Close(); err != nil {
		log.Warn("Failed to close redis", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", "error", err)
	}
	log.Info("Server stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
