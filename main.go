package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"revenue-service/internal/app"
	"revenue-service/internal/config"
	grpcServer "revenue-service/internal/grpc"
	"revenue-service/internal/handlers"
	"revenue-service/internal/jobs"
	"revenue-service/internal/logger"
)

func main() {
	// Load environment variables
	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	a, err := app.New(cfg, zl, cfg.Storage.APIBoltPath)
	if err != nil {
		zl.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start gRPC server
	gs, hs := grpcServer.NewServer()
	if sqlDB, err := a.DB.DB(); err == nil {
		go grpcServer.MonitorDatabase(ctx, hs, sqlDB, 30*time.Second, zl)
	}
	go func() {
		if err := grpcServer.StartGRPCServer(cfg.GRPCPort, gs, zl); err != nil {
			zl.Fatal("gRPC server stopped", zap.Error(err))
		}
	}()

	// Start Cron Schedulers
	scheduler, err := jobs.StartScheduler(cfg.Schedule, config.Location(cfg.Refund.SettlementTimeZone), a.Queue, zl)
	if err != nil {
		zl.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// Initialize Gin
	r := gin.Default()
	handlers.NewHandler(a.Refunds, a.Queue, zl).Register(r)

	zl.Info("HTTP Server starting", zap.String("port", cfg.HTTPPort))
	if err := r.Run(":" + cfg.HTTPPort); err != nil {
		zl.Fatal("Failed to start server", zap.Error(err))
	}
}
