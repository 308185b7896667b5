package main

import (
	"log"

	"go.uber.org/zap"

	"revenue-service/internal/app"
	"revenue-service/internal/config"
	"revenue-service/internal/logger"
	"revenue-service/internal/notify"
	"revenue-service/internal/worker"
)

func main() {
	// Load env
	cfg, err := config.Load("../../.env", ".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	a, err := app.New(cfg, zl, cfg.Storage.WorkerBoltPath)
	if err != nil {
		zl.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer a.Close()

	w := worker.NewWorker(a.Refunds, notify.NewSMTPSender(cfg.Mail, zl), a.Jobs, zl)

	zl.Info("Starting Asynq Worker...", zap.String("redis", cfg.Redis.Addr))
	if err := worker.StartWorker(app.RedisOpt(cfg.Redis), w); err != nil {
		zl.Fatal("Worker stopped", zap.Error(err))
	}
}
