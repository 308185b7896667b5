package main

import (
	"log"

	"go.uber.org/zap"

	"revenue-service/internal/config"
	"revenue-service/internal/database"
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

	// Initialize Database
	db, err := database.Connect(cfg.DB, logger.GormLevel(cfg.Env), zl)
	if err != nil {
		zl.Fatal("Database connection failed", zap.Error(err))
	}

	// Run Migrations
	zl.Info("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		zl.Fatal("Migration failed", zap.Error(err))
	}

	zl.Info("Migrations completed successfully!")
}
