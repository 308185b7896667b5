package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// New builds the process logger. Production emits JSON at info level,
// everything else uses the colored development console encoder.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// GormLevel picks the gorm log level for an environment.
func GormLevel(env string) gormlogger.LogLevel {
	switch env {
	case "test":
		return gormlogger.Silent
	case "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
