// Package app assembles the services shared by the API and worker processes.
package app

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/config"
	"revenue-service/internal/database"
	"revenue-service/internal/directory"
	"revenue-service/internal/ingest"
	"revenue-service/internal/jobs"
	"revenue-service/internal/logger"
	"revenue-service/internal/matcher"
	"revenue-service/internal/platform"
	"revenue-service/internal/processor"
	"revenue-service/internal/refund"
	"revenue-service/internal/worker"
	"revenue-service/pkg/common"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *gorm.DB
	Queue   *worker.Client
	Refunds *refund.Engine
	Jobs    *jobs.Runner

	closers []func() error
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// New connects to MySQL, Redis and the Bolt file at boltPath and assembles
// the services on top of them.
func New(cfg *config.Config, log *zap.Logger, boltPath string) (*App, error) {
	db, err := database.Connect(cfg.DB, logger.GormLevel(cfg.Env), log)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.Open(boltPath)
	if err != nil {
		return nil, fmt.Errorf("open blob store %s: %w", boltPath, err)
	}
	client := asynq.NewClient(RedisOpt(cfg.Redis))

	a, err := Assemble(cfg, log, db, blobs, client)
	if err != nil {
		client.Close()
		blobs.Close()
		return nil, err
	}
	a.closers = append(a.closers, client.Close, blobs.Close)
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	return a, nil
}

// Assemble wires the services over already opened resources.
func Assemble(cfg *config.Config, log *zap.Logger, db *gorm.DB, blobs blobstore.Store, queue worker.Enqueuer) (*App, error) {
	creds, err := cfg.Processor.Credentials()
	if err != nil {
		return nil, err
	}
	reportZone := config.Location(cfg.Ingest.ReportTimeZone)
	localZone := config.Location(cfg.Ingest.LocalTimeZone)

	dir := directory.NewStore(db)
	platformClient := platform.NewHTTPClient(cfg.Platform, log)
	match := matcher.New(db, log)
	client := worker.NewClient(queue, log)

	engine := &refund.Engine{
		DB:         db,
		Platform:   platformClient,
		Processor:  processor.NewGateway(creds, common.DefaultClient, log),
		Notifier:   client,
		Blobs:      blobs,
		Dispatcher: client,
		Matcher:    match,
		Directory:  dir,
		Settings: refund.Settings{
			LaundryGroupID:       cfg.Ingest.LaundryGroupID,
			LocalZone:            localZone,
			SettlementZone:       config.Location(cfg.Refund.SettlementTimeZone),
			AdditionalBonusPause: cfg.Refund.AdditionalBonusPause,
			MidnightWindow:       cfg.Refund.MidnightWindow,
			AdminURL:             cfg.Refund.AdminURL,
			CompanyName:          cfg.Refund.CompanyName,
			ITEmails:             cfg.Mail.ITEmails,
			DefaultTo:            cfg.Mail.DefaultTo,
		},
		Logger: log,
	}

	cleaner, err := ingest.NewCleaner(dir, db, cfg.Ingest.LaundryGroupID, reportZone, localZone)
	if err != nil {
		return nil, err
	}
	recomputer := ingest.LogRecomputer{Logger: log}
	runner := &jobs.Runner{
		Transactions: &ingest.TransactionIngestor{
			DB:           db,
			Platform:     platformClient,
			Cleaner:      cleaner,
			Blobs:        blobs,
			Logger:       log,
			GroupID:      cfg.Ingest.LaundryGroupID,
			Limit:        cfg.Ingest.PageLimit,
			TrailingDays: cfg.Ingest.TrailingDays,
			LocalZone:    localZone,
		},
		Users: &ingest.UserSyncer{
			DB:       db,
			Platform: platformClient,
			Logger:   log,
			GroupID:  cfg.Ingest.LaundryGroupID,
			Limit:    cfg.Ingest.PageLimit,
		},
		Matcher: match,
		Refunds: engine,
		Pools:   &ingest.PoolProcessor{DB: db, Blobs: blobs, Recomputer: recomputer, Logger: log},
		Gaps:    &ingest.GapFiller{DB: db, Recomputer: recomputer, Logger: log},
		Logger:  log,
	}

	return &App{
		Config:  cfg,
		Logger:  log,
		DB:      db,
		Queue:   client,
		Refunds: engine,
		Jobs:    runner,
	}, nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
