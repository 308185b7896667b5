package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/models"
	"revenue-service/internal/platform"
	"revenue-service/pkg/common"
)

// ErrNoWatermark means there is nothing stored to resume ingestion from and
// no start id was given.
var ErrNoWatermark = errors.New("could not find a valid last id; transaction ingest needs manual intervention")

const (
	watermarkBatch = 30
	mergePageLimit = 1000
)

// upsertColumns are overwritten when a known transaction is ingested again.
// Refund state, the fake flag and matcher assignments are left alone.
var upsertColumns = []string{
	"platform_record_id", "system_config_id", "laundry_group_id",
	"transaction_type", "sub_type", "location_code", "machine_label",
	"laundry_room_id", "slot_id", "machine_id",
	"external_user_id", "platform_user_id", "employee_user_id",
	"card_number", "last_four", "card_holder_name", "loyalty_card_number",
	"credit_card_amount", "cash_amount", "balance_amount", "bonus_amount",
	"new_balance", "new_bonus", "unfunded_amount",
	"loyalty_points", "new_loyalty_points", "free_starts", "new_free_starts",
	"additional_info", "root_transaction_id", "utc_time", "local_time",
}

var assignedColumns = []string{"assigned_laundry_room_id", "assigned_utc_time", "assigned_local_time"}

type TransactionIngestor struct {
	DB           *gorm.DB
	Platform     platform.Client
	Cleaner      *Cleaner
	Blobs        blobstore.Store
	Logger       *zap.Logger
	GroupID      uint
	Limit        int
	TrailingDays int
	LocalZone    *time.Location
	Now          func() time.Time
}

type SyncResult struct {
	Saves    int
	Updates  int
	Failures int
	LastID   string
	Gaps     []string
	Merges   int
	IDs      []string
}

// syncRun holds the state of one SyncTransactions call.
type syncRun struct {
	result     SyncResult
	merges     []*models.Transaction
	seenMerges map[string]bool
	gapSeen    map[string]bool
	prevDay    *time.Time
	prevID     string
}

func newSyncRun() *syncRun {
	return &syncRun{seenMerges: make(map[string]bool), gapSeen: make(map[string]bool)}
}

// observe compares the local date of each ingested transaction with the one
// before it. When they are more than threshold days apart the newer one is
// flagged so the metrics around it get recomputed.
func (r *syncRun) observe(externalID string, local *time.Time, threshold int) {
	if local == nil {
		return
	}
	day := common.StartOfDay(*local)
	if r.prevDay != nil {
		gap := int(math.Round(math.Abs(day.Sub(*r.prevDay).Hours()) / 24))
		if gap > threshold {
			newer := externalID
			if r.prevDay.After(day) {
				newer = r.prevID
			}
			if !r.gapSeen[newer] {
				r.gapSeen[newer] = true
				r.result.Gaps = append(r.result.Gaps, newer)
			}
		}
	}
	r.prevDay = &day
	r.prevID = externalID
}

// SyncTransactions pages through platform transactions newer than
// startFromID until an empty page or endAtID is passed. Without a start id it
// resumes from the stored watermark.
func (s *TransactionIngestor) SyncTransactions(ctx context.Context, startFromID, endAtID string) (*SyncResult, error) {
	lastID := startFromID
	if lastID == "" {
		var err error
		lastID, err = s.FetchLastID(ctx)
		if err != nil {
			s.Logger.Error("Transaction ingest has no watermark", zap.Error(err))
			return nil, err
		}
		s.logWatermark(ctx, lastID)
	}
	s.Logger.Info("Ingesting transactions", zap.String("from_id", lastID), zap.Uint("laundry_group_id", s.GroupID))

	run := newSyncRun()
	for {
		if endAtID != "" && idAfter(lastID, endAtID) {
			break
		}
		started := time.Now()
		page, err := s.Platform.TransactionsPage(ctx, platform.TransactionPageQuery{LastID: lastID, Limit: s.Limit})
		if err != nil {
			run.result.LastID = lastID
			return &run.result, fmt.Errorf("transactions page after %s: %w", lastID, err)
		}
		if len(page) == 0 {
			break
		}
		next := page[0].String("ID")
		if next == "" || next == lastID {
			s.Logger.Warn("Transaction page did not advance", zap.String("last_id", lastID))
			break
		}
		lastID = next

		saves, updates := s.processPage(ctx, run, page)
		s.Logger.Info("Transaction page ingested",
			zap.Int("saves", saves),
			zap.Int("updates", updates),
			zap.String("last_id", lastID),
			zap.Duration("took", time.Since(started)),
		)
		s.logWatermark(ctx, lastID)
	}
	run.result.LastID = lastID

	s.processMerges(ctx, run)
	s.saveGaps(ctx, run)
	s.savePool(ctx, run)
	return &run.result, nil
}

// RunAsJob re-ingests from the older of the two latest watermarks to pick up
// late records, then logs a fresh watermark.
func (s *TransactionIngestor) RunAsJob(ctx context.Context, startFromID string) (*SyncResult, error) {
	started := time.Now()
	defer func() {
		s.Logger.Info("Transaction sync job finished", zap.Duration("took", time.Since(started)))
	}()

	if startFromID != "" {
		return s.SyncTransactions(ctx, startFromID, "")
	}

	var logs []models.LastIDLog
	err := s.DB.WithContext(ctx).
		Where("laundry_group_id = ?", s.GroupID).
		Order("id DESC").
		Limit(2).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return s.SyncTransactions(ctx, "", "")
	}

	res, err := s.SyncTransactions(ctx, logs[len(logs)-1].LastID, "")
	if err != nil {
		return res, err
	}
	newID, err := s.FetchLastID(ctx)
	if err != nil {
		s.Logger.Error("Could not compute new watermark", zap.Error(err))
		return res, nil
	}
	s.logWatermark(ctx, newID)
	return res, nil
}

// FetchLastID returns the platform record id of the most recent stored
// transaction whose local time is not in the future.
func (s *TransactionIngestor) FetchLastID(ctx context.Context) (string, error) {
	now := common.NaiveSecond(s.now().In(s.LocalZone))
	for offset := 0; ; offset += watermarkBatch {
		var batch []models.Transaction
		err := s.DB.WithContext(ctx).
			Select("id", "platform_record_id", "local_time").
			Where("laundry_group_id = ? AND fake = ? AND utc_time IS NOT NULL", s.GroupID, false).
			Order("utc_time DESC").
			Order("id DESC").
			Offset(offset).
			Limit(watermarkBatch).
			Find(&batch).Error
		if err != nil {
			return "", err
		}
		for _, tx := range batch {
			if tx.LocalTime != nil && !tx.LocalTime.After(now) && tx.PlatformRecordID != "" {
				return tx.PlatformRecordID, nil
			}
		}
		if len(batch) < watermarkBatch {
			return "", ErrNoWatermark
		}
	}
}

func (s *TransactionIngestor) processPage(ctx context.Context, run *syncRun, page []platform.Record) (saves, updates int) {
	for _, rec := range page {
		tx, err := s.Cleaner.Clean(ctx, rec)
		if err != nil {
			s.recordFailure(ctx, run, rec, bestEffortExternalID(rec), err)
			continue
		}
		if tx.TransactionType == models.TypeMerge && !run.seenMerges[tx.ExternalID] {
			run.seenMerges[tx.ExternalID] = true
			run.merges = append(run.merges, tx)
		}

		created, err := s.upsert(ctx, tx)
		if err != nil {
			s.recordFailure(ctx, run, rec, tx.ExternalID, err)
			continue
		}
		if created {
			saves++
		} else {
			updates++
		}

		run.result.IDs = append(run.result.IDs, tx.ExternalID)
		run.observe(tx.ExternalID, tx.LocalTime, s.TrailingDays)
	}
	run.result.Saves += saves
	run.result.Updates += updates
	return saves, updates
}

func (s *TransactionIngestor) upsert(ctx context.Context, tx *models.Transaction) (bool, error) {
	var existing models.Transaction
	err := s.DB.WithContext(ctx).Select("id").Where("external_id = ?", tx.ExternalID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, s.DB.WithContext(ctx).Create(tx).Error
	}
	if err != nil {
		return false, err
	}

	cols := upsertColumns
	if tx.IsAssigned() {
		cols = append(append([]string{}, upsertColumns...), assignedColumns...)
	}
	tx.ID = existing.ID
	return false, s.DB.WithContext(ctx).Model(tx).Select(cols).Updates(tx).Error
}

func (s *TransactionIngestor) recordFailure(ctx context.Context, run *syncRun, rec platform.Record, externalID string, cause error) {
	run.result.Failures++
	s.Logger.Error("Failed ingesting transaction", zap.String("external_id", externalID), zap.Error(cause))

	raw, err := json.Marshal(rec)
	if err != nil {
		raw = []byte("Unknown")
	}
	failure := models.FailedTransactionIngest{
		ExternalID:     externalID,
		LaundryGroupID: s.GroupID,
		RawRecord:      string(raw),
		ErrorMessage:   cause.Error(),
	}
	if err := s.DB.WithContext(ctx).Create(&failure).Error; err != nil {
		s.Logger.Error("Failed saving failed-ingest record", zap.String("external_id", externalID), zap.Error(err))
	}
}

// processMerges re-reads the older history of every user that had a merge
// marker. Markers found along the way are processed too.
func (s *TransactionIngestor) processMerges(ctx context.Context, run *syncRun) {
	for i := 0; i < len(run.merges); i++ {
		marker := run.merges[i]
		userID, ok := marker.PlatformAccount()
		if !ok {
			s.Logger.Warn("Merge marker without user account", zap.String("external_id", marker.ExternalID))
			continue
		}
		page, err := s.Platform.TransactionsPage(ctx, platform.TransactionPageQuery{
			LastID:        marker.PlatformRecordID,
			UserAccountID: userID,
			Limit:         mergePageLimit,
			Older:         true,
		})
		if err != nil {
			s.Logger.Error("Failed fetching merged user history", zap.String("external_id", marker.ExternalID), zap.Error(err))
			continue
		}
		run.prevDay = nil
		s.processPage(ctx, run, page)
		run.result.Merges++
	}
}

func (s *TransactionIngestor) saveGaps(ctx context.Context, run *syncRun) {
	if len(run.result.Gaps) == 0 {
		return
	}
	gap := models.TransactionGap{ExternalIDs: strings.Join(run.result.Gaps, ",")}
	if err := s.DB.WithContext(ctx).Create(&gap).Error; err != nil {
		s.Logger.Error("Failed saving gap transaction ids", zap.Error(err))
	}
}

// savePool stores the ids of this run for the metrics recompute jobs.
func (s *TransactionIngestor) savePool(ctx context.Context, run *syncRun) {
	if len(run.result.IDs) == 0 {
		return
	}
	key := fmt.Sprintf("TransactionIdsPool-%s-%s", s.now().Format("20060102T150405"), uuid.NewString())
	if err := s.Blobs.Put(blobstore.BucketPools, key, []byte(strings.Join(run.result.IDs, ","))); err != nil {
		s.Logger.Error("ALERT: could not save transactions pool", zap.Error(err))
		return
	}
	pool := models.TransactionPool{BlobKey: key, NumberOfRecords: len(run.result.IDs)}
	if err := s.DB.WithContext(ctx).Create(&pool).Error; err != nil {
		s.Logger.Error("ALERT: could not record transactions pool", zap.String("blob_key", key), zap.Error(err))
	}
}

func (s *TransactionIngestor) logWatermark(ctx context.Context, lastID string) {
	entry := models.LastIDLog{LaundryGroupID: s.GroupID, LastID: lastID}
	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		s.Logger.Error("Failed logging watermark", zap.String("last_id", lastID), zap.Error(err))
	}
}

func (s *TransactionIngestor) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// idAfter compares platform ids numerically when both are numbers.
func idAfter(a, b string) bool {
	x, errA := strconv.ParseInt(a, 10, 64)
	y, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return x > y
	}
	return a > b
}
