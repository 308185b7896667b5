package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/models"
	"revenue-service/pkg/common"
)

const processedMarker = "p"

// MetricsRecomputer rebuilds revenue metrics for a date window and a set of
// rooms and machines.
type MetricsRecomputer interface {
	Recompute(ctx context.Context, start, end time.Time, roomIDs, machineIDs []uint) error
}

// LogRecomputer only records what would be recomputed. It stands in when no
// reporting backend is configured.
type LogRecomputer struct {
	Logger *zap.Logger
}

func (r LogRecomputer) Recompute(ctx context.Context, start, end time.Time, roomIDs, machineIDs []uint) error {
	r.Logger.Info("Metrics recompute requested",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Uints("rooms", roomIDs),
		zap.Uints("machines", machineIDs),
	)
	return nil
}

func isProcessed(id string) bool {
	return strings.HasSuffix(id, processedMarker)
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

type dayBucket struct {
	rooms    map[uint]bool
	machines map[uint]bool
	indexes  []int
}

func keys(m map[uint]bool) []uint {
	out := make([]uint, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// loadByExternalID fetches transactions in chunks keyed by external id.
func loadByExternalID(ctx context.Context, db *gorm.DB, ids []string) (map[string]models.Transaction, error) {
	out := make(map[string]models.Transaction, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		var txs []models.Transaction
		if err := db.WithContext(ctx).Where("external_id IN ?", ids[start:end]).Find(&txs).Error; err != nil {
			return nil, err
		}
		for _, tx := range txs {
			out[tx.ExternalID] = tx
		}
	}
	return out, nil
}

// PoolProcessor feeds the ids saved by each ingestion run to the metrics
// recomputer, one local day at a time, marking ids as it goes.
type PoolProcessor struct {
	DB         *gorm.DB
	Blobs      blobstore.Store
	Recomputer MetricsRecomputer
	Logger     *zap.Logger
}

func (p *PoolProcessor) ProcessPending(ctx context.Context) (int, error) {
	var pools []models.TransactionPool
	if err := p.DB.WithContext(ctx).Where("fully_processed = ?", false).Order("id").Find(&pools).Error; err != nil {
		return 0, err
	}
	done := 0
	for i := range pools {
		if err := p.Process(ctx, &pools[i]); err != nil {
			p.Logger.Error("Failed processing transactions pool", zap.Uint("pool_id", pools[i].ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (p *PoolProcessor) Process(ctx context.Context, pool *models.TransactionPool) error {
	data, err := p.Blobs.Get(blobstore.BucketPools, pool.BlobKey)
	if err != nil {
		return err
	}
	ids := splitIDs(string(data))

	var pending []string
	for _, id := range ids {
		if !isProcessed(id) {
			pending = append(pending, id)
		}
	}
	txs, err := loadByExternalID(ctx, p.DB, pending)
	if err != nil {
		return err
	}

	buckets := make(map[time.Time]*dayBucket)
	var orphans []int
	for i, id := range ids {
		if isProcessed(id) {
			continue
		}
		tx, ok := txs[id]
		local := tx.EffectiveLocalTime()
		if !ok || local == nil {
			orphans = append(orphans, i)
			continue
		}
		day := common.StartOfDay(*local)
		b := buckets[day]
		if b == nil {
			b = &dayBucket{rooms: map[uint]bool{}, machines: map[uint]bool{}}
			buckets[day] = b
		}
		if tx.AssignedLaundryRoomID != nil {
			b.rooms[*tx.AssignedLaundryRoomID] = true
		} else if tx.LaundryRoomID != nil {
			b.rooms[*tx.LaundryRoomID] = true
		}
		if tx.MachineID != nil {
			b.machines[*tx.MachineID] = true
		}
		b.indexes = append(b.indexes, i)
	}

	// Ids with nothing to recompute are marked straight away.
	if len(orphans) > 0 {
		if err := p.mark(ctx, pool, ids, orphans); err != nil {
			return err
		}
	}

	days := make([]time.Time, 0, len(buckets))
	for d := range buckets {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	for _, day := range days {
		b := buckets[day]
		if err := p.Recomputer.Recompute(ctx, day, day, keys(b.rooms), keys(b.machines)); err != nil {
			return fmt.Errorf("recompute %s: %w", day.Format("2006-01-02"), err)
		}
		if err := p.mark(ctx, pool, ids, b.indexes); err != nil {
			return err
		}
	}
	return nil
}

// mark appends the processed marker to ids at the given positions and
// persists the blob before the counter.
func (p *PoolProcessor) mark(ctx context.Context, pool *models.TransactionPool, ids []string, indexes []int) error {
	for _, i := range indexes {
		ids[i] += processedMarker
	}
	if err := p.Blobs.Put(blobstore.BucketPools, pool.BlobKey, []byte(strings.Join(ids, ","))); err != nil {
		return err
	}
	pool.ProcessedCount += len(indexes)
	pool.FullyProcessed = pool.ProcessedCount >= pool.NumberOfRecords
	return p.DB.WithContext(ctx).Model(pool).Select("processed_count", "fully_processed").Updates(pool).Error
}

// GapFiller recomputes the metrics window around each flagged gap once the
// transaction on the far side of the gap has been assigned a room.
type GapFiller struct {
	DB         *gorm.DB
	Recomputer MetricsRecomputer
	Logger     *zap.Logger
}

func (g *GapFiller) ProcessPending(ctx context.Context) (int, error) {
	var gaps []models.TransactionGap
	if err := g.DB.WithContext(ctx).Where("fully_processed = ?", false).Order("id").Find(&gaps).Error; err != nil {
		return 0, err
	}
	done := 0
	for i := range gaps {
		complete, err := g.Process(ctx, &gaps[i])
		if err != nil {
			g.Logger.Error("Failed processing transaction gap", zap.Uint("gap_id", gaps[i].ID), zap.Error(err))
			continue
		}
		if complete {
			done++
		}
	}
	return done, nil
}

// Process returns true once every id of the gap has been handled.
func (g *GapFiller) Process(ctx context.Context, gap *models.TransactionGap) (bool, error) {
	ids := splitIDs(gap.ExternalIDs)
	remaining := 0
	for i, id := range ids {
		if isProcessed(id) {
			continue
		}
		var tx models.Transaction
		err := g.DB.WithContext(ctx).Where("external_id = ?", id).Take(&tx).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (!tx.IsAssigned() || tx.EffectiveLocalTime() == nil)) {
			remaining++
			continue
		}
		if err != nil {
			return false, err
		}

		day := common.StartOfDay(*tx.EffectiveLocalTime())
		var machines []uint
		if tx.MachineID != nil {
			machines = []uint{*tx.MachineID}
		}
		err = g.Recomputer.Recompute(ctx, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1), []uint{*tx.AssignedLaundryRoomID}, machines)
		if err != nil {
			return false, err
		}
		ids[i] += processedMarker
	}

	gap.ExternalIDs = strings.Join(ids, ",")
	gap.FullyProcessed = remaining == 0
	err := g.DB.WithContext(ctx).Model(gap).Select("external_ids", "fully_processed").Updates(gap).Error
	return gap.FullyProcessed, err
}
