// Package matcher assigns the authoritative room and time of transactions.
//
// Two populations are handled separately. Transactions whose reported room
// can be trusted are assigned in bulk from their own fields. Web value adds
// and roomless transactions borrow the room of the same user's nearest other
// transaction in time, looking backward first.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/models"
)

const (
	bulkAssignSQL = `UPDATE laundry_transactions
SET assigned_laundry_room_id = laundry_room_id, assigned_utc_time = utc_time, assigned_local_time = local_time
WHERE assigned_laundry_room_id IS NULL AND laundry_room_id IS NOT NULL AND NOT (transaction_type = ? AND sub_type = ?)`

	directAssignSQL = bulkAssignSQL + ` AND id = ?`

	checkAttributionComment = "Check Re-Attribution"
	checkAttributionDays    = 15
	pendingBatch            = 500
)

type Matcher struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *gorm.DB, logger *zap.Logger) *Matcher {
	return &Matcher{DB: db, Logger: logger}
}

// WithDB returns a copy of m bound to db, typically an open transaction.
func (m *Matcher) WithDB(db *gorm.DB) *Matcher {
	c := *m
	c.DB = db
	return &c
}

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// MatchAll assigns every unassigned transaction that has a trusted room from
// its own reported fields.
func (m *Matcher) MatchAll(ctx context.Context) (int64, error) {
	res := m.DB.WithContext(ctx).Exec(bulkAssignSQL, int(models.TypeAddValue), int(models.SubTypeCreditOnWebsite))
	if res.Error != nil {
		return 0, fmt.Errorf("bulk assign: %w", res.Error)
	}
	m.Logger.Info("Bulk assignment finished", zap.Int64("rows", res.RowsAffected))
	return res.RowsAffected, nil
}

// AssignDirect is MatchAll for a single transaction.
func (m *Matcher) AssignDirect(ctx context.Context, id uint) error {
	err := m.DB.WithContext(ctx).Exec(directAssignSQL, int(models.TypeAddValue), int(models.SubTypeCreditOnWebsite), id).Error
	if err != nil {
		return fmt.Errorf("assign transaction %d: %w", id, err)
	}
	return nil
}

func (m *Matcher) Match(ctx context.Context, id uint) (bool, error) {
	var tx models.Transaction
	if err := m.DB.WithContext(ctx).First(&tx, id).Error; err != nil {
		return false, err
	}
	return m.MatchTransaction(ctx, &tx)
}

// MatchTransaction looks for the user's latest transaction at or before tx,
// then for the earliest one at or after it. The first hit lends its room to
// tx; tx keeps its own times. A miss is recorded as a FailedTransactionMatch.
func (m *Matcher) MatchTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	if tx.UTCTime == nil {
		return false, nil
	}

	related, err := m.nearest(ctx, tx, "utc_time <= ?", "DESC")
	if err != nil {
		return false, err
	}
	if related == nil {
		related, err = m.nearest(ctx, tx, "utc_time >= ?", "ASC")
		if err != nil {
			return false, err
		}
	}

	if related == nil {
		m.Logger.Debug("No related transaction found", zap.Uint("transaction_id", tx.ID))
		return false, m.recordMiss(ctx, tx.ID)
	}

	tx.AssignedLaundryRoomID = related.LaundryRoomID
	tx.AssignedUTCTime = tx.UTCTime
	tx.AssignedLocalTime = tx.LocalTime
	err = m.DB.WithContext(ctx).Model(tx).Updates(map[string]interface{}{
		"assigned_laundry_room_id": tx.AssignedLaundryRoomID,
		"assigned_utc_time":        tx.AssignedUTCTime,
		"assigned_local_time":      tx.AssignedLocalTime,
	}).Error
	if err != nil {
		return false, fmt.Errorf("save match for %d: %w", tx.ID, err)
	}
	return true, m.solveMisses(ctx, tx.ID)
}

// nearest returns the closest usable transaction of the same user in one
// direction, or nil.
func (m *Matcher) nearest(ctx context.Context, tx *models.Transaction, cond, dir string) (*models.Transaction, error) {
	q := m.DB.WithContext(ctx).
		Where("id <> ? AND laundry_room_id IS NOT NULL AND fake = ?", tx.ID, false).
		Where("NOT (transaction_type = ? AND sub_type = ?)", int(models.TypeAddValue), int(models.SubTypeCreditOnWebsite)).
		Where(cond, *tx.UTCTime)
	switch {
	case tx.PlatformUserID != nil:
		q = q.Where("platform_user_id = ?", *tx.PlatformUserID)
	case tx.ExternalUserID != nil:
		q = q.Where("external_user_id = ?", *tx.ExternalUserID)
	default:
		return nil, nil
	}

	var found []models.Transaction
	err := q.Order("utc_time " + dir).Order("id " + dir).Limit(1).Find(&found).Error
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (m *Matcher) recordMiss(ctx context.Context, txID uint) error {
	var open int64
	err := m.DB.WithContext(ctx).Model(&models.FailedTransactionMatch{}).
		Where("transaction_id = ? AND solved = ?", txID, false).
		Count(&open).Error
	if err != nil || open > 0 {
		return err
	}
	return m.DB.WithContext(ctx).Create(&models.FailedTransactionMatch{TransactionID: txID}).Error
}

func (m *Matcher) solveMisses(ctx context.Context, txID uint) error {
	return m.DB.WithContext(ctx).Model(&models.FailedTransactionMatch{}).
		Where("transaction_id = ? AND solved = ?", txID, false).
		Updates(map[string]interface{}{"solved": true, "solved_at": m.now()}).Error
}

type PendingResult struct {
	Matched int
	Missed  int
}

// MatchPending runs the nearest-in-time strategy over every unassigned web
// value add and roomless transaction.
func (m *Matcher) MatchPending(ctx context.Context) (PendingResult, error) {
	var res PendingResult
	var lastID uint
	for {
		var batch []models.Transaction
		err := m.DB.WithContext(ctx).
			Where("id > ? AND assigned_laundry_room_id IS NULL AND utc_time IS NOT NULL", lastID).
			Where("((transaction_type = ? AND sub_type = ?) OR laundry_room_id IS NULL)", int(models.TypeAddValue), int(models.SubTypeCreditOnWebsite)).
			Order("id").
			Limit(pendingBatch).
			Find(&batch).Error
		if err != nil {
			return res, err
		}
		for i := range batch {
			ok, err := m.MatchTransaction(ctx, &batch[i])
			if err != nil {
				m.Logger.Error("Failed matching transaction", zap.Uint("transaction_id", batch[i].ID), zap.Error(err))
				continue
			}
			if ok {
				res.Matched++
			} else {
				res.Missed++
			}
		}
		if len(batch) < pendingBatch {
			break
		}
		lastID = batch[len(batch)-1].ID
	}
	m.Logger.Info("Matching finished", zap.Int("matched", res.Matched), zap.Int("missed", res.Missed))
	return res, nil
}

// AttributeChecks matches cash value adds in [start, end] that were never
// attributed and records the employee who took the check. Zero times default
// to the last fifteen days.
func (m *Matcher) AttributeChecks(ctx context.Context, start, end time.Time) (int, error) {
	if end.IsZero() {
		end = m.now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -checkAttributionDays)
	}

	var txs []models.Transaction
	err := m.DB.WithContext(ctx).
		Where("transaction_type = ? AND sub_type = ?", int(models.TypeAddValue), int(models.SubTypeCash)).
		Where("utc_time >= ? AND utc_time <= ?", start, end).
		Where("id NOT IN (?)", m.DB.Model(&models.CheckAttributionMatch{}).Select("transaction_id")).
		Order("id").
		Find(&txs).Error
	if err != nil {
		return 0, err
	}

	attributed := 0
	for i := range txs {
		tx := &txs[i]
		ok, err := m.MatchTransaction(ctx, tx)
		if err != nil {
			m.Logger.Error("Failed matching cash value add", zap.Uint("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		employee, err := m.employee(ctx, tx.EmployeeUserID)
		if err != nil {
			m.Logger.Warn("Employee lookup failed", zap.Uint("transaction_id", tx.ID), zap.Error(err))
		}
		match := models.CheckAttributionMatch{
			TransactionID:  tx.ID,
			EmployeeUserID: tx.EmployeeUserID,
			EmployeeID:     employee,
			Comment:        checkAttributionComment,
		}
		if err := m.DB.WithContext(ctx).Create(&match).Error; err != nil {
			m.Logger.Error("Failed saving check attribution", zap.Uint("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		attributed++
	}
	return attributed, nil
}

// employee resolves the platform user behind an employee user id.
func (m *Matcher) employee(ctx context.Context, employeeUserID *int64) (*uint, error) {
	if employeeUserID == nil {
		return nil, nil
	}
	var user models.PlatformUser
	err := m.DB.WithContext(ctx).Select("id").Where("external_user_id = ?", *employeeUserID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user.ID, nil
}
