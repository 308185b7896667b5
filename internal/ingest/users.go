package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/models"
	"revenue-service/internal/platform"
)

// UserSyncer mirrors platform user accounts into PlatformUser rows.
type UserSyncer struct {
	DB       *gorm.DB
	Platform platform.Client
	Logger   *zap.Logger
	GroupID  uint
	Limit    int
}

type UserSyncOptions struct {
	// Update overwrites existing rows instead of only inserting missing ones.
	// It requires StartFromID.
	Update      bool
	StartFromID int64
	EndAtID     int64
}

type UserSyncResult struct {
	Created   int
	Updated   int
	Failures  int
	LastID    int64
	Employees int
}

func (s *UserSyncer) SyncUsers(ctx context.Context, opts UserSyncOptions) (*UserSyncResult, error) {
	if opts.Update && opts.StartFromID == 0 {
		return nil, errors.New("user sync in update mode needs a start id")
	}

	activitySince, err := s.latestActivity(ctx)
	if err != nil {
		return nil, err
	}

	lastID := opts.StartFromID
	if lastID == 0 {
		lastID, err = s.highestAccountID(ctx)
		if err != nil {
			return nil, err
		}
	}

	res := &UserSyncResult{}
	started := time.Now()
	for {
		if opts.EndAtID > 0 && lastID > opts.EndAtID {
			break
		}
		s.Logger.Info("Ingesting users", zap.Int64("last_id", lastID))
		page, err := s.Platform.UserAccountsPage(ctx, platform.UserPageQuery{
			Limit:         s.Limit,
			LastID:        lastID,
			ActivitySince: activitySince,
		})
		if err != nil {
			res.LastID = lastID
			return res, fmt.Errorf("user accounts page after %d: %w", lastID, err)
		}
		if len(page) == 0 {
			break
		}
		next, ok, err := page[0].Int64("ID")
		if err != nil || !ok || next == lastID {
			s.Logger.Warn("User page did not advance", zap.Int64("last_id", lastID))
			break
		}
		lastID = next

		if opts.Update {
			s.update(ctx, page, res)
		} else {
			s.insertMissing(ctx, page, res)
		}
	}
	res.LastID = lastID
	s.Logger.Info("Ingesting users from API finished", zap.Duration("took", time.Since(started)))

	if err := s.updateEmployees(ctx, res); err != nil {
		s.Logger.Error("Failed updating employee profiles", zap.Error(err))
	}
	return res, nil
}

// RunAsJob refreshes every account from the first id on.
func (s *UserSyncer) RunAsJob(ctx context.Context) (*UserSyncResult, error) {
	res, err := s.SyncUsers(ctx, UserSyncOptions{Update: true, StartFromID: 1})
	if err != nil {
		s.Logger.Error("User sync job failed", zap.Error(err))
	}
	return res, err
}

func (s *UserSyncer) latestActivity(ctx context.Context) (*time.Time, error) {
	var users []models.PlatformUser
	err := s.DB.WithContext(ctx).
		Select("last_activity_date").
		Where("laundry_group_id = ? AND last_activity_date IS NOT NULL", s.GroupID).
		Order("last_activity_date DESC").
		Limit(1).
		Find(&users).Error
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return users[0].LastActivityDate, nil
}

func (s *UserSyncer) highestAccountID(ctx context.Context) (int64, error) {
	var users []models.PlatformUser
	err := s.DB.WithContext(ctx).
		Select("external_account_id").
		Where("laundry_group_id = ?", s.GroupID).
		Order("external_account_id DESC").
		Limit(1).
		Find(&users).Error
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		return 1, nil
	}
	return users[0].ExternalAccountID, nil
}

func (s *UserSyncer) insertMissing(ctx context.Context, page []platform.Record, res *UserSyncResult) {
	ids := make([]int64, 0, len(page))
	for _, rec := range page {
		if id, ok, err := rec.Int64("ID"); err == nil && ok {
			ids = append(ids, id)
		}
	}

	var existing []int64
	err := s.DB.WithContext(ctx).
		Model(&models.PlatformUser{}).
		Where("laundry_group_id = ? AND external_account_id IN ?", s.GroupID, ids).
		Pluck("external_account_id", &existing).Error
	if err != nil {
		s.Logger.Error("Failed loading existing users", zap.Error(err))
		res.Failures += len(page)
		return
	}
	known := make(map[int64]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	for _, rec := range page {
		id, _, _ := rec.Int64("ID")
		if known[id] {
			continue
		}
		user := models.PlatformUser{}
		if err := s.save(ctx, rec, &user); err != nil {
			res.Failures++
			continue
		}
		known[id] = true
		res.Created++
	}
}

func (s *UserSyncer) update(ctx context.Context, page []platform.Record, res *UserSyncResult) {
	for _, rec := range page {
		id, ok, err := rec.Int64("ID")
		if err != nil || !ok {
			s.Logger.Error("User record without ID", zap.Any("record", rec))
			res.Failures++
			continue
		}

		var user models.PlatformUser
		err = s.DB.WithContext(ctx).
			Where("laundry_group_id = ? AND external_account_id = ?", s.GroupID, id).
			Take(&user).Error
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !isNew {
			s.Logger.Error("Failed loading user", zap.Int64("account_id", id), zap.Error(err))
			res.Failures++
			continue
		}

		if err := s.save(ctx, rec, &user); err != nil {
			res.Failures++
			continue
		}
		if isNew {
			res.Created++
		} else {
			res.Updated++
		}
	}
}

func (s *UserSyncer) save(ctx context.Context, rec platform.Record, user *models.PlatformUser) error {
	if err := mapUser(rec, user); err != nil {
		s.Logger.Error("Failed mapping user", zap.String("id", rec.String("ID")), zap.Error(err))
		return err
	}
	user.LaundryGroupID = s.GroupID
	if err := s.DB.WithContext(ctx).Save(user).Error; err != nil {
		s.Logger.Error("Failed to save user", zap.Int64("account_id", user.ExternalAccountID), zap.Error(err))
		return err
	}
	return nil
}

// updateEmployees re-reads employee accounts one by one; they gate check
// attribution and need to be fresher than the nightly sweep.
func (s *UserSyncer) updateEmployees(ctx context.Context, res *UserSyncResult) error {
	var employees []models.PlatformUser
	err := s.DB.WithContext(ctx).
		Where("laundry_group_id = ? AND is_employee = ?", s.GroupID, true).
		Find(&employees).Error
	if err != nil {
		return err
	}

	var fresh []platform.Record
	for _, e := range employees {
		rec, err := s.Platform.UserAccount(ctx, e.ExternalAccountID)
		if err != nil || rec == nil {
			continue
		}
		fresh = append(fresh, rec)
	}
	before := res.Updated + res.Created
	s.update(ctx, fresh, res)
	res.Employees = res.Updated + res.Created - before
	return nil
}
