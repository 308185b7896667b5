package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"revenue-service/internal/directory"
	"revenue-service/internal/models"
	"revenue-service/internal/platform"
	"revenue-service/pkg/common"
)

// Cleaner turns platform transaction records into Transactions with local
// references resolved.
type Cleaner struct {
	dir       directory.Directory
	db        *gorm.DB
	groupID   uint
	reportLoc *time.Location
	localLoc  *time.Location
}

func NewCleaner(dir directory.Directory, db *gorm.DB, groupID uint, reportLoc, localLoc *time.Location) (*Cleaner, error) {
	if err := ValidateFieldMaps(); err != nil {
		return nil, err
	}
	return &Cleaner{dir: dir, db: db, groupID: groupID, reportLoc: reportLoc, localLoc: localLoc}, nil
}

func (c *Cleaner) Clean(ctx context.Context, rec platform.Record) (*models.Transaction, error) {
	m, err := mapTransaction(rec, c.reportLoc)
	if err != nil {
		return nil, err
	}
	tx := &m.tx
	if tx.PlatformRecordID == "" || tx.SystemConfigID == "" {
		return nil, errors.New("record has no ID or AccountID")
	}
	tx.LaundryGroupID = c.groupID
	tx.ExternalID = ExternalID(tx.PlatformRecordID, tx.SystemConfigID)

	room, err := c.dir.RoomByLocationCode(ctx, c.groupID, tx.LocationCode)
	if err != nil {
		return nil, fmt.Errorf("room lookup: %w", err)
	}
	if room != nil {
		tx.LaundryRoomID = &room.ID

		slot, err := c.dir.SlotByLabel(ctx, room.ID, tx.MachineLabel)
		if err != nil {
			return nil, fmt.Errorf("slot lookup: %w", err)
		}
		if slot != nil {
			tx.SlotID = &slot.ID
			machine, err := c.dir.CurrentMachine(ctx, slot.ID)
			if err != nil {
				return nil, fmt.Errorf("machine lookup: %w", err)
			}
			if machine != nil {
				tx.MachineID = &machine.ID
			}
		}
	}

	tx.LastFour = LastFour(tx.CardNumber)

	if tx.ExternalUserID != nil {
		userID, err := c.localUser(ctx, *tx.ExternalUserID)
		if err != nil {
			return nil, fmt.Errorf("user lookup: %w", err)
		}
		tx.PlatformUserID = userID
	}

	if m.reportedAt != nil {
		local, utc := ConvertTime(*m.reportedAt, c.localLoc)
		tx.LocalTime = &local
		tx.UTCTime = &utc
	}

	if tx.DirectlyAssignable() {
		tx.AssignReported()
	}
	return tx, nil
}

func (c *Cleaner) localUser(ctx context.Context, accountID int64) (*uint, error) {
	var user models.PlatformUser
	err := c.db.WithContext(ctx).
		Select("id").
		Where("laundry_group_id = ? AND external_account_id = ?", c.groupID, accountID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user.ID, nil
}

// ExternalID builds the transaction identity. Platform record ids repeat
// across system configs.
func ExternalID(recordID, systemConfigID string) string {
	return fmt.Sprintf("%s-%s", recordID, systemConfigID)
}

func LastFour(card string) string {
	if len(card) <= 4 {
		return card
	}
	return card[len(card)-4:]
}

// ConvertTime returns the tenant-local and UTC wall-clock readings of t at
// second precision.
func ConvertTime(t time.Time, localLoc *time.Location) (local, utc time.Time) {
	return common.NaiveSecond(t.In(localLoc)), common.NaiveSecond(t.UTC())
}

// bestEffortExternalID is used to label failed records.
func bestEffortExternalID(rec platform.Record) string {
	id, cfg := rec.String("ID"), rec.String("AccountID")
	if id == "" || cfg == "" {
		return "Unknown"
	}
	return ExternalID(id, cfg)
}
