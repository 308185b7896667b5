// Package directory resolves platform location codes and machine labels to
// rooms, slots and machines.
package directory

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"revenue-service/internal/models"
)

// Directory looks up rooms, slots and machines. Lookups that find nothing
// return a nil result and a nil error.
type Directory interface {
	RoomByLocationCode(ctx context.Context, groupID uint, code string) (*models.LaundryRoom, error)
	SlotByLabel(ctx context.Context, roomID uint, label string) (*models.Slot, error)
	CurrentMachine(ctx context.Context, slotID uint) (*models.Machine, error)
	Room(ctx context.Context, id uint) (*models.LaundryRoom, error)
}

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) RoomByLocationCode(ctx context.Context, groupID uint, code string) (*models.LaundryRoom, error) {
	if code == "" {
		return nil, nil
	}
	var room models.LaundryRoom
	err := s.DB.WithContext(ctx).
		Where("laundry_group_id = ? AND location_code = ?", groupID, code).
		Order("id").
		First(&room).Error
	return found(&room, err)
}

// SlotByLabel picks the slot with the latest run time when a room has
// several slots with the same display name, which happens after hardware
// swaps.
func (s *Store) SlotByLabel(ctx context.Context, roomID uint, label string) (*models.Slot, error) {
	if label == "" {
		return nil, nil
	}
	var slot models.Slot
	err := s.DB.WithContext(ctx).
		Where("laundry_room_id = ? AND web_display_name = ?", roomID, label).
		Order("last_run_time IS NULL").
		Order("last_run_time DESC").
		Order("id DESC").
		First(&slot).Error
	return found(&slot, err)
}

func (s *Store) CurrentMachine(ctx context.Context, slotID uint) (*models.Machine, error) {
	var msm models.MachineSlotMap
	err := s.DB.WithContext(ctx).
		Where("slot_id = ? AND is_active = ?", slotID, true).
		Order("start_time DESC").
		First(&msm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var machine models.Machine
	err = s.DB.WithContext(ctx).First(&machine, msm.MachineID).Error
	return found(&machine, err)
}

func (s *Store) Room(ctx context.Context, id uint) (*models.LaundryRoom, error) {
	var room models.LaundryRoom
	err := s.DB.WithContext(ctx).First(&room, id).Error
	return found(&room, err)
}

func found[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
