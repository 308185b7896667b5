package models

import "time"

type LaundryGroup struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:100;not null" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LaundryGroup) TableName() string {
	return "laundry_groups"
}

type LaundryRoom struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	LaundryGroupID uint      `gorm:"column:laundry_group_id;not null;index:idx_room_location" json:"laundry_group_id"`
	LocationCode   string    `gorm:"column:location_code;size:50;index:idx_room_location" json:"location_code"`
	DisplayName    string    `gorm:"column:display_name;size:255" json:"display_name"`
	IsActive       bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LaundryRoom) TableName() string {
	return "laundry_rooms"
}

type Slot struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	LaundryRoomID  uint       `gorm:"column:laundry_room_id;not null;index:idx_slot_label" json:"laundry_room_id"`
	WebDisplayName string     `gorm:"column:web_display_name;size:100;index:idx_slot_label" json:"web_display_name"`
	LastRunTime    *time.Time `gorm:"column:last_run_time" json:"last_run_time"`
	IsActive       bool       `gorm:"column:is_active" json:"is_active"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Slot) TableName() string {
	return "slots"
}

type Machine struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AssetCode string    `gorm:"column:asset_code;size:50" json:"asset_code"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Machine) TableName() string {
	return "machines"
}

// MachineSlotMap records which machine sits in a slot over time.
type MachineSlotMap struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SlotID    uint       `gorm:"column:slot_id;not null;index" json:"slot_id"`
	MachineID uint       `gorm:"column:machine_id;not null" json:"machine_id"`
	IsActive  bool       `gorm:"column:is_active" json:"is_active"`
	StartTime time.Time  `gorm:"column:start_time;not null" json:"start_time"`
	EndTime   *time.Time `gorm:"column:end_time" json:"end_time"`
}

func (MachineSlotMap) TableName() string {
	return "machine_slot_maps"
}
