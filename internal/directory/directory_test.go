package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revenue-service/internal/models"
	"revenue-service/internal/testutil"
)

func TestSlotByLabelPrefersLatestRun(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	room := models.LaundryRoom{LaundryGroupID: 1, LocationCode: "12", DisplayName: "Elm St"}
	require.NoError(t, db.Create(&room).Error)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	stale := models.Slot{LaundryRoomID: room.ID, WebDisplayName: "W3", LastRunTime: &older}
	fresh := models.Slot{LaundryRoomID: room.ID, WebDisplayName: "W3", LastRunTime: &newer}
	never := models.Slot{LaundryRoomID: room.ID, WebDisplayName: "W3"}
	require.NoError(t, db.Create(&fresh).Error)
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Create(&never).Error)

	slot, err := store.SlotByLabel(ctx, room.ID, "W3")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, fresh.ID, slot.ID)

	missing, err := store.SlotByLabel(ctx, room.ID, "D9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRoomByLocationCodeIsScopedToGroup(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	other := models.LaundryRoom{LaundryGroupID: 2, LocationCode: "12"}
	mine := models.LaundryRoom{LaundryGroupID: 1, LocationCode: "12"}
	require.NoError(t, db.Create(&other).Error)
	require.NoError(t, db.Create(&mine).Error)

	room, err := store.RoomByLocationCode(ctx, 1, "12")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, mine.ID, room.ID)

	room, err = store.RoomByLocationCode(ctx, 1, "")
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestCurrentMachineUsesLatestActiveMapping(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	slot := models.Slot{LaundryRoomID: 1, WebDisplayName: "D1", IsActive: true}
	require.NoError(t, db.Create(&slot).Error)
	oldMachine := models.Machine{AssetCode: "A-1"}
	newMachine := models.Machine{AssetCode: "A-2"}
	retired := models.Machine{AssetCode: "A-3"}
	require.NoError(t, db.Create(&oldMachine).Error)
	require.NoError(t, db.Create(&newMachine).Error)
	require.NoError(t, db.Create(&retired).Error)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.MachineSlotMap{SlotID: slot.ID, MachineID: oldMachine.ID, IsActive: true, StartTime: start}).Error)
	require.NoError(t, db.Create(&models.MachineSlotMap{SlotID: slot.ID, MachineID: newMachine.ID, IsActive: true, StartTime: start.AddDate(0, 6, 0)}).Error)
	require.NoError(t, db.Create(&models.MachineSlotMap{SlotID: slot.ID, MachineID: retired.ID, IsActive: false, StartTime: start.AddDate(1, 0, 0)}).Error)

	machine, err := store.CurrentMachine(ctx, slot.ID)
	require.NoError(t, err)
	require.NotNil(t, machine)
	assert.Equal(t, "A-2", machine.AssetCode)

	none, err := store.CurrentMachine(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, none)
}
