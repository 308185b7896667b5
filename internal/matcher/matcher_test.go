package matcher

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"revenue-service/internal/models"
	"revenue-service/internal/testutil"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func ptr[T any](v T) *T { return &v }

func newMatcher(t *testing.T) (*Matcher, *gorm.DB) {
	db := testutil.NewDB(t)
	m := New(db, zap.NewNop())
	m.Now = func() time.Time { return base.Add(24 * time.Hour) }
	return m, db
}

func webValueAdd(externalID string, user uint, when *time.Time) models.Transaction {
	return models.Transaction{
		ExternalID:      externalID,
		TransactionType: models.TypeAddValue,
		SubType:         models.SubTypeCreditOnWebsite,
		PlatformUserID:  &user,
		UTCTime:         when,
		LocalTime:       when,
	}
}

func vend(externalID string, user uint, room uint, when *time.Time) models.Transaction {
	return models.Transaction{
		ExternalID:      externalID,
		TransactionType: models.TypeVend,
		PlatformUserID:  &user,
		LaundryRoomID:   &room,
		UTCTime:         when,
		LocalTime:       when,
	}
}

func reload(t *testing.T, db *gorm.DB, id uint) models.Transaction {
	var tx models.Transaction
	require.NoError(t, db.First(&tx, id).Error)
	return tx
}

func TestMatchPrefersEarlierTransaction(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	target := webValueAdd("1-1", 7, at(0))
	before := vend("2-1", 7, 10, at(-time.Hour))
	after := vend("3-1", 7, 20, at(time.Minute))
	other := vend("4-1", 8, 30, at(-time.Minute))
	require.NoError(t, db.Create(&[]*models.Transaction{&target, &before, &after, &other}).Error)

	ok, err := m.Match(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got := reload(t, db, target.ID)
	assert.Equal(t, uint(10), *got.AssignedLaundryRoomID)
	assert.True(t, base.Equal(*got.AssignedUTCTime))
	assert.True(t, base.Equal(*got.AssignedLocalTime))
}

func TestMatchFallsForwardWhenNothingEarlier(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	target := webValueAdd("1-1", 7, at(0))
	later := vend("2-1", 7, 20, at(5*time.Minute))
	latest := vend("3-1", 7, 30, at(time.Hour))
	require.NoError(t, db.Create(&[]*models.Transaction{&target, &later, &latest}).Error)

	ok, err := m.Match(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(20), *reload(t, db, target.ID).AssignedLaundryRoomID)
}

func TestMatchSkipsUnusableCandidates(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	target := webValueAdd("1-1", 7, at(0))
	roomless := models.Transaction{ExternalID: "2-1", TransactionType: models.TypeVend, PlatformUserID: ptr(uint(7)), UTCTime: at(-time.Minute)}
	fake := vend("3-1", 7, 40, at(-2*time.Minute))
	fake.Fake = true
	otherWeb := webValueAdd("4-1", 7, at(-3*time.Minute))
	otherWeb.LaundryRoomID = ptr(uint(50))
	usable := vend("5-1", 7, 60, at(-time.Hour))
	require.NoError(t, db.Create(&[]*models.Transaction{&target, &roomless, &fake, &otherWeb, &usable}).Error)

	ok, err := m.Match(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(60), *reload(t, db, target.ID).AssignedLaundryRoomID)
}

func TestMatchFallsBackToExternalUser(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	target := models.Transaction{ExternalID: "1-1", TransactionType: models.TypeAddValue, SubType: models.SubTypeCreditOnWebsite, ExternalUserID: ptr(int64(900)), UTCTime: at(0)}
	related := models.Transaction{ExternalID: "2-1", TransactionType: models.TypeVend, ExternalUserID: ptr(int64(900)), LaundryRoomID: ptr(uint(5)), UTCTime: at(-time.Minute)}
	require.NoError(t, db.Create(&[]*models.Transaction{&target, &related}).Error)

	ok, err := m.MatchTransaction(ctx, &target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint(5), *target.AssignedLaundryRoomID)
}

func TestMissIsRecordedOnceAndSolvedLater(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	target := webValueAdd("1-1", 7, at(0))
	require.NoError(t, db.Create(&target).Error)

	for i := 0; i < 2; i++ {
		ok, err := m.Match(ctx, target.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	var misses []models.FailedTransactionMatch
	require.NoError(t, db.Find(&misses).Error)
	require.Len(t, misses, 1)
	assert.False(t, misses[0].Solved)

	related := vend("2-1", 7, 9, at(time.Hour))
	require.NoError(t, db.Create(&related).Error)
	ok, err := m.Match(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.First(&misses[0], misses[0].ID).Error)
	assert.True(t, misses[0].Solved)
	assert.NotNil(t, misses[0].SolvedAt)
}

func TestMatchWithoutTimeIsNoop(t *testing.T) {
	m, db := newMatcher(t)
	target := models.Transaction{ExternalID: "1-1", TransactionType: models.TypeAddValue, SubType: models.SubTypeCreditOnWebsite}
	require.NoError(t, db.Create(&target).Error)

	ok, err := m.MatchTransaction(context.Background(), &target)
	require.NoError(t, err)
	assert.False(t, ok)

	var n int64
	require.NoError(t, db.Model(&models.FailedTransactionMatch{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestMatchAllAndPendingCoverDisjointPopulations(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	direct := vend("1-1", 7, 10, at(-time.Hour))
	web := webValueAdd("2-1", 7, at(0))
	web.LaundryRoomID = ptr(uint(99))
	roomless := models.Transaction{ExternalID: "3-1", TransactionType: models.TypeVend, PlatformUserID: ptr(uint(7)), UTCTime: at(time.Hour), LocalTime: at(time.Hour)}
	require.NoError(t, db.Create(&[]*models.Transaction{&direct, &web, &roomless}).Error)

	n, err := m.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, uint(10), *reload(t, db, direct.ID).AssignedLaundryRoomID)
	assert.Nil(t, reload(t, db, web.ID).AssignedLaundryRoomID)

	res, err := m.MatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PendingResult{Matched: 2}, res)
	assert.Equal(t, uint(10), *reload(t, db, web.ID).AssignedLaundryRoomID)
	assert.Equal(t, uint(10), *reload(t, db, roomless.ID).AssignedLaundryRoomID)
}

func TestAttributeChecks(t *testing.T) {
	ctx := context.Background()
	m, db := newMatcher(t)

	employee := models.PlatformUser{LaundryGroupID: 1, ExternalAccountID: 3, ExternalUserID: ptr(int64(555)), IsEmployee: true}
	require.NoError(t, db.Create(&employee).Error)

	cash := models.Transaction{
		ExternalID: "1-1", TransactionType: models.TypeAddValue, SubType: models.SubTypeCash,
		PlatformUserID: ptr(uint(7)), EmployeeUserID: ptr(int64(555)), UTCTime: at(0), LocalTime: at(0),
	}
	related := vend("2-1", 7, 10, at(-time.Minute))
	lonely := models.Transaction{
		ExternalID: "3-1", TransactionType: models.TypeAddValue, SubType: models.SubTypeCash,
		PlatformUserID: ptr(uint(8)), UTCTime: at(0),
	}
	require.NoError(t, db.Create(&[]*models.Transaction{&cash, &related, &lonely}).Error)

	n, err := m.AttributeChecks(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var match models.CheckAttributionMatch
	require.NoError(t, db.Take(&match).Error)
	assert.Equal(t, cash.ID, match.TransactionID)
	assert.Equal(t, employee.ID, *match.EmployeeID)
	assert.Equal(t, "Check Re-Attribution", match.Comment)

	// attributed transactions are not reprocessed
	n, err = m.AttributeChecks(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMatchAllSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(bulkAssignSQL)).
		WithArgs(2, 1).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := New(db, zap.NewNop()).MatchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
