package store_test

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/store"
	"recycle-bin-backend/internal/testutil"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

func TestGormStore_IncrementPointsIsSingleUpsert(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := store.NewGormStore(gormDB, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "point_balances"`) + `.*` +
		regexp.QuoteMeta(`ON CONFLICT ("user_id") DO UPDATE SET`) + `.*` +
		regexp.QuoteMeta(`point_balances.total_points + $`)).
		WithArgs("U1", int64(5), Any{}, int64(5), Any{}).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.IncrementPoints(context.Background(), "U1", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_AcquireLeaseIsConditional(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := store.NewGormStore(gormDB, time.Second)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "bins" SET`) + `.*` +
		`WHERE \(?id = \$4 AND state = \$5\)?`).
		WithArgs(Any{}, Any{}, Any{}, "B001", model.LeaseInactive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := s.AcquireLease(context.Background(), "B001", "U1", at)
	require.NoError(t, err)
	assert.False(t, ok, "no row matched, so the lease must not be granted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_StoreFailureIsClassified(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := store.NewGormStore(gormDB, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bins"`)).
		WillReturnError(assert.AnError)

	_, err := s.GetBin(context.Background(), "B001")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStoreFailure)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGormStore_LeaseTransitions(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")
	now := time.Now().UTC()

	ok, err := s.AcquireLease(ctx, "B001", "U1", now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLease(ctx, "B001", "U2", now)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must lose")

	bin, err := s.GetBin(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, model.LeaseActive, bin.State)
	assert.Equal(t, "U1", bin.HolderID())

	ok, err = s.ReleaseLease(ctx, "B001", "U2", now)
	require.NoError(t, err)
	assert.False(t, ok, "non-holder must not release")

	ok, err = s.ReleaseLease(ctx, "B001", "U1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	bin, err = s.GetBin(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, model.LeaseInactive, bin.State)
	assert.Nil(t, bin.Holder)

	ok, err = s.ReleaseLease(ctx, "B001", "", now)
	require.NoError(t, err)
	assert.False(t, ok, "releasing an inactive bin changes nothing")
}

func TestGormStore_ConcurrentAcquireHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, user := range []string{"U1", "U2", "U3", "U4", "U5"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			ok, err := s.AcquireLease(ctx, "B001", user, time.Now().UTC())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners = append(winners, user)
				mu.Unlock()
			}
		}(user)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	bin, err := s.GetBin(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, winners[0], bin.HolderID())
}

func TestGormStore_TakePendingCommand(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")

	_, found, err := s.TakePendingCommand(ctx, "B001")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.MergeBin(ctx, "B001", map[string]any{
		"pending_command":    "ACTIVATE:U1",
		"pending_command_at": time.Now().UTC(),
	}))

	cmd, found, err := s.TakePendingCommand(ctx, "B001")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ACTIVATE:U1", cmd)

	_, found, err = s.TakePendingCommand(ctx, "B001")
	require.NoError(t, err)
	assert.False(t, found, "a command is delivered at most once")

	_, _, err = s.TakePendingCommand(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGormStore_MergeBinUnknown(t *testing.T) {
	s := testutil.NewStore(t)
	err := s.MergeBin(context.Background(), "nope", map[string]any{"device_status": "active"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGormStore_FindBinIDByCredential(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedBin(t, s, "B001", "KEY1")

	id, err := s.FindBinIDByCredential(ctx, "KEY1")
	require.NoError(t, err)
	assert.Equal(t, "B001", id)

	_, err = s.FindBinIDByCredential(ctx, "KEY2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGormStore_ConcurrentIncrementPoints(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementPoints(ctx, "U1", 3))
		}()
	}
	wg.Wait()

	total, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)

	total, err = s.GetPoints(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGormStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.LatestSession(ctx, "B001")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for i, user := range []string{"U1", "U2"} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateSession(ctx, &model.LeaseSession{
			ID: "S" + user, BinID: "B001", UserID: user,
			ActivatedAt: at, ExpiresAt: at.Add(5 * time.Minute), Status: model.SessionActive,
		}))
	}

	latest, err := s.LatestSession(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, "U2", latest.UserID)

	require.NoError(t, s.CloseActiveSessions(ctx, "B001", base.Add(10*time.Minute)))
	_, err = s.ActiveSession(ctx, "B001")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	latest, err = s.LatestSession(ctx, "B001")
	require.NoError(t, err)
	assert.Equal(t, model.SessionClosed, latest.Status)
	assert.NotNil(t, latest.ClosedAt)
}

func TestGormStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	err := s.Transaction(ctx, func(tx store.Store) error {
		require.NoError(t, tx.IncrementPoints(ctx, "U1", 10))
		return apperr.Validation("abort")
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	total, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Zero(t, total, "credit must roll back with the transaction")
}

func TestGormStore_RecyclingRecordsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	require.NoError(t, s.CreateRecyclingRecords(ctx, []model.RecyclingRecord{
		{ID: "R1", UserID: "U1", BinID: "B001", Category: "plastic", Quantity: 150, WeightKg: 75, Points: 3, CreatedAt: time.Now().UTC()},
	}))

	records, err := s.ListRecyclingRecords(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	rec.Points = 999
	err = s.DB().Save(&rec).Error
	assert.ErrorIs(t, err, model.ErrImmutableRecord)
}

func TestGormStore_PricingAndSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	_, err := s.GetPricing(ctx)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p := model.DefaultPricing()
	require.NoError(t, s.SavePricing(ctx, &p))
	got, err := s.GetPricing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.ItemsPerPoint["plastic"])

	sub := &model.PushSubscription{Endpoint: "https://push/1", UserID: "U1", P256DH: "k", Auth: "a", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveSubscription(ctx, sub))
	sub.UserID = "U2"
	require.NoError(t, s.SaveSubscription(ctx, sub))

	subs, err := s.SubscriptionsForUser(ctx, "U2")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, s.DeleteSubscription(ctx, "https://push/1"))
	_, err = s.GetSubscription(ctx, "https://push/1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
