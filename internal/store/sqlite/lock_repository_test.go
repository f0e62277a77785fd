package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/store/sqlite"
	testhelpers "github.com/coinrebalancer/engine/internal/testing"
)

func TestLockRepository_AcquireRejectsConcurrentSameCoin(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	seedBotRow(t, db, "botA")
	seedBotRow(t, db, "botB")
	repo := sqlite.NewLockRepository(db, testLogger())
	now := time.Now()

	lockA := &domain.AssetLock{
		LockID: "lockA", BotID: "botA", Coin: "ADA",
		Amount: decimal.RequireFromString("100"), Reason: "trade_to_USDT",
		Status: domain.LockStatusLocked, ExpiresAt: now.Add(5 * time.Minute),
	}
	require.NoError(t, repo.AcquireLock(context.Background(), lockA, now))

	lockB := &domain.AssetLock{
		LockID: "lockB", BotID: "botB", Coin: "ADA",
		Amount: decimal.RequireFromString("50"), Reason: "trade_to_USDT",
		Status: domain.LockStatusLocked, ExpiresAt: now.Add(5 * time.Minute),
	}
	err := repo.AcquireLock(context.Background(), lockB, now)
	assert.Error(t, err)
	assert.Equal(t, domain.KindLockConflict, domain.KindOf(err))
}

func TestLockRepository_SweepExpiredReleasesPastDeadline(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	seedBotRow(t, db, "botA")
	repo := sqlite.NewLockRepository(db, testLogger())
	past := time.Now().Add(-time.Minute)

	lock := &domain.AssetLock{
		LockID: "lock1", BotID: "botA", Coin: "ADA",
		Amount: decimal.RequireFromString("100"), Reason: "trade_to_USDT",
		Status: domain.LockStatusLocked, ExpiresAt: past,
	}
	require.NoError(t, repo.AcquireLock(context.Background(), lock, past.Add(-time.Hour)))

	n, err := repo.SweepExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := repo.FindActiveLock(context.Background(), "ADA", time.Now())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestLockRepository_ReleaseRejectsWrongBot(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	seedBotRow(t, db, "botA")
	repo := sqlite.NewLockRepository(db, testLogger())
	now := time.Now()

	lock := &domain.AssetLock{
		LockID: "lock1", BotID: "botA", Coin: "ADA",
		Amount: decimal.RequireFromString("100"), Reason: "trade_to_USDT",
		Status: domain.LockStatusLocked, ExpiresAt: now.Add(5 * time.Minute),
	}
	require.NoError(t, repo.AcquireLock(context.Background(), lock, now))

	err := repo.ReleaseLock(context.Background(), "lock1", "botB")
	assert.Error(t, err)
}
