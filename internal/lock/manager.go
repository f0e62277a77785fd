// Package lock implements the asset lock manager: leased
// per-(bot, coin) claims that prevent two bots from mutating the same
// exchange balance simultaneously. The conflict check and insert must
// be serializable; that guarantee is delegated to the Store
// implementation (a single SQL transaction in internal/store/sqlite).
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
)

// Result is the outcome of CanTrade.
type Result struct {
	OK     bool
	Reason string
}

// Manager coordinates AssetLock rows.
type Manager struct {
	locks  domain.LockStore
	assets domain.AssetStore
	log    zerolog.Logger
	now    func() time.Time
}

// New constructs a Manager.
func New(locks domain.LockStore, assets domain.AssetStore, log zerolog.Logger) *Manager {
	return &Manager{locks: locks, assets: assets, log: log.With().Str("component", "asset_lock_manager").Logger(), now: time.Now}
}

// CanTrade fails if the bot's Asset has insufficient balance, or if any
// other bot holds a non-expired lock on the coin.
func (m *Manager) CanTrade(ctx context.Context, botID, coin string, amount decimal.Decimal) (Result, error) {
	asset, err := m.assets.GetAsset(ctx, botID)
	if err != nil {
		return Result{}, err
	}
	if asset == nil || asset.Coin != coin || asset.Amount.LessThan(amount) {
		return Result{OK: false, Reason: "insufficient_funds"}, nil
	}

	active, err := m.locks.FindActiveLock(ctx, coin, m.now())
	if err != nil {
		return Result{}, err
	}
	if active != nil && active.BotID != botID {
		return Result{OK: false, Reason: "asset_locked"}, nil
	}
	return Result{OK: true}, nil
}

// Acquire atomically inserts a new lock row after verifying no
// conflicting lock exists for the coin. Locks owned by the same bot do
// not self-conflict.
func (m *Manager) Acquire(ctx context.Context, botID, coin string, amount decimal.Decimal, reason string, ttl time.Duration) (*domain.AssetLock, error) {
	now := m.now()
	active, err := m.locks.FindActiveLock(ctx, coin, now)
	if err != nil {
		return nil, err
	}
	if active != nil && active.BotID != botID {
		return nil, domain.NewLockConflict(coin, active.BotID)
	}

	newLock := &domain.AssetLock{
		LockID:    uuid.NewString(),
		BotID:     botID,
		Coin:      coin,
		Amount:    amount,
		Reason:    reason,
		Status:    domain.LockStatusLocked,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.locks.AcquireLock(ctx, newLock, now); err != nil {
		return nil, err
	}
	return newLock, nil
}

// Release rejects cross-bot release; idempotent for the owning bot.
func (m *Manager) Release(ctx context.Context, lockID, botID string) error {
	existing, err := m.locks.GetLock(ctx, lockID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.BotID != botID {
		return fmt.Errorf("lock %s is not owned by bot %s", lockID, botID)
	}
	if existing.Status == domain.LockStatusReleased {
		return nil
	}
	return m.locks.ReleaseLock(ctx, lockID, botID)
}

// Extend pushes a lock's expiry forward by additional time.
func (m *Manager) Extend(ctx context.Context, lockID, botID string, additional time.Duration) error {
	existing, err := m.locks.GetLock(ctx, lockID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("lock %s not found", lockID)
	}
	if existing.BotID != botID {
		return fmt.Errorf("lock %s is not owned by bot %s", lockID, botID)
	}
	return m.locks.ExtendLock(ctx, lockID, botID, existing.ExpiresAt.Add(additional))
}

// Sweep transitions expired locked rows to released.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.locks.SweepExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Debug().Int("count", n).Msg("swept expired asset locks")
	}
	return n, nil
}

// RunSweeper sweeps on the given interval until ctx is cancelled. It is
// the process-wide periodic sweeper, started once at boot.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Warn().Err(err).Msg("lock sweep failed")
			}
		}
	}
}
