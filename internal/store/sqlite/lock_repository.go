package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

const lockColumns = `lock_id, bot_id, coin, amount, reason, status, acquired_at, expires_at`

// LockRepository persists AssetLock rows. AcquireLock runs its
// check-then-insert inside a single serializable transaction via
// WithTransaction, closing the race the in-memory Manager alone cannot
// close.
type LockRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewLockRepository(db *DB, log zerolog.Logger) *LockRepository {
	return &LockRepository{db: db, log: log.With().Str("repo", "lock").Logger()}
}

func (r *LockRepository) FindActiveLock(ctx context.Context, coin string, now time.Time) (*domain.AssetLock, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT "+lockColumns+" FROM asset_locks WHERE coin = ? AND status = ? AND expires_at > ? ORDER BY acquired_at DESC LIMIT 1",
		coin, string(domain.LockStatusLocked), now.Unix())
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active lock for %s: %w", coin, err)
	}
	return l, nil
}

func (r *LockRepository) AcquireLock(ctx context.Context, l *domain.AssetLock, now time.Time) error {
	return WithTransaction(r.db.conn, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM asset_locks WHERE coin = ? AND status = ? AND expires_at > ? LIMIT 1",
			l.Coin, string(domain.LockStatusLocked), now.Unix()).Scan(&existing)
		if err == nil {
			return domain.NewLockConflict(l.Coin, "")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing lock: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO asset_locks (lock_id, bot_id, coin, amount, reason, status, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, l.LockID, l.BotID, l.Coin, l.Amount.String(), l.Reason, string(l.Status), now.Unix(), l.ExpiresAt.Unix())
		if err != nil {
			return fmt.Errorf("insert lock %s: %w", l.LockID, err)
		}
		return nil
	})
}

func (r *LockRepository) ReleaseLock(ctx context.Context, lockID, botID string) error {
	res, err := r.db.conn.ExecContext(ctx,
		"UPDATE asset_locks SET status = ? WHERE lock_id = ? AND bot_id = ?",
		string(domain.LockStatusReleased), lockID, botID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lockID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewLockConflict(lockID, botID)
	}
	return nil
}

func (r *LockRepository) ExtendLock(ctx context.Context, lockID, botID string, newExpiresAt time.Time) error {
	res, err := r.db.conn.ExecContext(ctx,
		"UPDATE asset_locks SET expires_at = ? WHERE lock_id = ? AND bot_id = ? AND status = ?",
		newExpiresAt.Unix(), lockID, botID, string(domain.LockStatusLocked))
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", lockID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewLockConflict(lockID, botID)
	}
	return nil
}

func (r *LockRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.conn.ExecContext(ctx,
		"UPDATE asset_locks SET status = ? WHERE status = ? AND expires_at <= ?",
		string(domain.LockStatusReleased), string(domain.LockStatusLocked), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *LockRepository) GetLock(ctx context.Context, lockID string) (*domain.AssetLock, error) {
	row := r.db.conn.QueryRowContext(ctx, "SELECT "+lockColumns+" FROM asset_locks WHERE lock_id = ?", lockID)
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock %s: %w", lockID, err)
	}
	return l, nil
}

func scanLock(s scannable) (*domain.AssetLock, error) {
	var l domain.AssetLock
	var status string
	var acquiredAt, expiresAt int64

	err := s.Scan(&l.LockID, &l.BotID, &l.Coin, &l.Amount, &l.Reason, &status, &acquiredAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	l.Status = domain.LockStatus(status)
	l.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &l, nil
}
