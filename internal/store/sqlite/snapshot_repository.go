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

const snapshotColumns = `bot_id, coin, initial_price, snapshot_timestamp, units_held, eth_equivalent_value, was_ever_held, max_units_reached`

// SnapshotRepository persists CoinSnapshot rows, unique on (bot_id, coin).
type SnapshotRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewSnapshotRepository(db *DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: db, log: log.With().Str("repo", "snapshot").Logger()}
}

func (r *SnapshotRepository) GetSnapshot(ctx context.Context, botID, coin string) (*domain.CoinSnapshot, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM coin_snapshots WHERE bot_id = ? AND coin = ?", botID, coin)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s/%s: %w", botID, coin, err)
	}
	return snap, nil
}

func (r *SnapshotRepository) ListSnapshots(ctx context.Context, botID string) ([]*domain.CoinSnapshot, error) {
	rows, err := r.db.conn.QueryContext(ctx, "SELECT "+snapshotColumns+" FROM coin_snapshots WHERE bot_id = ?", botID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for bot %s: %w", botID, err)
	}
	defer rows.Close()

	var out []*domain.CoinSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (r *SnapshotRepository) CreateSnapshot(ctx context.Context, snap *domain.CoinSnapshot) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO coin_snapshots (bot_id, coin, initial_price, snapshot_timestamp, units_held, eth_equivalent_value, was_ever_held, max_units_reached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.BotID, snap.Coin, snap.InitialPrice.String(), snap.SnapshotTimestamp.Unix(),
		snap.UnitsHeld.String(), snap.ETHEquivalentValue.String(), boolToInt(snap.WasEverHeld), snap.MaxUnitsReached.String())
	if err != nil {
		return fmt.Errorf("create snapshot %s/%s: %w", snap.BotID, snap.Coin, err)
	}
	return nil
}

func (r *SnapshotRepository) UpdateSnapshot(ctx context.Context, snap *domain.CoinSnapshot) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE coin_snapshots SET
			initial_price = ?, snapshot_timestamp = ?, units_held = ?,
			eth_equivalent_value = ?, was_ever_held = ?, max_units_reached = ?
		WHERE bot_id = ? AND coin = ?
	`, snap.InitialPrice.String(), snap.SnapshotTimestamp.Unix(), snap.UnitsHeld.String(),
		snap.ETHEquivalentValue.String(), boolToInt(snap.WasEverHeld), snap.MaxUnitsReached.String(),
		snap.BotID, snap.Coin)
	if err != nil {
		return fmt.Errorf("update snapshot %s/%s: %w", snap.BotID, snap.Coin, err)
	}
	return nil
}

func (r *SnapshotRepository) DeleteSnapshots(ctx context.Context, botID string) error {
	_, err := r.db.conn.ExecContext(ctx, "DELETE FROM coin_snapshots WHERE bot_id = ?", botID)
	if err != nil {
		return fmt.Errorf("delete snapshots for bot %s: %w", botID, err)
	}
	return nil
}

func scanSnapshot(s scannable) (*domain.CoinSnapshot, error) {
	var snap domain.CoinSnapshot
	var ts int64
	var wasEverHeld int

	err := s.Scan(&snap.BotID, &snap.Coin, &snap.InitialPrice, &ts, &snap.UnitsHeld,
		&snap.ETHEquivalentValue, &wasEverHeld, &snap.MaxUnitsReached)
	if err != nil {
		return nil, err
	}
	snap.SnapshotTimestamp = time.Unix(ts, 0).UTC()
	snap.WasEverHeld = wasEverHeld != 0
	return &snap, nil
}

// UnitTrackerRepository persists CoinUnitTracker rows, unique on (bot_id, coin).
type UnitTrackerRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewUnitTrackerRepository(db *DB, log zerolog.Logger) *UnitTrackerRepository {
	return &UnitTrackerRepository{db: db, log: log.With().Str("repo", "unit_tracker").Logger()}
}

func (r *UnitTrackerRepository) UpsertUnitTracker(ctx context.Context, t *domain.CoinUnitTracker) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO coin_unit_trackers (bot_id, coin, units, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bot_id, coin) DO UPDATE SET
			units = excluded.units,
			last_updated = excluded.last_updated
	`, t.BotID, t.Coin, t.Units.String(), t.LastUpdated.Unix())
	if err != nil {
		return fmt.Errorf("upsert unit tracker %s/%s: %w", t.BotID, t.Coin, err)
	}
	return nil
}

// DeviationRepository appends CoinDeviation rows for dashboard consumption.
type DeviationRepository struct {
	db  *DB
	log zerolog.Logger
}

func NewDeviationRepository(db *DB, log zerolog.Logger) *DeviationRepository {
	return &DeviationRepository{db: db, log: log.With().Str("repo", "deviation").Logger()}
}

func (r *DeviationRepository) RecordDeviation(ctx context.Context, d *domain.CoinDeviation) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO coin_deviations (bot_id, base_coin, target_coin, base_price, target_price, deviation_percent, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.BotID, d.BaseCoin, d.TargetCoin, d.BasePrice.String(), d.TargetPrice.String(),
		d.DeviationPercent.String(), d.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("record deviation for bot %s: %w", d.BotID, err)
	}
	return nil
}

func (r *DeviationRepository) ListRecentDeviations(ctx context.Context, botID string, limit int) ([]*domain.CoinDeviation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, bot_id, base_coin, target_coin, base_price, target_price, deviation_percent, recorded_at
		FROM coin_deviations WHERE bot_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deviations for bot %s: %w", botID, err)
	}
	defer rows.Close()

	var out []*domain.CoinDeviation
	for rows.Next() {
		var d domain.CoinDeviation
		var ts int64
		if err := rows.Scan(&d.ID, &d.BotID, &d.BaseCoin, &d.TargetCoin, &d.BasePrice, &d.TargetPrice, &d.DeviationPercent, &ts); err != nil {
			return nil, fmt.Errorf("scan deviation: %w", err)
		}
		d.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &d)
	}
	return out, rows.Err()
}
