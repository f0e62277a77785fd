// Package snapshot maintains per-(bot, coin) baselines, unit tracking,
// and the initial-price map consumed by the deviation calculator.
package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
)

// Manager maintains CoinSnapshot and CoinUnitTracker rows.
type Manager struct {
	snapshots domain.SnapshotStore
	units     domain.UnitTrackerStore
	log       zerolog.Logger
}

// New constructs a Manager.
func New(snapshots domain.SnapshotStore, units domain.UnitTrackerStore, log zerolog.Logger) *Manager {
	return &Manager{snapshots: snapshots, units: units, log: log.With().Str("component", "snapshot_manager").Logger()}
}

// EnsureBaselines creates a CoinSnapshot for every coin in the bot's
// basket that doesn't already have one. Runs once at first tick after
// bot creation or after reset.
func (m *Manager) EnsureBaselines(ctx context.Context, bot *domain.Bot, prices map[string]decimal.Decimal) error {
	for _, coin := range bot.Coins {
		existing, err := m.snapshots.GetSnapshot(ctx, bot.BotID, coin)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		price, ok := prices[coin]
		if !ok {
			m.log.Warn().Str("coin", coin).Msg("no observed price for coin, skipping baseline creation this tick")
			continue
		}
		snap := &domain.CoinSnapshot{
			BotID:             bot.BotID,
			Coin:              coin,
			InitialPrice:      price,
			SnapshotTimestamp: time.Now(),
			UnitsHeld:         decimal.Zero,
			MaxUnitsReached:   decimal.Zero,
			WasEverHeld:       coin == bot.InitialCoin,
		}
		if err := m.snapshots.CreateSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// RecordUnits upserts the CoinUnitTracker, writes units_held into the
// CoinSnapshot, marks was_ever_held true, and raises max_units_reached
// monotonically.
func (m *Manager) RecordUnits(ctx context.Context, botID, coin string, units, price decimal.Decimal) error {
	now := time.Now()
	if err := m.units.UpsertUnitTracker(ctx, &domain.CoinUnitTracker{
		BotID: botID, Coin: coin, Units: units, LastUpdated: now,
	}); err != nil {
		return err
	}

	snap, err := m.snapshots.GetSnapshot(ctx, botID, coin)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &domain.CoinSnapshot{
			BotID: botID, Coin: coin, InitialPrice: price, SnapshotTimestamp: now,
		}
		snap.UnitsHeld = units
		snap.WasEverHeld = true
		snap.MaxUnitsReached = units
		return m.snapshots.CreateSnapshot(ctx, snap)
	}

	snap.UnitsHeld = units
	snap.WasEverHeld = true
	if units.GreaterThan(snap.MaxUnitsReached) {
		snap.MaxUnitsReached = units
	}
	return m.snapshots.UpdateSnapshot(ctx, snap)
}

// InitialPrices returns the baseline map used by the Deviation Calculator.
func (m *Manager) InitialPrices(ctx context.Context, botID string) (map[string]decimal.Decimal, error) {
	snaps, err := m.snapshots.ListSnapshots(ctx, botID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(snaps))
	for _, s := range snaps {
		out[s.Coin] = s.InitialPrice
	}
	return out, nil
}

// MaxUnitsReached returns the max_units_reached baseline for a coin, and
// whether the coin has ever been held by this bot (used by the re-entry
// guard in the Deviation Calculator).
func (m *Manager) MaxUnitsReached(ctx context.Context, botID, coin string) (decimal.Decimal, bool, error) {
	snap, err := m.snapshots.GetSnapshot(ctx, botID, coin)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	if snap == nil {
		return decimal.Zero, false, nil
	}
	return snap.MaxUnitsReached, snap.WasEverHeld, nil
}

// Reset deletes all snapshots for a bot (reset
// deletes rather than mutates; the next tick's EnsureBaselines then
// re-creates them at then-current prices).
func (m *Manager) Reset(ctx context.Context, botID string) error {
	return m.snapshots.DeleteSnapshots(ctx, botID)
}
