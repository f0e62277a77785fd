package snapshot

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeSnapshotStore struct{ rows map[string]*domain.CoinSnapshot }

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{rows: map[string]*domain.CoinSnapshot{}}
}
func (f *fakeSnapshotStore) GetSnapshot(ctx context.Context, botID, coin string) (*domain.CoinSnapshot, error) {
	return f.rows[botID+"|"+coin], nil
}
func (f *fakeSnapshotStore) ListSnapshots(ctx context.Context, botID string) ([]*domain.CoinSnapshot, error) {
	var out []*domain.CoinSnapshot
	for _, s := range f.rows {
		if s.BotID == botID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeSnapshotStore) CreateSnapshot(ctx context.Context, s *domain.CoinSnapshot) error {
	f.rows[s.BotID+"|"+s.Coin] = s
	return nil
}
func (f *fakeSnapshotStore) UpdateSnapshot(ctx context.Context, s *domain.CoinSnapshot) error {
	f.rows[s.BotID+"|"+s.Coin] = s
	return nil
}
func (f *fakeSnapshotStore) DeleteSnapshots(ctx context.Context, botID string) error {
	for k, s := range f.rows {
		if s.BotID == botID {
			delete(f.rows, k)
		}
	}
	return nil
}

type fakeUnitStore struct{ rows map[string]*domain.CoinUnitTracker }

func newFakeUnitStore() *fakeUnitStore { return &fakeUnitStore{rows: map[string]*domain.CoinUnitTracker{}} }
func (f *fakeUnitStore) UpsertUnitTracker(ctx context.Context, t *domain.CoinUnitTracker) error {
	f.rows[t.BotID+"|"+t.Coin] = t
	return nil
}

func TestEnsureBaselinesCreatesMissingOnly(t *testing.T) {
	store := newFakeSnapshotStore()
	mgr := New(store, newFakeUnitStore(), testLogger())

	bot := &domain.Bot{BotID: "bot1", Coins: []string{"BTC", "ETH", "SOL"}, InitialCoin: "BTC"}
	prices := map[string]decimal.Decimal{"BTC": dec("50000"), "ETH": dec("3000")}

	require.NoError(t, mgr.EnsureBaselines(context.Background(), bot, prices))

	btc := store.rows["bot1|BTC"]
	require.NotNil(t, btc)
	assert.True(t, btc.WasEverHeld, "initial coin is marked as held")
	assert.True(t, btc.InitialPrice.Equal(dec("50000")))

	eth := store.rows["bot1|ETH"]
	require.NotNil(t, eth)
	assert.False(t, eth.WasEverHeld)

	// SOL had no observed price this tick: no baseline yet.
	assert.Nil(t, store.rows["bot1|SOL"])

	// A second pass must not overwrite the existing baseline.
	prices["BTC"] = dec("60000")
	prices["SOL"] = dec("150")
	require.NoError(t, mgr.EnsureBaselines(context.Background(), bot, prices))
	assert.True(t, store.rows["bot1|BTC"].InitialPrice.Equal(dec("50000")), "initial_price is immutable once set")
	require.NotNil(t, store.rows["bot1|SOL"], "the missing baseline is created on the next observed price")
}

func TestRecordUnitsRaisesMaxMonotonically(t *testing.T) {
	store := newFakeSnapshotStore()
	units := newFakeUnitStore()
	mgr := New(store, units, testLogger())

	require.NoError(t, mgr.RecordUnits(context.Background(), "bot1", "ETH", dec("10"), dec("3000")))
	snap := store.rows["bot1|ETH"]
	require.NotNil(t, snap)
	assert.True(t, snap.WasEverHeld)
	assert.True(t, snap.MaxUnitsReached.Equal(dec("10")))

	require.NoError(t, mgr.RecordUnits(context.Background(), "bot1", "ETH", dec("8"), dec("3100")))
	snap = store.rows["bot1|ETH"]
	assert.True(t, snap.UnitsHeld.Equal(dec("8")))
	assert.True(t, snap.MaxUnitsReached.Equal(dec("10")), "max_units_reached never decreases")

	require.NoError(t, mgr.RecordUnits(context.Background(), "bot1", "ETH", dec("12"), dec("2900")))
	assert.True(t, store.rows["bot1|ETH"].MaxUnitsReached.Equal(dec("12")))

	tracker := units.rows["bot1|ETH"]
	require.NotNil(t, tracker)
	assert.True(t, tracker.Units.Equal(dec("12")))
}

func TestResetThenEnsureRecreatesBaselines(t *testing.T) {
	store := newFakeSnapshotStore()
	mgr := New(store, newFakeUnitStore(), testLogger())

	bot := &domain.Bot{BotID: "bot1", Coins: []string{"BTC"}, InitialCoin: "BTC"}
	require.NoError(t, mgr.EnsureBaselines(context.Background(), bot, map[string]decimal.Decimal{"BTC": dec("50000")}))
	require.NoError(t, mgr.Reset(context.Background(), "bot1"))
	assert.Empty(t, store.rows)

	require.NoError(t, mgr.EnsureBaselines(context.Background(), bot, map[string]decimal.Decimal{"BTC": dec("42000")}))
	assert.True(t, store.rows["bot1|BTC"].InitialPrice.Equal(dec("42000")), "post-reset baselines use then-current prices")
}

func TestMaxUnitsReachedForUnknownCoin(t *testing.T) {
	mgr := New(newFakeSnapshotStore(), newFakeUnitStore(), testLogger())
	max, everHeld, err := mgr.MaxUnitsReached(context.Background(), "bot1", "DOT")
	require.NoError(t, err)
	assert.False(t, everHeld)
	assert.True(t, max.IsZero())
}
