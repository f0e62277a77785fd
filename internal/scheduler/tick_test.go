package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/decision"
	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/executor"
	"github.com/coinrebalancer/engine/internal/lock"
	"github.com/coinrebalancer/engine/internal/oracle"
	"github.com/coinrebalancer/engine/internal/snapshot"
)

type memBotStore struct {
	bots   map[string]*domain.Bot
	resets []*domain.BotResetEvent
}

func (f *memBotStore) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	return f.bots[botID], nil
}
func (f *memBotStore) ListEnabledBots(ctx context.Context) ([]*domain.Bot, error) { return nil, nil }
func (f *memBotStore) UpdateBot(ctx context.Context, bot *domain.Bot) error {
	f.bots[bot.BotID] = bot
	return nil
}
func (f *memBotStore) RecordReset(ctx context.Context, ev *domain.BotResetEvent) error {
	f.resets = append(f.resets, ev)
	return nil
}

type memSnapshotStore struct{ rows map[string]*domain.CoinSnapshot }

func (f *memSnapshotStore) GetSnapshot(ctx context.Context, botID, coin string) (*domain.CoinSnapshot, error) {
	return f.rows[botID+"|"+coin], nil
}
func (f *memSnapshotStore) ListSnapshots(ctx context.Context, botID string) ([]*domain.CoinSnapshot, error) {
	var out []*domain.CoinSnapshot
	for _, s := range f.rows {
		if s.BotID == botID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *memSnapshotStore) CreateSnapshot(ctx context.Context, s *domain.CoinSnapshot) error {
	f.rows[s.BotID+"|"+s.Coin] = s
	return nil
}
func (f *memSnapshotStore) UpdateSnapshot(ctx context.Context, s *domain.CoinSnapshot) error {
	f.rows[s.BotID+"|"+s.Coin] = s
	return nil
}
func (f *memSnapshotStore) DeleteSnapshots(ctx context.Context, botID string) error {
	for k, s := range f.rows {
		if s.BotID == botID {
			delete(f.rows, k)
		}
	}
	return nil
}

type memUnitStore struct{}

func (memUnitStore) UpsertUnitTracker(ctx context.Context, t *domain.CoinUnitTracker) error {
	return nil
}

type memAssetStore struct{ asset *domain.Asset }

func (f *memAssetStore) GetAsset(ctx context.Context, botID string) (*domain.Asset, error) {
	return f.asset, nil
}
func (f *memAssetStore) ReplaceAsset(ctx context.Context, botID string, a *domain.Asset) error {
	f.asset = a
	return nil
}

type memMissedStore struct{}

func (memMissedStore) RecordMissedTrade(ctx context.Context, m *domain.MissedTrade) error {
	return nil
}

type stubPriceProvider struct{ prices map[string]string }

func (p *stubPriceProvider) Name() string { return "stub" }
func (p *stubPriceProvider) GetPrice(ctx context.Context, coin, quote string) (decimal.Decimal, error) {
	return decimal.NewFromString(p.prices[coin])
}

type stubBroker struct{ domain.BrokerClient }

func (stubBroker) GetCommissionRates(ctx context.Context, accountID string) (domain.CommissionRates, error) {
	return domain.CommissionRates{Maker: domain.DefaultMakerRate, Taker: domain.DefaultTakerRate, Source: domain.CommissionSourceDefault}, nil
}

func TestTickStampsLastCheckTimeOnNoOp(t *testing.T) {
	current := "BTC"
	bots := &memBotStore{bots: map[string]*domain.Bot{
		"bot1": {
			BotID: "bot1", Coins: []string{"BTC", "ETH"}, InitialCoin: "BTC", CurrentCoin: &current,
			ThresholdPercent: decimal.RequireFromString("10"), GlobalThresholdPercent: decimal.RequireFromString("10"),
			CommissionRate: decimal.RequireFromString("0.002"), PreferredStablecoin: "USDT", Enabled: true,
		},
	}}
	snapStore := &memSnapshotStore{rows: map[string]*domain.CoinSnapshot{}}
	snapMgr := snapshot.New(snapStore, memUnitStore{}, testLogger())
	assets := &memAssetStore{asset: &domain.Asset{BotID: "bot1", Coin: "BTC", Amount: decimal.RequireFromString("1")}}

	provider := &stubPriceProvider{prices: map[string]string{"BTC": "50000", "ETH": "3000"}}
	priceOracle := oracle.New([]domain.PriceProvider{provider}, nil, testLogger())

	tick := &EngineTick{
		Bots:      bots,
		Assets:    assets,
		Snapshots: snapMgr,
		Oracle:    priceOracle,
		Decisions: decision.New(snapMgr, memMissedStore{}, nil, testLogger()),
		Broker:    stubBroker{},
		Strategy:  oracle.Strategy{Primary: "stub", Fallback: "stub"},
		Log:       testLogger(),
	}

	require.NoError(t, tick.Tick(context.Background(), "bot1"))

	bot := bots.bots["bot1"]
	require.NotNil(t, bot.LastCheckTime, "every tick stamps last_check_time")

	// First tick created baselines for the whole basket.
	assert.NotNil(t, snapStore.rows["bot1|BTC"])
	assert.NotNil(t, snapStore.rows["bot1|ETH"])
}

type memLockStore struct{ active map[string]*domain.AssetLock }

func (f *memLockStore) FindActiveLock(ctx context.Context, coin string, now time.Time) (*domain.AssetLock, error) {
	if l, ok := f.active[coin]; ok && l.Held(now) {
		return l, nil
	}
	return nil, nil
}
func (f *memLockStore) AcquireLock(ctx context.Context, l *domain.AssetLock, now time.Time) error {
	f.active[l.Coin] = l
	return nil
}
func (f *memLockStore) ReleaseLock(ctx context.Context, lockID, botID string) error { return nil }
func (f *memLockStore) ExtendLock(ctx context.Context, lockID, botID string, newExpiresAt time.Time) error {
	return nil
}
func (f *memLockStore) SweepExpired(ctx context.Context, now time.Time) (int, error) { return 0, nil }
func (f *memLockStore) GetLock(ctx context.Context, lockID string) (*domain.AssetLock, error) {
	for _, l := range f.active {
		if l.LockID == lockID {
			return l, nil
		}
	}
	return nil, nil
}

type recordingMissedStore struct{ rows []*domain.MissedTrade }

func (f *recordingMissedStore) RecordMissedTrade(ctx context.Context, m *domain.MissedTrade) error {
	f.rows = append(f.rows, m)
	return nil
}

func TestTickRecordsMissedTradeWhenAssetLocked(t *testing.T) {
	current := "BTC"
	bots := &memBotStore{bots: map[string]*domain.Bot{
		"botA": {
			BotID: "botA", Coins: []string{"BTC", "ETH"}, InitialCoin: "BTC", CurrentCoin: &current,
			ThresholdPercent: decimal.RequireFromString("10"), GlobalThresholdPercent: decimal.RequireFromString("10"),
			CommissionRate: decimal.RequireFromString("0.002"), PreferredStablecoin: "USDT", Enabled: true,
		},
	}}
	snapStore := &memSnapshotStore{rows: map[string]*domain.CoinSnapshot{
		"botA|BTC": {BotID: "botA", Coin: "BTC", InitialPrice: decimal.RequireFromString("50000"), WasEverHeld: true},
		"botA|ETH": {BotID: "botA", Coin: "ETH", InitialPrice: decimal.RequireFromString("3000")},
	}}
	snapMgr := snapshot.New(snapStore, memUnitStore{}, testLogger())
	assets := &memAssetStore{asset: &domain.Asset{BotID: "botA", Coin: "BTC", Amount: decimal.RequireFromString("1")}}
	missed := &recordingMissedStore{}

	// Another bot already holds BTC.
	lockStore := &memLockStore{active: map[string]*domain.AssetLock{
		"BTC": {LockID: "l1", BotID: "botB", Coin: "BTC", Status: domain.LockStatusLocked, ExpiresAt: time.Now().Add(5 * time.Minute)},
	}}
	locks := lock.New(lockStore, assets, testLogger())
	exec := executor.New(nil, assets, nil, snapMgr, locks, bots, executor.ModeSimulate, testLogger(), nil)

	provider := &stubPriceProvider{prices: map[string]string{"BTC": "50000", "ETH": "2400"}}
	tick := &EngineTick{
		Bots:      bots,
		Assets:    assets,
		Snapshots: snapMgr,
		Oracle:    oracle.New([]domain.PriceProvider{provider}, nil, testLogger()),
		Decisions: decision.New(snapMgr, missed, nil, testLogger()),
		Executor:  exec,
		Broker:    stubBroker{},
		Strategy:  oracle.Strategy{Primary: "stub", Fallback: "stub"},
		Missed:    missed,
		Log:       testLogger(),
	}

	require.NoError(t, tick.Tick(context.Background(), "botA"), "lock contention is a NoOp, not a tick failure")
	require.Len(t, missed.rows, 1)
	assert.Equal(t, domain.ReasonAssetLocked, missed.rows[0].Reason)
	assert.Equal(t, "BTC", missed.rows[0].FromCoin)
	assert.Equal(t, "ETH", missed.rows[0].ToCoin)
	assert.Equal(t, "BTC", assets.asset.Coin, "no swap happened")
}

func TestResetDeletesSnapshotsAndClearsPeak(t *testing.T) {
	bots := &memBotStore{bots: map[string]*domain.Bot{
		"bot1": {BotID: "bot1", GlobalPeakValue: decimal.RequireFromString("60000")},
	}}
	snapStore := &memSnapshotStore{rows: map[string]*domain.CoinSnapshot{
		"bot1|BTC": {BotID: "bot1", Coin: "BTC"},
	}}
	tick := &EngineTick{
		Bots:      bots,
		Snapshots: snapshot.New(snapStore, memUnitStore{}, testLogger()),
		Log:       testLogger(),
	}

	require.NoError(t, tick.Reset(context.Background(), "bot1", "user_requested"))

	assert.Empty(t, snapStore.rows, "reset deletes snapshots rather than mutating them")
	assert.True(t, bots.bots["bot1"].GlobalPeakValue.IsZero())
	require.Len(t, bots.resets, 1)
	assert.Equal(t, "user_requested", bots.resets[0].Reason)
}
