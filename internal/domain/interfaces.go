package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BrokerClient is the contract the engine depends on for all exchange
// interaction. Concrete implementations live in
// internal/clients/broker; tests supply fakes satisfying this interface.
type BrokerClient interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccountBalances(ctx context.Context, accountID string) ([]AccountBalance, error)
	GetMarketRate(ctx context.Context, base, quote string) (Price, error)
	GetCommissionRates(ctx context.Context, accountID string) (CommissionRates, error)
	SubmitMarketTrade(ctx context.Context, req SubmitTradeRequest) (TradeHandle, error)
	GetTrade(ctx context.Context, handle TradeHandle) (BrokerTradeStatus, error)
	AwaitTradeCompletion(ctx context.Context, handle TradeHandle, maxWait time.Duration) (BrokerTradeStatus, error)
}

// PriceProvider is a single price source consulted by the Price Oracle.
type PriceProvider interface {
	Name() string
	GetPrice(ctx context.Context, coin, quote string) (decimal.Decimal, error)
}

// Store is the narrow persistence contract the engine's components
// depend on. The concrete SQLite adapter (internal/store/sqlite) is the
// only implementation that talks to a real database; the persistence
// engine itself is swappable behind this contract.
type Store interface {
	BotStore
	AssetStore
	SnapshotStore
	UnitTrackerStore
	DeviationStore
	TradeStore
	MissedTradeStore
	LockStore
	PriceHistoryStore
	LogStore
}

// BotStore persists Bot rows.
type BotStore interface {
	GetBot(ctx context.Context, botID string) (*Bot, error)
	ListEnabledBots(ctx context.Context) ([]*Bot, error)
	UpdateBot(ctx context.Context, bot *Bot) error
	RecordReset(ctx context.Context, ev *BotResetEvent) error
}

// AssetStore persists the single current Asset per bot.
type AssetStore interface {
	GetAsset(ctx context.Context, botID string) (*Asset, error)
	ReplaceAsset(ctx context.Context, botID string, newAsset *Asset) error
}

// SnapshotStore persists CoinSnapshot rows.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, botID, coin string) (*CoinSnapshot, error)
	ListSnapshots(ctx context.Context, botID string) ([]*CoinSnapshot, error)
	CreateSnapshot(ctx context.Context, snap *CoinSnapshot) error
	UpdateSnapshot(ctx context.Context, snap *CoinSnapshot) error
	DeleteSnapshots(ctx context.Context, botID string) error
}

// UnitTrackerStore persists CoinUnitTracker rows.
type UnitTrackerStore interface {
	UpsertUnitTracker(ctx context.Context, t *CoinUnitTracker) error
}

// DeviationStore appends CoinDeviation rows. The engine itself only
// ever writes; ListRecentDeviations backs the dashboard summary
// endpoint.
type DeviationStore interface {
	RecordDeviation(ctx context.Context, d *CoinDeviation) error
	ListRecentDeviations(ctx context.Context, botID string, limit int) ([]*CoinDeviation, error)
}

// TradeStore persists Trade and TradeStep rows.
type TradeStore interface {
	CreateTrade(ctx context.Context, t *Trade) (int64, error)
	UpdateTrade(ctx context.Context, t *Trade) error
	CreateTradeStep(ctx context.Context, s *TradeStep) (int64, error)
	GetTrade(ctx context.Context, id int64) (*Trade, error)
	ListTradeSteps(ctx context.Context, parentTradeID int64) ([]*TradeStep, error)
}

// MissedTradeStore appends MissedTrade rows.
type MissedTradeStore interface {
	RecordMissedTrade(ctx context.Context, m *MissedTrade) error
}

// LockStore persists AssetLock rows with serializable check-then-insert
// semantics.
type LockStore interface {
	FindActiveLock(ctx context.Context, coin string, now time.Time) (*AssetLock, error)
	AcquireLock(ctx context.Context, lock *AssetLock, now time.Time) error
	ReleaseLock(ctx context.Context, lockID, botID string) error
	ExtendLock(ctx context.Context, lockID, botID string, newExpiresAt time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	GetLock(ctx context.Context, lockID string) (*AssetLock, error)
}

// PriceHistoryStore appends PriceHistory rows.
type PriceHistoryStore interface {
	RecordPrice(ctx context.Context, p *PriceHistory) error
}

// LogStore appends structured log entries backing the decision-log
// query surface.
type LogStore interface {
	AppendLog(ctx context.Context, e *LogEntry) error
	QueryLogs(ctx context.Context, botID string, level string, limit int) ([]*LogEntry, error)
}
