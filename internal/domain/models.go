// Package domain holds the core record types and shared contracts of the
// rebalancer engine. Rows are plain data; behavior lives in the owning
// component packages (snapshot, deviation, lock, decision, executor).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LockStatus is the lifecycle state of an AssetLock.
type LockStatus string

const (
	LockStatusLocked   LockStatus = "locked"
	LockStatusReleased LockStatus = "released"
)

// TradeStatus is the lifecycle state of a Trade or TradeStep.
type TradeStatus string

const (
	TradeStatusInProgress TradeStatus = "in_progress"
	TradeStatusCompleted  TradeStatus = "completed"
	TradeStatusFailed     TradeStatus = "failed"
)

// PositionType mirrors the broker's buy/sell side vocabulary.
type PositionType string

const (
	PositionBuy  PositionType = "buy"
	PositionSell PositionType = "sell"
)

// MissedTradeReason enumerates the structured reason codes a MissedTrade
// row may carry.
type MissedTradeReason string

const (
	ReasonBelowThreshold      MissedTradeReason = "below_threshold"
	ReasonProgressProtection  MissedTradeReason = "progress_protection"
	ReasonInsufficientFunds   MissedTradeReason = "insufficient_funds"
	ReasonMinTradeAmount      MissedTradeReason = "min_trade_amount"
	ReasonAssetLocked         MissedTradeReason = "asset_locked"
	ReasonExchangeError       MissedTradeReason = "exchange_error"
	ReasonOther               MissedTradeReason = "other"
)

// Bot is the top-level configuration and runtime-state record for one
// rebalancing strategy.
type Bot struct {
	BotID    string
	UserID   string
	Name     string

	Coins                 []string
	InitialCoin           string
	CurrentCoin           *string
	ThresholdPercent      decimal.Decimal
	GlobalThresholdPercent decimal.Decimal
	CheckIntervalMinutes  int
	CommissionRate        decimal.Decimal
	PreferredStablecoin   string
	ReferenceCoin         string
	AllocationPercent     *decimal.Decimal
	ManualBudgetAmount    *decimal.Decimal
	UseTakeProfit         bool
	TakeProfitPercent     decimal.Decimal

	Enabled              bool
	LastCheckTime        *time.Time
	GlobalPeakValue      decimal.Decimal
	GlobalPeakValueInETH decimal.Decimal
	TotalCommissionsPaid decimal.Decimal
	AccountID            string
}

// HasCurrentCoin reports whether the bot holds an active position.
func (b *Bot) HasCurrentCoin() bool {
	return b.CurrentCoin != nil && *b.CurrentCoin != ""
}

// Asset is the bot's currently-held position in a single coin. Exactly one
// row exists per bot once a current coin is set.
type Asset struct {
	BotID                string
	Coin                 string
	Amount               decimal.Decimal
	EntryPrice           decimal.Decimal
	StablecoinEquivalent decimal.Decimal
	LastUpdated          time.Time
}

// CoinSnapshot is the baseline and re-entry guard for one (bot, coin) pair.
type CoinSnapshot struct {
	BotID              string
	Coin               string
	InitialPrice       decimal.Decimal
	SnapshotTimestamp  time.Time
	UnitsHeld          decimal.Decimal
	ETHEquivalentValue decimal.Decimal
	WasEverHeld        bool
	MaxUnitsReached    decimal.Decimal
}

// CoinUnitTracker records running units per (bot, coin), updated on every
// asset mutation.
type CoinUnitTracker struct {
	BotID       string
	Coin        string
	Units       decimal.Decimal
	LastUpdated time.Time
}

// CoinDeviation is an append-only log of a single candidate evaluation.
// It exists for dashboards; the engine never reads it back.
type CoinDeviation struct {
	ID               int64
	BotID            string
	BaseCoin         string
	TargetCoin       string
	BasePrice        decimal.Decimal
	TargetPrice      decimal.Decimal
	DeviationPercent decimal.Decimal
	Timestamp        time.Time
}

// Trade is a parent trade row with zero, one, or two TradeSteps.
type Trade struct {
	ID               int64
	BotID            string
	TradeID          *string // nullable placeholder until completion
	FromCoin         string
	ToCoin           string
	FromAmount       decimal.Decimal
	ToAmount         decimal.Decimal
	FromPrice        decimal.Decimal
	ToPrice          decimal.Decimal
	CommissionAmount decimal.Decimal
	CommissionRate   decimal.Decimal
	Status           TradeStatus
	ExecutedAt       time.Time
	CompletedAt      *time.Time
}

// TradeStep is one broker submission belonging to a parent Trade.
type TradeStep struct {
	ID               int64
	ParentTradeID    int64
	StepNumber       int // 1-based
	TradeID          string // broker id
	FromCoin         string
	ToCoin           string
	FromAmount       decimal.Decimal
	ToAmount         decimal.Decimal
	FromPrice        decimal.Decimal
	ToPrice          decimal.Decimal
	CommissionAmount decimal.Decimal
	CommissionRate   decimal.Decimal
	Status           TradeStatus
	ExecutedAt       time.Time
	CompletedAt      *time.Time
	RawData          string // JSON blob from broker
}

// MissedTrade is an append-only record of a candidate that scored
// favorably (a drop from its baseline) but failed an admission rule.
type MissedTrade struct {
	ID         int64
	BotID      string
	FromCoin   string
	ToCoin     string
	Reason     MissedTradeReason
	Context    string // free-form structured detail (JSON)
	ScoredAt   time.Time
}

// AssetLock is a leased claim over a (bot, coin) pair.
type AssetLock struct {
	LockID    string
	BotID     string
	Coin      string
	Amount    decimal.Decimal
	Reason    string
	Status    LockStatus
	ExpiresAt time.Time
}

// Held reports whether the lock currently prevents other bots from
// trading the same coin.
func (l *AssetLock) Held(now time.Time) bool {
	return l.Status == LockStatusLocked && l.ExpiresAt.After(now)
}

// PriceHistory is an append-only observation of a price read.
type PriceHistory struct {
	ID        int64
	BotID     string
	Coin      string
	Price     decimal.Decimal
	Source    string
	Timestamp time.Time
}

// BotResetEvent is an audit row written whenever a bot is reset.
type BotResetEvent struct {
	ID        int64
	BotID     string
	Reason    string
	ResetAt   time.Time
}

// LogEntry backs the decision-log query surface. Level is one of INFO,
// WARNING, ERROR, TRADE.
type LogEntry struct {
	ID        int64
	BotID     string
	Level     string
	Message   string
	Context   string // JSON
	CreatedAt time.Time
}
