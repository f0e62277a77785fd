package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one tradeable account reported by the exchange broker.
type Account struct {
	AccountID string
	Name      string
	Currency  string
}

// AccountBalance is a non-zero balance entry for one coin held in an
// account, as reported by list_accounts/get_account_balances.
type AccountBalance struct {
	Coin        string
	Amount      decimal.Decimal
	AmountInUSD decimal.Decimal
}

// Price is a best-effort market rate quote for a base/quote pair.
type Price struct {
	Base  string
	Quote string
	Value decimal.Decimal
}

// CommissionRates carries the maker/taker rates reported for an account,
// or defaults when the exchange does not expose them.
type CommissionRates struct {
	Maker  decimal.Decimal
	Taker  decimal.Decimal
	Source CommissionSource
}

// CommissionSource records where a CommissionRates value came from.
type CommissionSource string

const (
	CommissionSourceAPI         CommissionSource = "api"
	CommissionSourceAccountInfo CommissionSource = "account_info"
	CommissionSourceDefault     CommissionSource = "default"
)

// DefaultMakerRate and DefaultTakerRate are used when the broker exposes
// no commission information at all.
var (
	DefaultMakerRate = decimal.NewFromFloat(0.001)
	DefaultTakerRate = decimal.NewFromFloat(0.002)
)

// TradeHandle identifies a submitted broker trade awaiting completion.
type TradeHandle struct {
	TradeID   string
	AccountID string
}

// TradeStatusValue is the broker-reported state of a submitted trade.
type TradeStatusValue string

const (
	BrokerStatusInProgress TradeStatusValue = "in_progress"
	BrokerStatusCompleted  TradeStatusValue = "completed"
	BrokerStatusClosed     TradeStatusValue = "closed"
	BrokerStatusDone       TradeStatusValue = "done"
	BrokerStatusFinished   TradeStatusValue = "finished"
	BrokerStatusCancelled  TradeStatusValue = "cancelled"
	BrokerStatusFailed     TradeStatusValue = "failed"
)

// IsTerminal reports whether the status ends an await-completion poll.
func (s TradeStatusValue) IsTerminal() bool {
	switch s {
	case BrokerStatusCompleted, BrokerStatusClosed, BrokerStatusDone,
		BrokerStatusFinished, BrokerStatusCancelled, BrokerStatusFailed:
		return true
	default:
		return false
	}
}

// BrokerTradeStatus is the full poll result for a submitted trade,
// carrying every field the executor's amount-resolution precedence may
// need.
type BrokerTradeStatus struct {
	Status      TradeStatusValue
	RawStatus   string // the raw broker status string, for logging
	TradeID     string
	EnteredTotal  *decimal.Decimal
	EnteredAmount *decimal.Decimal
	PositionTotalValue *decimal.Decimal
	PositionDoneQuantity *decimal.Decimal
	PositionDoneAveragePrice *decimal.Decimal
	PositionQuantity *decimal.Decimal
	PositionUnits *decimal.Decimal
	RawData     string
	ObservedAt  time.Time
}

// ResolvedAmount applies the amount resolution precedence:
// the first non-null field wins. When every field is absent it reports
// false and the executor computes the last-resort estimate
// (from_value_stable - commission) / to_price instead.
func (s *BrokerTradeStatus) ResolvedAmount() (decimal.Decimal, bool) {
	if s.EnteredTotal != nil {
		return *s.EnteredTotal, true
	}
	if s.EnteredAmount != nil {
		return *s.EnteredAmount, true
	}
	if s.PositionTotalValue != nil {
		return *s.PositionTotalValue, true
	}
	if s.PositionDoneQuantity != nil && s.PositionDoneAveragePrice != nil {
		return s.PositionDoneQuantity.Mul(*s.PositionDoneAveragePrice), true
	}
	if s.PositionQuantity != nil {
		return *s.PositionQuantity, true
	}
	if s.PositionUnits != nil {
		return *s.PositionUnits, true
	}
	return decimal.Zero, false
}

// SubmitTradeRequest is the input to submit_market_trade.
type SubmitTradeRequest struct {
	AccountID          string
	Pair               string // BASE_QUOTE
	PositionType       PositionType
	Amount             decimal.Decimal
	TakeProfitPercent  *decimal.Decimal
	Demo               bool
	ForcedPositionType *PositionType
}
