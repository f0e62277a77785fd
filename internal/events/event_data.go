// Package events implements the in-process decision-trace bus: every
// tick the Swap Decision Engine and Trade Executor record what they
// decided (NoOp, Swap, MissedTrade, LockConflict) as a typed event.
// The Manager both logs these at TRADE level and fans them out to any
// subscriber (the Recorder is the subscriber that persists them to
// log_entries, which the decision-log HTTP endpoint queries).
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of decision event emitted during a tick.
type EventType string

const (
	NoOpDecision     EventType = "NOOP_DECISION"
	SwapDecision     EventType = "SWAP_DECISION"
	MissedTrade      EventType = "MISSED_TRADE"
	LockConflict     EventType = "LOCK_CONFLICT"
	TradeStepResult  EventType = "TRADE_STEP_RESULT"
	BotResetTriggered EventType = "BOT_RESET_TRIGGERED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// EventData is implemented by every typed payload carried on the bus.
type EventData interface {
	EventType() EventType
}

// NoOpDecisionData records a tick that evaluated candidates and found
// none eligible for a swap.
type NoOpDecisionData struct {
	BotID        string  `json:"bot_id"`
	CurrentCoin  string  `json:"current_coin"`
	BestScore    float64 `json:"best_score"`
	ThresholdPct float64 `json:"threshold_percent"`
}

func (d *NoOpDecisionData) EventType() EventType { return NoOpDecision }

// SwapDecisionData records a tick that admitted a candidate and
// initiated a swap.
type SwapDecisionData struct {
	BotID       string  `json:"bot_id"`
	FromCoin    string  `json:"from_coin"`
	ToCoin      string  `json:"to_coin"`
	Score       float64 `json:"score"`
	ParentTrade int64   `json:"parent_trade_id"`
}

func (d *SwapDecisionData) EventType() EventType { return SwapDecision }

// MissedTradeData records a tick that admitted a candidate but could
// not execute it (broker error, lock conflict upstream, insufficient
// balance).
type MissedTradeData struct {
	BotID    string `json:"bot_id"`
	FromCoin string `json:"from_coin"`
	ToCoin   string `json:"to_coin"`
	Reason   string `json:"reason"`
}

func (d *MissedTradeData) EventType() EventType { return MissedTrade }

// LockConflictData records an asset lock contention event.
type LockConflictData struct {
	BotID string `json:"bot_id"`
	Coin  string `json:"coin"`
}

func (d *LockConflictData) EventType() EventType { return LockConflict }

// TradeStepResultData records the outcome of a single leg of a
// (possibly two-hop) swap.
type TradeStepResultData struct {
	BotID      string `json:"bot_id"`
	StepNumber int    `json:"step_number"`
	TradeID    string `json:"trade_id"`
	Status     string `json:"status"`
}

func (d *TradeStepResultData) EventType() EventType { return TradeStepResult }

// BotResetTriggeredData records an automatic reset-to-initial-coin event.
type BotResetTriggeredData struct {
	BotID  string `json:"bot_id"`
	Reason string `json:"reason"`
}

func (d *BotResetTriggeredData) EventType() EventType { return BotResetTriggered }

// ErrorEventData carries an unexpected tick-level failure.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// Event pairs a typed payload with the envelope fields needed for
// logging and streaming: when it happened, which bot/service emitted
// it, and its wire-serializable data.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON flattens Data into its own JSON field rather than
// marshaling the interface value directly.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}
	return json.Marshal(aux)
}
