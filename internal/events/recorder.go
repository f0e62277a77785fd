package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

// Recorder subscribes to the decision-event bus and persists every
// event as a TRADE-level log_entries row, which is what the
// decision-log query endpoint reads (the REST layer never subscribes
// to the bus directly).
type Recorder struct {
	store domain.LogStore
	log   zerolog.Logger
}

// NewRecorder builds a Recorder over the given log store.
func NewRecorder(store domain.LogStore, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With().Str("component", "event_recorder").Logger()}
}

// Run consumes events from mgr until ctx is cancelled. It is intended
// to run as a goroutine started at process boot.
func (r *Recorder) Run(ctx context.Context, mgr *Manager) {
	ch, unsubscribe := mgr.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.persist(ctx, ev)
		}
	}
}

func (r *Recorder) persist(ctx context.Context, ev *Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		r.log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event payload")
		payload = []byte("{}")
	}
	entry := &domain.LogEntry{
		BotID:     botIDOf(ev.Data),
		Level:     "TRADE",
		Message:   string(ev.Type),
		Context:   string(payload),
		CreatedAt: ev.Timestamp,
	}
	if err := r.store.AppendLog(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("failed to persist decision event")
	}
}

func botIDOf(data EventData) string {
	switch d := data.(type) {
	case *NoOpDecisionData:
		return d.BotID
	case *SwapDecisionData:
		return d.BotID
	case *MissedTradeData:
		return d.BotID
	case *LockConflictData:
		return d.BotID
	case *TradeStepResultData:
		return d.BotID
	case *BotResetTriggeredData:
		return d.BotID
	default:
		return ""
	}
}
