package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/decision"
	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/events"
	"github.com/coinrebalancer/engine/internal/executor"
	"github.com/coinrebalancer/engine/internal/oracle"
	"github.com/coinrebalancer/engine/internal/snapshot"
	"github.com/coinrebalancer/engine/pkg/logger"
)

// EngineTick implements TickRunner: one evaluation pass per bot.
// Prices are fetched for the whole basket first, missing baselines are
// then created from them, candidates are scored, and the chosen swap
// (if any) is executed and recorded.
type EngineTick struct {
	Bots      domain.BotStore
	Assets    domain.AssetStore
	Snapshots *snapshot.Manager
	Oracle    *oracle.Oracle
	Decisions *decision.Engine
	Executor  *executor.Executor
	Broker    domain.BrokerClient
	Strategy  oracle.Strategy
	Events    *events.Manager
	Missed    domain.MissedTradeStore
	Log       zerolog.Logger
}

// Tick runs one complete evaluation for botID. Every tick updates
// bot.last_check_time unconditionally, even on error.
func (t *EngineTick) Tick(ctx context.Context, botID string) error {
	bot, err := t.Bots.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if bot == nil {
		return domain.NewConfigMissing("bot not found: " + botID)
	}

	defer func() {
		now := time.Now()
		bot.LastCheckTime = &now
		if uErr := t.Bots.UpdateBot(ctx, bot); uErr != nil {
			t.Log.Error().Err(uErr).Str("bot_id", botID).Msg("failed to stamp last_check_time")
		}
	}()

	prices, err := t.fetchAllPrices(ctx, bot)
	if err != nil {
		t.Log.Warn().Err(err).Str("bot_id", botID).Msg("price fetch encountered an error")
	}

	if err := t.Snapshots.EnsureBaselines(ctx, bot, prices); err != nil {
		return err
	}

	commissionRate := bot.CommissionRate
	if bot.AccountID != "" {
		if rates, err := t.Broker.GetCommissionRates(ctx, bot.AccountID); err == nil {
			commissionRate = rates.Taker
		}
	}

	asset, err := t.Assets.GetAsset(ctx, bot.BotID)
	if err != nil {
		return err
	}

	decisionResult, err := t.Decisions.Evaluate(ctx, bot, prices, asset, commissionRate)
	if err != nil {
		return err
	}

	switch decisionResult.Kind {
	case decision.DecisionNoOp:
		logger.Trade(t.Log).Str("bot_id", botID).Str("decision", "no_op").Str("reason", decisionResult.Reason).Msg("tick decision")
		if t.Events != nil {
			current := ""
			if bot.CurrentCoin != nil {
				current = *bot.CurrentCoin
			}
			thresholdPct, _ := bot.ThresholdPercent.Float64()
			t.Events.Emit("bot_scheduler", &events.NoOpDecisionData{
				BotID: botID, CurrentCoin: current, ThresholdPct: thresholdPct,
			})
		}
		return nil
	case decision.DecisionSwap:
		logger.Trade(t.Log).Str("bot_id", botID).Str("decision", "swap").
			Str("from", decisionResult.From).Str("to", decisionResult.To).
			Str("score", decisionResult.Score.String()).Msg("tick decision")
		outcome, err := t.Executor.Execute(ctx, bot, decisionResult.From, decisionResult.To, commissionRate)
		if err != nil {
			// Lock contention and balance drift are NoOp outcomes of a
			// tick, not schedule-level failures.
			switch domain.KindOf(err) {
			case domain.KindLockConflict:
				t.recordMissed(ctx, bot.BotID, decisionResult.From, decisionResult.To, domain.ReasonAssetLocked)
				if t.Events != nil {
					t.Events.Emit("bot_scheduler", &events.LockConflictData{BotID: bot.BotID, Coin: decisionResult.From})
				}
				logger.Trade(t.Log).Str("bot_id", botID).Str("decision", "no_op").Str("reason", "asset_locked").Msg("tick decision")
				return nil
			case domain.KindInsufficientFunds:
				t.recordMissed(ctx, bot.BotID, decisionResult.From, decisionResult.To, domain.ReasonInsufficientFunds)
				logger.Trade(t.Log).Str("bot_id", botID).Str("decision", "no_op").Str("reason", "insufficient_funds").Msg("tick decision")
				return nil
			}
			return err
		}
		if outcome.Failed {
			t.Log.Error().Err(outcome.FailureErr).Str("bot_id", botID).Msg("trade execution failed")
		}
		return nil
	}
	return nil
}

// Reset clears a bot's baselines and peak value, writing an audit row.
// Snapshots are deleted, not mutated; the next tick's EnsureBaselines
// re-creates them at then-current prices.
func (t *EngineTick) Reset(ctx context.Context, botID, reason string) error {
	bot, err := t.Bots.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if bot == nil {
		return domain.NewConfigMissing("bot not found: " + botID)
	}

	if err := t.Snapshots.Reset(ctx, botID); err != nil {
		return err
	}

	bot.GlobalPeakValue = decimal.Zero
	bot.GlobalPeakValueInETH = decimal.Zero
	if err := t.Bots.UpdateBot(ctx, bot); err != nil {
		return err
	}

	if err := t.Bots.RecordReset(ctx, &domain.BotResetEvent{BotID: botID, Reason: reason, ResetAt: time.Now()}); err != nil {
		return err
	}
	if t.Events != nil {
		t.Events.Emit("bot_scheduler", &events.BotResetTriggeredData{BotID: botID, Reason: reason})
	}
	t.Log.Info().Str("bot_id", botID).Str("reason", reason).Msg("bot reset")
	return nil
}

func (t *EngineTick) recordMissed(ctx context.Context, botID, from, to string, reason domain.MissedTradeReason) {
	if t.Missed == nil {
		return
	}
	if err := t.Missed.RecordMissedTrade(ctx, &domain.MissedTrade{
		BotID: botID, FromCoin: from, ToCoin: to, Reason: reason, Context: "{}", ScoredAt: time.Now(),
	}); err != nil {
		t.Log.Warn().Err(err).Str("bot_id", botID).Msg("failed to record missed trade")
	}
}

func (t *EngineTick) fetchAllPrices(ctx context.Context, bot *domain.Bot) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(bot.Coins))
	var firstErr error
	for _, coin := range bot.Coins {
		price, _, err := t.Oracle.GetPrice(ctx, t.Strategy, bot.BotID, coin, bot.PreferredStablecoin)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		prices[coin] = price
	}
	return prices, firstErr
}
