// Package executor drives a chosen swap to completion: it acquires the
// asset lock, routes the broker through a direct or two-step (indirect)
// path, and records the parent trade and its steps.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/events"
	"github.com/coinrebalancer/engine/internal/lock"
	"github.com/coinrebalancer/engine/internal/snapshot"
)

const (
	tradeLockTTL   = 5 * time.Minute
	tradeAwaitWait = 45 * time.Second
)

// safetyMarginFactor is the 0.5% haircut applied when converting the
// indirect path's realized stablecoin output into second-leg units.
var safetyMarginFactor = decimal.NewFromFloat(0.995)

// Mode is the runtime execution mode, passed through the constructor
// rather than read from the environment at call time; tests override it
// by construction.
type Mode int

const (
	ModeLive Mode = iota
	ModeSimulate
)

// Outcome is the terminal result of one execute() call.
type Outcome struct {
	Trade      *domain.Trade
	Steps      []*domain.TradeStep
	Failed     bool
	FailureErr error
}

// Executor drives one swap to completion or failure.
type Executor struct {
	broker    domain.BrokerClient
	assets    domain.AssetStore
	trades    domain.TradeStore
	snapshots *snapshot.Manager
	locks     *lock.Manager
	bots      domain.BotStore
	mode      Mode
	log       zerolog.Logger
	now       func() time.Time
	events    *events.Manager
}

// New constructs an Executor. events may be nil, in which case decision
// outcomes are logged but not published to any subscriber.
func New(
	broker domain.BrokerClient, assets domain.AssetStore, trades domain.TradeStore,
	snapshots *snapshot.Manager, locks *lock.Manager, bots domain.BotStore,
	mode Mode, log zerolog.Logger, eventMgr *events.Manager,
) *Executor {
	return &Executor{
		broker: broker, assets: assets, trades: trades, snapshots: snapshots,
		locks: locks, bots: bots, mode: mode,
		log:    log.With().Str("component", "trade_executor").Logger(),
		now:    time.Now,
		events: eventMgr,
	}
}

// emit publishes a decision event if an event manager is wired.
func (x *Executor) emit(data events.EventData) {
	if x.events != nil {
		x.events.Emit("trade_executor", data)
	}
}

// Execute drives one swap from lock acquisition to completion or
// failure.
func (x *Executor) Execute(ctx context.Context, bot *domain.Bot, from, to string, commissionRate decimal.Decimal) (Outcome, error) {
	asset, err := x.assets.GetAsset(ctx, bot.BotID)
	if err != nil {
		return Outcome{}, err
	}
	if asset == nil || asset.Coin != from {
		return Outcome{}, domain.NewAssetMissing(bot.BotID, from)
	}

	canTrade, err := x.locks.CanTrade(ctx, bot.BotID, from, asset.Amount)
	if err != nil {
		return Outcome{}, err
	}
	if !canTrade.OK {
		if canTrade.Reason == "insufficient_funds" {
			return Outcome{}, domain.NewInsufficientFunds(fmt.Sprintf("bot %s cannot trade %s", bot.BotID, from))
		}
		return Outcome{}, domain.NewLockConflict(from, "")
	}

	heldLock, err := x.locks.Acquire(ctx, bot.BotID, from, asset.Amount, "trade_to_"+to, tradeLockTTL)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if releaseErr := x.locks.Release(ctx, heldLock.LockID, bot.BotID); releaseErr != nil {
			x.log.Warn().Err(releaseErr).Str("lock_id", heldLock.LockID).Msg("failed to release trade lock")
		}
	}()

	placeholder := placeholderTradeID(x.now())
	parent := &domain.Trade{
		BotID: bot.BotID, TradeID: &placeholder, FromCoin: from, ToCoin: to,
		FromAmount: asset.Amount, CommissionRate: commissionRate,
		Status: domain.TradeStatusInProgress, ExecutedAt: x.now(),
	}
	parentID, err := x.trades.CreateTrade(ctx, parent)
	if err != nil {
		return Outcome{}, err
	}
	parent.ID = parentID

	direct := from == bot.PreferredStablecoin || to == bot.PreferredStablecoin

	var steps []*domain.TradeStep
	var outErr error
	if direct {
		steps, outErr = x.executeDirect(ctx, bot, asset, parent, commissionRate)
	} else {
		steps, outErr = x.executeIndirect(ctx, bot, asset, parent, commissionRate)
	}

	if outErr != nil {
		parent.Status = domain.TradeStatusFailed
		if updErr := x.trades.UpdateTrade(ctx, parent); updErr != nil {
			x.log.Error().Err(updErr).Msg("failed to mark parent trade failed")
		}
		x.emit(&events.MissedTradeData{BotID: bot.BotID, FromCoin: from, ToCoin: to, Reason: outErr.Error()})
		return Outcome{Trade: parent, Steps: steps, Failed: true, FailureErr: outErr}, nil
	}

	if err := x.finalizeSuccess(ctx, bot, asset, parent, steps, to); err != nil {
		return Outcome{}, err
	}

	x.emit(&events.SwapDecisionData{BotID: bot.BotID, FromCoin: from, ToCoin: to, ParentTrade: parent.ID})
	return Outcome{Trade: parent, Steps: steps}, nil
}

// executeDirect handles the single-submission path: either side of the
// pair is the preferred stablecoin.
func (x *Executor) executeDirect(ctx context.Context, bot *domain.Bot, asset *domain.Asset, parent *domain.Trade, commissionRate decimal.Decimal) ([]*domain.TradeStep, error) {
	amount, err := x.cappedAmount(ctx, bot, asset)
	if err != nil {
		return nil, err
	}

	positionType := domain.PositionSell
	pair := asset.Coin + "_" + bot.PreferredStablecoin
	if asset.Coin == bot.PreferredStablecoin {
		positionType = domain.PositionBuy
		pair = parent.ToCoin + "_" + bot.PreferredStablecoin
	}

	status, err := x.submitAndAwait(ctx, bot, pair, positionType, amount, nil)
	if err != nil {
		return nil, err
	}

	step := x.buildStep(parent.ID, 1, parent.FromCoin, parent.ToCoin, amount, status, commissionRate)
	if _, ok := status.ResolvedAmount(); !ok {
		fb, fbErr := x.fallbackAmount(ctx, bot, parent.FromCoin, amount, parent.ToCoin, commissionRate)
		if fbErr != nil {
			return nil, fbErr
		}
		step.ToAmount = fb
		step.CommissionAmount = fb.Mul(commissionRate)
	}
	one := decimal.NewFromInt(1)
	if positionType == domain.PositionSell {
		// Selling into the stablecoin: the realized quote amount prices
		// the source coin.
		step.ToPrice = one
		if !amount.IsZero() {
			step.FromPrice = step.ToAmount.Div(amount)
		}
	} else {
		step.FromPrice = one
		if !step.ToAmount.IsZero() {
			step.ToPrice = amount.Div(step.ToAmount)
		}
	}
	stepID, err := x.trades.CreateTradeStep(ctx, step)
	if err != nil {
		return nil, err
	}
	step.ID = stepID
	return []*domain.TradeStep{step}, nil
}

// executeIndirect handles the two-step path through the preferred
// stablecoin: sell into the stablecoin, then buy the target.
func (x *Executor) executeIndirect(ctx context.Context, bot *domain.Bot, asset *domain.Asset, parent *domain.Trade, commissionRate decimal.Decimal) ([]*domain.TradeStep, error) {
	amount, err := x.cappedAmount(ctx, bot, asset)
	if err != nil {
		return nil, err
	}

	pair1 := parent.FromCoin + "_" + bot.PreferredStablecoin
	status1, err := x.submitAndAwait(ctx, bot, pair1, domain.PositionSell, amount, nil)
	if err != nil {
		return nil, fmt.Errorf("step 1 (%s): %w", pair1, err)
	}
	step1 := x.buildStep(parent.ID, 1, parent.FromCoin, bot.PreferredStablecoin, amount, status1, commissionRate)
	if _, ok := status1.ResolvedAmount(); !ok {
		fb, fbErr := x.fallbackAmount(ctx, bot, parent.FromCoin, amount, bot.PreferredStablecoin, commissionRate)
		if fbErr != nil {
			return nil, fmt.Errorf("step 1 (%s): %w", pair1, fbErr)
		}
		step1.ToAmount = fb
		step1.CommissionAmount = fb.Mul(commissionRate)
	}
	step1.ToPrice = decimal.NewFromInt(1)
	if !amount.IsZero() {
		step1.FromPrice = step1.ToAmount.Div(amount)
	}
	step1ID, err := x.trades.CreateTradeStep(ctx, step1)
	if err != nil {
		return nil, err
	}
	step1.ID = step1ID

	stableOut := step1.ToAmount

	priceTo, err := x.broker.GetMarketRate(ctx, parent.ToCoin, bot.PreferredStablecoin)
	if err != nil {
		return []*domain.TradeStep{step1}, fmt.Errorf("fetch price for step 2: %w", err)
	}
	unitsTo := stableOut.Div(priceTo.Value).Mul(safetyMarginFactor)

	forced := domain.PositionBuy
	pair2 := parent.ToCoin + "_" + bot.PreferredStablecoin
	status2, err := x.submitAndAwait(ctx, bot, pair2, domain.PositionBuy, unitsTo, &forced)
	if err != nil {
		return []*domain.TradeStep{step1}, fmt.Errorf("step 2 (%s): %w", pair2, err)
	}
	step2 := x.buildStep(parent.ID, 2, bot.PreferredStablecoin, parent.ToCoin, unitsTo, status2, commissionRate)
	if _, ok := status2.ResolvedAmount(); !ok {
		// to_price is already in hand; the stablecoin spent is step 1's
		// realized output.
		commission := stableOut.Mul(commissionRate)
		step2.ToAmount = stableOut.Sub(commission).Div(priceTo.Value)
		step2.CommissionAmount = commission
	}
	step2.FromPrice = decimal.NewFromInt(1)
	step2.ToPrice = priceTo.Value
	step2ID, err := x.trades.CreateTradeStep(ctx, step2)
	if err != nil {
		return []*domain.TradeStep{step1}, err
	}
	step2.ID = step2ID

	return []*domain.TradeStep{step1, step2}, nil
}

// fallbackAmount is the last resort of the amount-resolution
// precedence, used when the broker response carries no usable amount
// field: (from_value_stable - commission) / to_price. Prices for the
// non-stablecoin sides are fetched fresh from the broker.
func (x *Executor) fallbackAmount(ctx context.Context, bot *domain.Bot, fromCoin string, fromAmount decimal.Decimal, toCoin string, commissionRate decimal.Decimal) (decimal.Decimal, error) {
	fromValueStable := fromAmount
	if fromCoin != bot.PreferredStablecoin {
		rate, err := x.broker.GetMarketRate(ctx, fromCoin, bot.PreferredStablecoin)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("fallback amount: price %s: %w", fromCoin, err)
		}
		fromValueStable = fromAmount.Mul(rate.Value)
	}

	toPrice := decimal.NewFromInt(1)
	if toCoin != bot.PreferredStablecoin {
		rate, err := x.broker.GetMarketRate(ctx, toCoin, bot.PreferredStablecoin)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("fallback amount: price %s: %w", toCoin, err)
		}
		toPrice = rate.Value
	}

	commission := fromValueStable.Mul(commissionRate)
	return fromValueStable.Sub(commission).Div(toPrice), nil
}

// cappedAmount caps the traded amount at
// min(asset.amount, live_balance, manual_budget_amount_in_coin_units?).
func (x *Executor) cappedAmount(ctx context.Context, bot *domain.Bot, asset *domain.Asset) (decimal.Decimal, error) {
	amount := asset.Amount

	if x.mode == ModeSimulate {
		return amount, nil
	}

	balances, err := x.broker.GetAccountBalances(ctx, bot.AccountID)
	if err != nil {
		return decimal.Decimal{}, domain.NewBrokerError(0, "fetch live balances", err)
	}
	for _, b := range balances {
		if b.Coin == asset.Coin && b.Amount.LessThan(amount) {
			amount = b.Amount
		}
	}

	if bot.ManualBudgetAmount != nil && bot.ManualBudgetAmount.LessThan(amount) {
		amount = *bot.ManualBudgetAmount
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, domain.NewInsufficientFunds(fmt.Sprintf("no tradeable balance of %s", asset.Coin))
	}
	return amount, nil
}

func (x *Executor) submitAndAwait(ctx context.Context, bot *domain.Bot, pair string, positionType domain.PositionType, amount decimal.Decimal, forced *domain.PositionType) (domain.BrokerTradeStatus, error) {
	if x.mode == ModeSimulate {
		return x.simulateTrade(ctx, bot, pair, positionType, amount)
	}

	var takeProfit *decimal.Decimal
	if bot.UseTakeProfit {
		tp := bot.TakeProfitPercent
		takeProfit = &tp
	}

	handle, err := x.broker.SubmitMarketTrade(ctx, domain.SubmitTradeRequest{
		AccountID: bot.AccountID, Pair: pair, PositionType: positionType, Amount: amount,
		TakeProfitPercent: takeProfit, Demo: x.mode == ModeSimulate, ForcedPositionType: forced,
	})
	if err != nil {
		return domain.BrokerTradeStatus{}, err
	}

	status, err := x.broker.AwaitTradeCompletion(ctx, handle, tradeAwaitWait)
	if err != nil {
		return domain.BrokerTradeStatus{}, err
	}
	if !status.Status.IsTerminal() {
		return status, domain.NewTradeTimeout(fmt.Sprintf("trade %s did not reach a terminal status", handle.TradeID))
	}
	if status.Status == domain.BrokerStatusFailed || status.Status == domain.BrokerStatusCancelled {
		return status, domain.NewBrokerError(0, fmt.Sprintf("broker reported trade %s as %s", handle.TradeID, status.Status), nil)
	}
	return status, nil
}

// simulateTrade computes the leg's output analytically instead of
// submitting to the broker: a sell realizes amount times the market rate in the quote
// currency, a buy realizes the requested base units.
func (x *Executor) simulateTrade(ctx context.Context, bot *domain.Bot, pair string, positionType domain.PositionType, amount decimal.Decimal) (domain.BrokerTradeStatus, error) {
	out := amount
	if positionType == domain.PositionSell {
		base := strings.TrimSuffix(pair, "_"+bot.PreferredStablecoin)
		rate, err := x.broker.GetMarketRate(ctx, base, bot.PreferredStablecoin)
		if err != nil {
			return domain.BrokerTradeStatus{}, err
		}
		out = amount.Mul(rate.Value)
	}
	x.log.Info().Str("pair", pair).Str("position", string(positionType)).Str("amount", amount.String()).Msg("simulated trade, no broker submission")
	return domain.BrokerTradeStatus{
		Status:       domain.BrokerStatusCompleted,
		RawStatus:    string(domain.BrokerStatusCompleted),
		TradeID:      "sim-" + strconv.FormatInt(x.now().UnixNano(), 10),
		EnteredTotal: &out,
		RawData:      "{}",
		ObservedAt:   x.now(),
	}, nil
}

func (x *Executor) buildStep(parentID int64, stepNumber int, fromCoin, toCoin string, fromAmount decimal.Decimal, status domain.BrokerTradeStatus, commissionRate decimal.Decimal) *domain.TradeStep {
	toAmount, _ := status.ResolvedAmount()
	now := x.now()
	return &domain.TradeStep{
		ParentTradeID: parentID, StepNumber: stepNumber, TradeID: status.TradeID,
		FromCoin: fromCoin, ToCoin: toCoin, FromAmount: fromAmount, ToAmount: toAmount,
		CommissionAmount: toAmount.Mul(commissionRate), CommissionRate: commissionRate,
		Status:     domain.TradeStatusCompleted,
		ExecutedAt: now, CompletedAt: &now, RawData: status.RawData,
	}
}

// finalizeSuccess records the completed trade, replaces the asset, and
// advances the bot's current coin and peak value.
func (x *Executor) finalizeSuccess(ctx context.Context, bot *domain.Bot, oldAsset *domain.Asset, parent *domain.Trade, steps []*domain.TradeStep, to string) error {
	now := x.now()

	var tradeID string
	var totalCommission decimal.Decimal
	var toAmount decimal.Decimal
	if len(steps) == 1 {
		tradeID = steps[0].TradeID
		toAmount = steps[0].ToAmount
		totalCommission = steps[0].CommissionAmount
	} else {
		tradeID = steps[0].TradeID + "-" + steps[1].TradeID
		toAmount = steps[1].ToAmount
		totalCommission = steps[0].CommissionAmount.Add(steps[1].CommissionAmount)
	}

	parent.TradeID = &tradeID
	parent.ToAmount = toAmount
	parent.CommissionAmount = totalCommission
	parent.Status = domain.TradeStatusCompleted
	parent.CompletedAt = &now
	if err := x.trades.UpdateTrade(ctx, parent); err != nil {
		return err
	}

	newAsset := &domain.Asset{
		BotID: bot.BotID, Coin: to, Amount: toAmount, LastUpdated: now,
	}
	if err := x.assets.ReplaceAsset(ctx, bot.BotID, newAsset); err != nil {
		return err
	}

	var toPrice decimal.Decimal
	if len(steps) == 1 {
		toPrice = steps[0].ToPrice
	} else {
		toPrice = steps[1].ToPrice
	}
	if err := x.snapshots.RecordUnits(ctx, bot.BotID, to, toAmount, toPrice); err != nil {
		return err
	}

	netStablecoinValue := toAmount.Mul(toPrice)
	bot.CurrentCoin = &to
	if netStablecoinValue.GreaterThan(bot.GlobalPeakValue) {
		bot.GlobalPeakValue = netStablecoinValue
	}
	bot.TotalCommissionsPaid = bot.TotalCommissionsPaid.Add(totalCommission)
	return x.bots.UpdateBot(ctx, bot)
}

// placeholderTradeID is the parent row's pre-completion trade_id. It is
// never a stable identifier; completion overwrites it with the joined
// step ids.
func placeholderTradeID(ts time.Time) string {
	return "parent-" + strconv.FormatInt(ts.UnixNano(), 10)
}
