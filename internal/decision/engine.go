// Package decision scores every candidate coin against the
// currently-held coin and selects the best admissible swap, subject to
// global progress protection. Per-candidate evaluation runs
// concurrently.
package decision

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/deviation"
	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/snapshot"
)

// DecisionKind distinguishes the two Decision variants.
type DecisionKind string

const (
	DecisionNoOp DecisionKind = "no_op"
	DecisionSwap DecisionKind = "swap"
)

// Decision is the outcome of one evaluate() call.
type Decision struct {
	Kind   DecisionKind
	Reason string // set for NoOp

	From    string
	To      string
	Score   decimal.Decimal
	Metrics deviation.Metrics
}

// candidateResult is one coin's evaluated metrics and score, produced
// concurrently by evaluateCandidates.
type candidateResult struct {
	coin    string
	metrics deviation.Metrics
	score   deviation.ScoreDetails
}

// Engine evaluates bots against observed prices.
type Engine struct {
	snapshots *snapshot.Manager
	missed    domain.MissedTradeStore
	devs      domain.DeviationStore
	log       zerolog.Logger
}

// New constructs an Engine. devs may be nil, in which case candidate
// evaluations are not mirrored into the coin_deviations dashboard log.
func New(snapshots *snapshot.Manager, missed domain.MissedTradeStore, devs domain.DeviationStore, log zerolog.Logger) *Engine {
	return &Engine{snapshots: snapshots, missed: missed, devs: devs, log: log.With().Str("component", "swap_decision_engine").Logger()}
}

// Evaluate implements evaluate(bot, prices) -> Decision.
func (e *Engine) Evaluate(ctx context.Context, bot *domain.Bot, prices map[string]decimal.Decimal, asset *domain.Asset, commissionRate decimal.Decimal) (Decision, error) {
	if !bot.HasCurrentCoin() {
		return Decision{Kind: DecisionNoOp, Reason: "no_current_coin"}, nil
	}
	currentCoin := *bot.CurrentCoin

	priceHeldNow, ok := prices[currentCoin]
	if !ok {
		return Decision{Kind: DecisionNoOp, Reason: "price_unavailable"}, nil
	}

	initialPrices, err := e.snapshots.InitialPrices(ctx, bot.BotID)
	if err != nil {
		return Decision{}, err
	}
	priceHeldBaseline, ok := initialPrices[currentCoin]
	if !ok {
		return Decision{Kind: DecisionNoOp, Reason: "no_baseline"}, nil
	}

	results, err := e.evaluateCandidates(ctx, bot, prices, initialPrices, asset, priceHeldNow, priceHeldBaseline)
	if err != nil {
		return Decision{}, err
	}

	e.recordDeviations(ctx, bot.BotID, currentCoin, priceHeldNow, prices, results)

	best, anyFavorablyScored := pickBest(bot.Coins, results)

	if best == nil {
		if anyFavorablyScored {
			e.recordMissed(ctx, bot.BotID, currentCoin, "", domain.ReasonBelowThreshold, nil)
		}
		return Decision{Kind: DecisionNoOp, Reason: "below_threshold"}, nil
	}

	// Global progress protection: never swap below the retained share
	// of the peak value.
	netValue := asset.Amount.Mul(priceHeldNow).Mul(decimal.NewFromInt(1).Sub(commissionRate))
	if bot.GlobalPeakValue.GreaterThan(decimal.Zero) {
		minAcceptable := bot.GlobalPeakValue.Mul(decimal.NewFromInt(1).Sub(bot.GlobalThresholdPercent.Div(decimal.NewFromInt(100))))
		if netValue.LessThan(minAcceptable) {
			e.recordMissed(ctx, bot.BotID, currentCoin, best.coin, domain.ReasonProgressProtection, map[string]interface{}{
				"net_value": netValue, "min_acceptable": minAcceptable,
			})
			return Decision{Kind: DecisionNoOp, Reason: "progress_protection"}, nil
		}
	}

	return Decision{
		Kind:    DecisionSwap,
		From:    currentCoin,
		To:      best.coin,
		Score:   best.score.Score,
		Metrics: best.metrics,
	}, nil
}

func (e *Engine) evaluateCandidates(
	ctx context.Context, bot *domain.Bot, prices, initialPrices map[string]decimal.Decimal,
	asset *domain.Asset, priceHeldNow, priceHeldBaseline decimal.Decimal,
) ([]candidateResult, error) {
	currentCoin := *bot.CurrentCoin

	type job struct {
		coin string
	}
	jobs := make([]job, 0, len(bot.Coins))
	for _, c := range bot.Coins {
		if c != currentCoin {
			jobs = append(jobs, job{coin: c})
		}
	}

	resultCh := make(chan *candidateResult, len(jobs))
	var wg sync.WaitGroup

	for _, j := range jobs {
		j := j
		priceCandNow, ok := prices[j.coin]
		if !ok {
			e.log.Warn().Str("coin", j.coin).Msg("price missing for candidate, skipping")
			resultCh <- nil
			continue
		}
		priceCandBaseline, ok := initialPrices[j.coin]
		if !ok {
			resultCh <- nil
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			maxUnits, everHeld, err := e.snapshots.MaxUnitsReached(ctx, bot.BotID, j.coin)
			if err != nil {
				e.log.Warn().Err(err).Str("coin", j.coin).Msg("failed to load snapshot, skipping candidate")
				resultCh <- nil
				return
			}
			m := deviation.Compute(deviation.Inputs{
				PriceHeldNow:             priceHeldNow,
				PriceHeldBaseline:        priceHeldBaseline,
				PriceCandNow:             priceCandNow,
				PriceCandBaseline:        priceCandBaseline,
				AmountHeld:               asset.Amount,
				MaxUnitsReachedCandidate: maxUnits,
				CandidateEverHeld:        everHeld,
			})
			score := deviation.ScoreCandidate(m, bot.ThresholdPercent)
			resultCh <- &candidateResult{coin: j.coin, metrics: m, score: score}
		}()
	}

	go func() {
		wg.Wait()
	}()

	results := make([]candidateResult, 0, len(jobs))
	received := 0
	for received < len(jobs) {
		r := <-resultCh
		received++
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// pickBest applies the tie-break: among candidates that
// meet threshold, the highest base_score wins; ties prefer the earlier
// position in the bot's configured coin list.
//
// The second return reports whether any candidate scored favorably — a
// negative base_score, the drop-from-baseline direction the engine
// actually buys into — without being admitted. Only those near-misses
// warrant a MissedTrade row; candidates whose price merely rose are
// never buy-worthy and are not misses.
func pickBest(coinOrder []string, results []candidateResult) (*candidateResult, bool) {
	position := make(map[string]int, len(coinOrder))
	for i, c := range coinOrder {
		position[c] = i
	}

	anyFavorablyScored := false
	var best *candidateResult
	for i := range results {
		r := &results[i]
		if r.score.BaseScore.IsNegative() && !r.score.MeetsThreshold {
			anyFavorablyScored = true
		}
		if !r.score.MeetsThreshold {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if r.score.BaseScore.GreaterThan(best.score.BaseScore) {
			best = r
		} else if r.score.BaseScore.Equal(best.score.BaseScore) && position[r.coin] < position[best.coin] {
			best = r
		}
	}
	return best, anyFavorablyScored
}

// recordDeviations mirrors every candidate evaluation into the
// append-only coin_deviations log. The engine never reads these rows
// back; they exist for the dashboard surface only, so write failures
// are logged and swallowed.
func (e *Engine) recordDeviations(ctx context.Context, botID, baseCoin string, basePrice decimal.Decimal, prices map[string]decimal.Decimal, results []candidateResult) {
	if e.devs == nil {
		return
	}
	now := time.Now()
	for i := range results {
		r := &results[i]
		if err := e.devs.RecordDeviation(ctx, &domain.CoinDeviation{
			BotID:            botID,
			BaseCoin:         baseCoin,
			TargetCoin:       r.coin,
			BasePrice:        basePrice,
			TargetPrice:      prices[r.coin],
			DeviationPercent: r.metrics.RelativeDeviation.Mul(decimal.NewFromInt(100)),
			Timestamp:        now,
		}); err != nil {
			e.log.Warn().Err(err).Str("coin", r.coin).Msg("failed to record coin deviation")
		}
	}
}

func (e *Engine) recordMissed(ctx context.Context, botID, from, to string, reason domain.MissedTradeReason, context_ map[string]interface{}) {
	if e.missed == nil {
		return
	}
	ctxJSON := "{}"
	if context_ != nil {
		if b, err := json.Marshal(context_); err == nil {
			ctxJSON = string(b)
		}
	}
	if err := e.missed.RecordMissedTrade(ctx, &domain.MissedTrade{
		BotID: botID, FromCoin: from, ToCoin: to, Reason: reason, Context: ctxJSON, ScoredAt: time.Now(),
	}); err != nil {
		e.log.Warn().Err(err).Msg("failed to record missed trade")
	}
}
