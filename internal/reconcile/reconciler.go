// Package reconcile compares bot-tracked Asset rows against
// broker-reported balances on demand. Reconciliation is advisory: it
// emits discrepancy records classified by severity and never writes to
// the asset table itself. An operator acts on the output.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
)

// Severity classifies a discrepancy by percent divergence.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Divergence bands. Below lowBand the row is considered reconciled
// (broker dust and rounding accumulate across trades).
var (
	lowBand    = decimal.NewFromFloat(0.005) // 0.5%
	mediumBand = decimal.NewFromFloat(0.02)  // 2%
	highBand   = decimal.NewFromFloat(0.10)  // 10%
)

// Discrepancy is one (bot, coin) divergence between tracked and actual
// balances.
type Discrepancy struct {
	BotID          string          `json:"bot_id"`
	Coin           string          `json:"coin"`
	TrackedAmount  decimal.Decimal `json:"tracked_amount"`
	BrokerAmount   decimal.Decimal `json:"broker_amount"`
	Difference     decimal.Decimal `json:"difference"`
	DivergencePct  decimal.Decimal `json:"divergence_percent"`
	Severity       Severity        `json:"severity"`
}

// Report is the outcome of one reconciliation run for one bot.
type Report struct {
	BotID         string        `json:"bot_id"`
	AccountID     string        `json:"account_id"`
	Reconciled    bool          `json:"reconciled"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// Reconciler runs advisory balance comparisons.
type Reconciler struct {
	bots   domain.BotStore
	assets domain.AssetStore
	broker domain.BrokerClient
	log    zerolog.Logger
	now    func() time.Time
}

// New constructs a Reconciler.
func New(bots domain.BotStore, assets domain.AssetStore, broker domain.BrokerClient, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		bots:   bots,
		assets: assets,
		broker: broker,
		log:    log.With().Str("component", "reconciler").Logger(),
		now:    time.Now,
	}
}

// ReconcileBot compares one bot's tracked Asset against the broker's
// reported balance for the same coin.
func (r *Reconciler) ReconcileBot(ctx context.Context, botID string) (*Report, error) {
	bot, err := r.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, domain.NewConfigMissing("bot not found: " + botID)
	}

	report := &Report{BotID: botID, AccountID: bot.AccountID, Reconciled: true, CheckedAt: r.now()}

	asset, err := r.assets.GetAsset(ctx, botID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return report, nil
	}

	balances, err := r.broker.GetAccountBalances(ctx, bot.AccountID)
	if err != nil {
		return nil, err
	}

	brokerAmount := decimal.Zero
	for _, b := range balances {
		if b.Coin == asset.Coin {
			brokerAmount = b.Amount
			break
		}
	}

	if d := classify(botID, asset.Coin, asset.Amount, brokerAmount); d != nil {
		report.Reconciled = false
		report.Discrepancies = append(report.Discrepancies, *d)
		r.log.Warn().
			Str("bot_id", botID).
			Str("coin", d.Coin).
			Str("severity", string(d.Severity)).
			Str("tracked", d.TrackedAmount.String()).
			Str("broker", d.BrokerAmount.String()).
			Msg("balance discrepancy detected")
	}
	return report, nil
}

// ReconcileAll runs ReconcileBot for every enabled bot. Per-bot failures
// are logged and skipped so one broken account cannot hide the others.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Report, error) {
	bots, err := r.bots.ListEnabledBots(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]*Report, 0, len(bots))
	for _, bot := range bots {
		report, err := r.ReconcileBot(ctx, bot.BotID)
		if err != nil {
			r.log.Error().Err(err).Str("bot_id", bot.BotID).Msg("reconciliation failed for bot")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// classify returns nil when tracked and actual agree within the low
// band; otherwise a Discrepancy with its severity.
func classify(botID, coin string, tracked, actual decimal.Decimal) *Discrepancy {
	diff := tracked.Sub(actual)

	var pct decimal.Decimal
	switch {
	case !actual.IsZero():
		pct = diff.Abs().Div(actual.Abs())
	case tracked.IsZero():
		return nil
	default:
		// Tracked units with nothing at the broker: total divergence.
		pct = decimal.NewFromInt(1)
	}

	if pct.LessThan(lowBand) {
		return nil
	}

	severity := SeverityLow
	if pct.GreaterThanOrEqual(highBand) {
		severity = SeverityHigh
	} else if pct.GreaterThanOrEqual(mediumBand) {
		severity = SeverityMedium
	}

	return &Discrepancy{
		BotID:         botID,
		Coin:          coin,
		TrackedAmount: tracked,
		BrokerAmount:  actual,
		Difference:    diff,
		DivergencePct: pct.Mul(decimal.NewFromInt(100)),
		Severity:      severity,
	}
}
