// Package deviation computes the per-candidate metrics tuple and its
// swap-worthiness score. The sign convention in the score is part of
// the observable contract; see the note on ScoreCandidate.
package deviation

import (
	"github.com/shopspring/decimal"
)

// Inputs are the observed and baseline prices and amounts for one
// candidate evaluation (held coin H vs candidate C).
type Inputs struct {
	PriceHeldNow      decimal.Decimal
	PriceHeldBaseline decimal.Decimal
	PriceCandNow      decimal.Decimal
	PriceCandBaseline decimal.Decimal
	AmountHeld        decimal.Decimal

	// MaxUnitsReachedCandidate and CandidateEverHeld back unit_gain_percent;
	// when the candidate was never held, unit_gain_percent is null.
	MaxUnitsReachedCandidate decimal.Decimal
	CandidateEverHeld        bool
}

// Metrics is the tuple produced for one candidate, consumed by scoring.
type Metrics struct {
	RatioHeld        decimal.Decimal
	RatioCandidate   decimal.Decimal
	RelativeDeviation decimal.Decimal
	InitialDeviation decimal.Decimal
	PotentialUnits   decimal.Decimal
	UnitGainPercent  *decimal.Decimal // null if candidate was never held
}

// Compute derives the full metrics tuple for one candidate.
func Compute(in Inputs) Metrics {
	ratioHeld := in.PriceHeldNow.Div(in.PriceHeldBaseline)
	ratioCand := in.PriceCandNow.Div(in.PriceCandBaseline)

	relativeDeviation := ratioCand.Div(ratioHeld).Sub(decimal.NewFromInt(1))
	initialDeviation := in.PriceCandNow.Div(in.PriceCandBaseline).Sub(decimal.NewFromInt(1))

	potentialUnits := in.AmountHeld.Mul(in.PriceHeldNow).Div(in.PriceCandNow)

	var unitGainPercent *decimal.Decimal
	if in.CandidateEverHeld && !in.MaxUnitsReachedCandidate.IsZero() {
		g := potentialUnits.Div(in.MaxUnitsReachedCandidate).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		unitGainPercent = &g
	}

	return Metrics{
		RatioHeld:         ratioHeld,
		RatioCandidate:    ratioCand,
		RelativeDeviation: relativeDeviation,
		InitialDeviation:  initialDeviation,
		PotentialUnits:    potentialUnits,
		UnitGainPercent:   unitGainPercent,
	}
}

// ScoreDetails is the output of ScoreCandidate.
type ScoreDetails struct {
	BaseScore      decimal.Decimal
	PumpPenalty    decimal.Decimal
	ReEntryVetoed  bool
	Score          decimal.Decimal
	MeetsThreshold bool
}

var (
	pumpThreshold = decimal.NewFromFloat(0.05)
	pumpCap       = decimal.NewFromInt(20)
	vetoScore     = decimal.NewFromInt(-100)
	hundred       = decimal.NewFromInt(100)
)

// ScoreCandidate implements score_candidate(metrics, threshold_percent).
//
// Base score is initial_deviation*100 — the absolute move of C from its
// own baseline, in percent. A negative score indicates C has dropped
// from its baseline, which is the condition this engine actually swaps
// in on (buy low relative to baseline). The relative-outperformance
// metric is still computed and logged, but admission is decided on the
// absolute drop; downstream consumers rely on this exact convention.
func ScoreCandidate(m Metrics, thresholdPercent decimal.Decimal) ScoreDetails {
	baseScore := m.InitialDeviation.Mul(hundred)

	pumpPenalty := decimal.Zero
	if m.InitialDeviation.GreaterThan(pumpThreshold) {
		penalty := m.InitialDeviation.Mul(hundred)
		if penalty.GreaterThan(pumpCap) {
			penalty = pumpCap
		}
		pumpPenalty = penalty
	}

	score := baseScore.Sub(pumpPenalty)

	reEntryVetoed := false
	if m.UnitGainPercent != nil && m.UnitGainPercent.IsNegative() {
		reEntryVetoed = true
		score = vetoScore
	}

	meetsThreshold := baseScore.LessThanOrEqual(thresholdPercent.Neg()) &&
		(m.UnitGainPercent == nil || !m.UnitGainPercent.IsNegative())

	return ScoreDetails{
		BaseScore:      baseScore,
		PumpPenalty:    pumpPenalty,
		ReEntryVetoed:  reEntryVetoed,
		Score:          score,
		MeetsThreshold: meetsThreshold,
	}
}
