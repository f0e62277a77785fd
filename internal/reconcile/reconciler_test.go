package reconcile

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeBotStore struct{ bots map[string]*domain.Bot }

func (f *fakeBotStore) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	return f.bots[botID], nil
}
func (f *fakeBotStore) ListEnabledBots(ctx context.Context) ([]*domain.Bot, error) {
	var out []*domain.Bot
	for _, b := range f.bots {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakeBotStore) UpdateBot(ctx context.Context, bot *domain.Bot) error              { return nil }
func (f *fakeBotStore) RecordReset(ctx context.Context, ev *domain.BotResetEvent) error   { return nil }

type fakeAssetStore struct{ assets map[string]*domain.Asset }

func (f *fakeAssetStore) GetAsset(ctx context.Context, botID string) (*domain.Asset, error) {
	return f.assets[botID], nil
}
func (f *fakeAssetStore) ReplaceAsset(ctx context.Context, botID string, a *domain.Asset) error {
	f.assets[botID] = a
	return nil
}

type fakeBroker struct {
	domain.BrokerClient
	balances []domain.AccountBalance
}

func (b *fakeBroker) GetAccountBalances(ctx context.Context, accountID string) ([]domain.AccountBalance, error) {
	return b.balances, nil
}

func TestClassifySeverityBands(t *testing.T) {
	cases := []struct {
		name     string
		tracked  string
		actual   string
		severity Severity
		nilOut   bool
	}{
		{"exact match", "100", "100", "", true},
		{"dust below band", "100.1", "100", "", true},
		{"low", "101", "100", SeverityLow, false},
		{"medium", "105", "100", SeverityMedium, false},
		{"high", "120", "100", SeverityHigh, false},
		{"tracked but broker empty", "50", "0", SeverityHigh, false},
		{"both empty", "0", "0", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := classify("bot1", "BTC", dec(tc.tracked), dec(tc.actual))
			if tc.nilOut {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tc.severity, d.Severity)
		})
	}
}

func TestReconcileBotReportsDiscrepancy(t *testing.T) {
	bots := &fakeBotStore{bots: map[string]*domain.Bot{
		"bot1": {BotID: "bot1", AccountID: "acc1", Enabled: true},
	}}
	assets := &fakeAssetStore{assets: map[string]*domain.Asset{
		"bot1": {BotID: "bot1", Coin: "BTC", Amount: dec("1.2")},
	}}
	broker := &fakeBroker{balances: []domain.AccountBalance{{Coin: "BTC", Amount: dec("1.0")}}}

	r := New(bots, assets, broker, testLogger())
	report, err := r.ReconcileBot(context.Background(), "bot1")
	require.NoError(t, err)

	assert.False(t, report.Reconciled)
	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, SeverityHigh, d.Severity)
	assert.True(t, d.DivergencePct.Equal(dec("20")), "got %s", d.DivergencePct)
	// Advisory only: the tracked asset must be untouched.
	assert.True(t, assets.assets["bot1"].Amount.Equal(dec("1.2")))
}

func TestReconcileBotWithNoAsset(t *testing.T) {
	bots := &fakeBotStore{bots: map[string]*domain.Bot{
		"bot1": {BotID: "bot1", AccountID: "acc1", Enabled: true},
	}}
	assets := &fakeAssetStore{assets: map[string]*domain.Asset{}}
	r := New(bots, assets, &fakeBroker{}, testLogger())

	report, err := r.ReconcileBot(context.Background(), "bot1")
	require.NoError(t, err)
	assert.True(t, report.Reconciled)
	assert.Empty(t, report.Discrepancies)
}
