package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrebalancer/engine/internal/domain"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

type stubProvider struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) GetPrice(ctx context.Context, coin, quote string) (decimal.Decimal, error) {
	p.calls++
	return p.price, p.err
}

type recordingHistory struct{ rows []*domain.PriceHistory }

func (h *recordingHistory) RecordPrice(ctx context.Context, p *domain.PriceHistory) error {
	h.rows = append(h.rows, p)
	return nil
}

func TestGetPricePrimaryWins(t *testing.T) {
	primary := &stubProvider{name: "broker", price: decimal.NewFromInt(50000)}
	fallback := &stubProvider{name: "aggregator", price: decimal.NewFromInt(49000)}
	history := &recordingHistory{}
	o := New([]domain.PriceProvider{primary, fallback}, history, testLogger())

	price, source, err := o.GetPrice(context.Background(), Strategy{Primary: "broker", Fallback: "aggregator"}, "bot1", "BTC", "USDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, "broker", source.Provider)
	assert.False(t, source.UsedFallback)
	assert.Zero(t, fallback.calls, "fallback is not consulted when primary succeeds")

	require.Len(t, history.rows, 1, "every successful read writes through to price history")
	assert.Equal(t, "broker", history.rows[0].Source)
}

func TestGetPriceFallsBack(t *testing.T) {
	primary := &stubProvider{name: "broker", err: errors.New("connection refused")}
	fallback := &stubProvider{name: "aggregator", price: decimal.NewFromInt(49000)}
	o := New([]domain.PriceProvider{primary, fallback}, &recordingHistory{}, testLogger())

	price, source, err := o.GetPrice(context.Background(), Strategy{Primary: "broker", Fallback: "aggregator"}, "bot1", "BTC", "USDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(49000)))
	assert.Equal(t, "aggregator", source.Provider)
	assert.True(t, source.UsedFallback)
}

func TestGetPriceBothFail(t *testing.T) {
	primary := &stubProvider{name: "broker", err: errors.New("connection refused")}
	fallback := &stubProvider{name: "aggregator", err: errors.New("status 502")}
	o := New([]domain.PriceProvider{primary, fallback}, &recordingHistory{}, testLogger())

	_, _, err := o.GetPrice(context.Background(), Strategy{Primary: "broker", Fallback: "aggregator"}, "bot1", "BTC", "USDT")
	require.Error(t, err)
	assert.Equal(t, domain.KindPriceUnavailable, domain.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused", "both underlying reasons are surfaced")
	assert.Contains(t, err.Error(), "status 502")
}

func TestSlugFor(t *testing.T) {
	assert.Equal(t, "bitcoin", SlugFor("BTC"))
	assert.Equal(t, "cardano", SlugFor("ada"))
	assert.Equal(t, "newcoin", SlugFor("NEWCOIN"), "unknown symbols pass through lowercased")
}
