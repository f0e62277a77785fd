// Package oracle resolves prices: given (coin, quote, bot), it returns
// (price, source) by trying a primary provider then a fallback,
// writing every successful observation
// through to price history. It holds no cache across ticks beyond what
// the underlying providers themselves do.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
)

// Strategy names the two ordered providers to try for a price lookup.
type Strategy struct {
	Primary  string
	Fallback string
}

// Source identifies which provider produced a price and whether the
// fallback path was used.
type Source struct {
	Provider string
	UsedFallback bool
}

func (s Source) String() string {
	if s.UsedFallback {
		return s.Provider + " (fallback)"
	}
	return s.Provider
}

// Oracle resolves prices across a set of named providers.
type Oracle struct {
	providers map[string]domain.PriceProvider
	history   domain.PriceHistoryStore
	log       zerolog.Logger
}

// New constructs an Oracle from the given providers, keyed by
// provider.Name().
func New(providers []domain.PriceProvider, history domain.PriceHistoryStore, log zerolog.Logger) *Oracle {
	byName := make(map[string]domain.PriceProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Oracle{providers: byName, history: history, log: log.With().Str("component", "price_oracle").Logger()}
}

// GetPrice implements get_price(strategy, coin, quote, bot_id) -> (price, source).
// On both providers failing it returns domain.NewPriceUnavailable.
func (o *Oracle) GetPrice(ctx context.Context, strategy Strategy, botID, coin, quote string) (decimal.Decimal, Source, error) {
	primary, primaryErr := o.tryProvider(ctx, strategy.Primary, coin, quote)
	if primaryErr == nil {
		o.writeThrough(ctx, botID, coin, strategy.Primary, primary)
		return primary, Source{Provider: strategy.Primary, UsedFallback: false}, nil
	}
	o.log.Warn().Err(primaryErr).Str("coin", coin).Str("provider", strategy.Primary).Msg("primary price provider failed, trying fallback")

	fallback, fallbackErr := o.tryProvider(ctx, strategy.Fallback, coin, quote)
	if fallbackErr == nil {
		o.writeThrough(ctx, botID, coin, strategy.Fallback, fallback)
		return fallback, Source{Provider: strategy.Fallback, UsedFallback: true}, nil
	}

	return decimal.Decimal{}, Source{}, domain.NewPriceUnavailable(coin, primaryErr, fallbackErr)
}

func (o *Oracle) tryProvider(ctx context.Context, name, coin, quote string) (decimal.Decimal, error) {
	p, ok := o.providers[name]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unknown price provider %q", name)
	}
	return p.GetPrice(ctx, coin, quote)
}

func (o *Oracle) writeThrough(ctx context.Context, botID, coin, source string, price decimal.Decimal) {
	if o.history == nil {
		return
	}
	if err := o.history.RecordPrice(ctx, &domain.PriceHistory{
		BotID: botID, Coin: coin, Price: price, Source: source, Timestamp: time.Now(),
	}); err != nil {
		o.log.Warn().Err(err).Str("coin", coin).Msg("failed to write price history")
	}
}

// BrokerRateProvider is the preferred provider: the exchange broker's
// direct rate endpoint, quote and base passed exactly as it expects.
type BrokerRateProvider struct {
	Broker domain.BrokerClient
}

func (p *BrokerRateProvider) Name() string { return "broker" }

func (p *BrokerRateProvider) GetPrice(ctx context.Context, coin, quote string) (decimal.Decimal, error) {
	price, err := p.Broker.GetMarketRate(ctx, coin, quote)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return price.Value, nil
}

// symbolSlugs is the fixed built-in mapping of common symbols to the
// public aggregator's slugs. Unknown symbols pass through lowercased.
var symbolSlugs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"DOT":  "polkadot",
	"USDT": "tether",
	"USDC": "usd-coin",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"DOGE": "dogecoin",
}

// SlugFor translates a symbol to the aggregator's slug.
func SlugFor(symbol string) string {
	if slug, ok := symbolSlugs[strings.ToUpper(symbol)]; ok {
		return slug
	}
	return strings.ToLower(symbol)
}

// AggregatorProvider is the fallback: an unauthenticated simple-price
// endpoint returning {slug: {quote: price}}.
type AggregatorProvider struct {
	Fetch func(ctx context.Context, slug, quote string) (decimal.Decimal, error)
}

func (p *AggregatorProvider) Name() string { return "aggregator" }

func (p *AggregatorProvider) GetPrice(ctx context.Context, coin, quote string) (decimal.Decimal, error) {
	slug := SlugFor(coin)
	return p.Fetch(ctx, slug, strings.ToLower(quote))
}
