package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinrebalancer/engine/internal/domain"
)

// v1 endpoints live under /api/v1, v2 under /api/v2. Smart-trades are
// always routed to v2 regardless of caller intent.
const (
	pathAccounts          = "/api/v1/accounts"
	pathBalances          = "/api/v1/accounts/%s/balances"
	pathRateV1            = "/api/v1/rates"
	pathRateV2            = "/api/v2/rates"
	pathCommission        = "/api/v1/accounts/%s/commission"
	pathAccountInfo       = "/api/v1/accounts/%s"
	pathSmartTradesV2     = "/api/v2/smart-trades"
	pathSmartTradeStatus  = "/api/v2/smart-trades/%s"
)

func (c *Client) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	body, err := c.enqueue(ctx, "GET", pathAccounts, nil, true)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Accounts []struct {
			AccountID string `json:"account_id"`
			Name      string `json:"name"`
			Currency  string `json:"currency"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	accounts := make([]domain.Account, 0, len(raw.Accounts))
	for _, a := range raw.Accounts {
		accounts = append(accounts, domain.Account{AccountID: a.AccountID, Name: a.Name, Currency: a.Currency})
	}
	return accounts, nil
}

func (c *Client) GetAccountBalances(ctx context.Context, accountID string) ([]domain.AccountBalance, error) {
	path := fmt.Sprintf(pathBalances, accountID)
	body, err := c.enqueue(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Balances []struct {
			Coin        string          `json:"coin"`
			Amount      decimal.Decimal `json:"amount"`
			AmountInUSD decimal.Decimal `json:"amount_in_usd"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	balances := make([]domain.AccountBalance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		if b.Amount.IsZero() {
			continue
		}
		balances = append(balances, domain.AccountBalance{Coin: b.Coin, Amount: b.Amount, AmountInUSD: b.AmountInUSD})
	}
	// sorted by USD value descending
	for i := 1; i < len(balances); i++ {
		for j := i; j > 0 && balances[j].AmountInUSD.GreaterThan(balances[j-1].AmountInUSD); j-- {
			balances[j], balances[j-1] = balances[j-1], balances[j]
		}
	}
	return balances, nil
}

// GetMarketRate tries three endpoint shapes best-effort, in order, and
// returns an error wrapping the last shape's failure if none resolves.
func (c *Client) GetMarketRate(ctx context.Context, base, quote string) (domain.Price, error) {
	pair := base + "_" + quote
	shapes := []func() (decimal.Decimal, error){
		func() (decimal.Decimal, error) { return c.rateByPairQuery(ctx, pathRateV2, pair) },
		func() (decimal.Decimal, error) { return c.rateByPairQuery(ctx, pathRateV1, pair) },
		func() (decimal.Decimal, error) { return c.rateBySymbolLookup(ctx, base, quote) },
	}
	var lastErr error
	for _, attempt := range shapes {
		value, err := attempt()
		if err == nil {
			return domain.Price{Base: base, Quote: quote, Value: value}, nil
		}
		lastErr = err
	}
	return domain.Price{}, fmt.Errorf("market rate not found for %s: %w", pair, lastErr)
}

func (c *Client) rateByPairQuery(ctx context.Context, path, pair string) (decimal.Decimal, error) {
	body, err := c.enqueue(ctx, "GET", path+"?pair="+pair, nil, false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var raw struct {
		Rate *decimal.Decimal `json:"rate"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Rate == nil {
		return decimal.Decimal{}, fmt.Errorf("no rate in response")
	}
	return *raw.Rate, nil
}

func (c *Client) rateBySymbolLookup(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/api/v1/symbols/%s%s/price", base, quote)
	body, err := c.enqueue(ctx, "GET", path, nil, false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var raw struct {
		Price *decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Price == nil {
		return decimal.Decimal{}, fmt.Errorf("no price in response")
	}
	return *raw.Price, nil
}

// GetCommissionRates resolves maker/taker rates for an account. The
// dedicated commission endpoint is preferred; the account-info record's
// commission_rate is the second shape; when neither resolves the
// defaults apply. Source records which path produced the value.
func (c *Client) GetCommissionRates(ctx context.Context, accountID string) (domain.CommissionRates, error) {
	path := fmt.Sprintf(pathCommission, accountID)
	body, err := c.enqueue(ctx, "GET", path, nil, true)
	if err == nil {
		var raw struct {
			Maker *decimal.Decimal `json:"maker"`
			Taker *decimal.Decimal `json:"taker"`
		}
		if err := json.Unmarshal(body, &raw); err == nil && raw.Maker != nil && raw.Taker != nil {
			return domain.CommissionRates{Maker: *raw.Maker, Taker: *raw.Taker, Source: domain.CommissionSourceAPI}, nil
		}
	}

	infoBody, err := c.enqueue(ctx, "GET", fmt.Sprintf(pathAccountInfo, accountID), nil, true)
	if err == nil {
		var raw struct {
			CommissionRate *decimal.Decimal `json:"commission_rate"`
		}
		if err := json.Unmarshal(infoBody, &raw); err == nil && raw.CommissionRate != nil {
			return domain.CommissionRates{Maker: *raw.CommissionRate, Taker: *raw.CommissionRate, Source: domain.CommissionSourceAccountInfo}, nil
		}
	}

	return domain.CommissionRates{Maker: domain.DefaultMakerRate, Taker: domain.DefaultTakerRate, Source: domain.CommissionSourceDefault}, nil
}

func (c *Client) SubmitMarketTrade(ctx context.Context, req domain.SubmitTradeRequest) (domain.TradeHandle, error) {
	positionType := req.PositionType
	if req.ForcedPositionType != nil {
		positionType = *req.ForcedPositionType
	}

	payload := map[string]interface{}{
		"account_id": req.AccountID,
		"instant":    true,
		"demo":       req.Demo,
		"position": map[string]interface{}{
			"type": positionType,
			"units": map[string]interface{}{
				"value": req.Amount.String(),
			},
			"total":      req.Pair,
			"order_type": "market",
		},
		"stop_loss": map[string]interface{}{"enabled": false},
	}
	if req.TakeProfitPercent != nil {
		payload["take_profit"] = map[string]interface{}{
			"enabled": true,
			"steps": []map[string]interface{}{{
				"order_type": "market",
				"price": map[string]interface{}{
					"type":  "percent",
					"value": req.TakeProfitPercent.String(),
				},
				"volume": 100,
			}},
		}
	}

	body, err := serialize(payload)
	if err != nil {
		return domain.TradeHandle{}, fmt.Errorf("serialize trade request: %w", err)
	}

	respBody, err := c.enqueue(ctx, "POST", pathSmartTradesV2, body, true)
	if err != nil {
		return domain.TradeHandle{}, err
	}
	var raw struct {
		TradeID string `json:"trade_id"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil || raw.TradeID == "" {
		return domain.TradeHandle{}, fmt.Errorf("broker did not return a trade id")
	}
	return domain.TradeHandle{TradeID: raw.TradeID, AccountID: req.AccountID}, nil
}

func (c *Client) GetTrade(ctx context.Context, handle domain.TradeHandle) (domain.BrokerTradeStatus, error) {
	path := fmt.Sprintf(pathSmartTradeStatus, handle.TradeID)
	body, err := c.enqueue(ctx, "GET", path, nil, true)
	if err != nil {
		return domain.BrokerTradeStatus{}, err
	}
	return parseTradeStatus(handle.TradeID, body)
}

// AwaitTradeCompletion polls with jittered backoff up to ~15 attempts at
// ~3s intervals, returning the last observed status on timeout rather
// than erroring; callers needing strict completion check the status.
func (c *Client) AwaitTradeCompletion(ctx context.Context, handle domain.TradeHandle, maxWait time.Duration) (domain.BrokerTradeStatus, error) {
	const (
		pollInterval = 3 * time.Second
		maxAttempts  = 15
	)
	deadline := time.Now().Add(maxWait)
	var last domain.BrokerTradeStatus

	for attempt := 0; attempt < maxAttempts; attempt++ {
		status, err := c.GetTrade(ctx, handle)
		if err == nil {
			last = status
			if status.Status.IsTerminal() {
				return last, nil
			}
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(jitteredDelay(pollInterval)):
		}
	}
	return last, nil
}

func parseTradeStatus(tradeID string, body []byte) (domain.BrokerTradeStatus, error) {
	var raw struct {
		Status string `json:"status"`
		Data   struct {
			EnteredTotal  *decimal.Decimal `json:"entered_total"`
			EnteredAmount *decimal.Decimal `json:"entered_amount"`
		} `json:"data"`
		Position struct {
			Status          string           `json:"status"`
			Total           struct{ Value *decimal.Decimal `json:"value"` } `json:"total"`
			DoneQuantity    *decimal.Decimal `json:"done_quantity"`
			DoneAveragePrice *decimal.Decimal `json:"done_average_price"`
			Quantity        *decimal.Decimal `json:"quantity"`
			Units           *decimal.Decimal `json:"units"`
		} `json:"position"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.BrokerTradeStatus{}, fmt.Errorf("decode trade status: %w", err)
	}

	rawStatus := raw.Status
	if rawStatus == "" {
		rawStatus = raw.Position.Status
	}

	return domain.BrokerTradeStatus{
		Status:                   normalizeStatus(rawStatus),
		RawStatus:                rawStatus,
		TradeID:                  tradeID,
		EnteredTotal:             raw.Data.EnteredTotal,
		EnteredAmount:            raw.Data.EnteredAmount,
		PositionTotalValue:       raw.Position.Total.Value,
		PositionDoneQuantity:     raw.Position.DoneQuantity,
		PositionDoneAveragePrice: raw.Position.DoneAveragePrice,
		PositionQuantity:         raw.Position.Quantity,
		PositionUnits:            raw.Position.Units,
		RawData:                  string(body),
		ObservedAt:               time.Now(),
	}, nil
}

func normalizeStatus(s string) domain.TradeStatusValue {
	switch s {
	case string(domain.BrokerStatusCompleted), string(domain.BrokerStatusClosed),
		string(domain.BrokerStatusDone), string(domain.BrokerStatusFinished),
		string(domain.BrokerStatusCancelled), string(domain.BrokerStatusFailed):
		return domain.TradeStatusValue(s)
	default:
		return domain.BrokerStatusInProgress
	}
}
