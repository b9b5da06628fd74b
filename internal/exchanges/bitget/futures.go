package bitget

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

// FuturesChangeLeverage sets leverage. Hedge-mode accounts keep independent
// long and short leverage, so both slots are set with sequential, separately
// admitted requests.
func (b *Bitget) FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:set-leverage", Kind: limiter.KindOrder, Weight: 2},
		func(ctx context.Context) (bool, error) {
			hedge, err := b.fetchPosMode(ctx, symbol)
			if err != nil {
				return false, err
			}
			sides := []string{""}
			if hedge {
				sides = []string{"long", "short"}
			}
			for i, holdSide := range sides {
				if i > 0 {
					if aerr := b.caller.Admit(ctx, base.Endpoint{Name: "account:set-leverage", Weight: 2}); aerr != nil {
						return false, aerr
					}
				}
				body := map[string]any{
					"symbol":      symbol,
					"productType": b.productType(symbol),
					"marginCoin":  b.marginCoin(symbol),
					"leverage":    strconv.Itoa(leverage),
				}
				if holdSide != "" {
					body["holdSide"] = holdSide
				}
				if _, err := b.do(ctx, "POST", "/api/v2/mix/account/set-leverage", nil, body, true); err != nil {
					return false, err
				}
			}
			return true, nil
		})
}

// FuturesChangeMarginType switches between crossed and isolated margin.
func (b *Bitget) FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:set-margin-mode", Kind: limiter.KindOrder, Weight: 2},
		func(ctx context.Context) (bool, error) {
			mode := "crossed"
			if margin == models.MarginIsolated {
				mode = "isolated"
			}
			body := map[string]any{
				"symbol":      symbol,
				"productType": b.productType(symbol),
				"marginCoin":  b.marginCoin(symbol),
				"marginMode":  mode,
			}
			_, err := b.do(ctx, "POST", "/api/v2/mix/account/set-margin-mode", nil, body, true)
			if err != nil {
				var apiErr *models.APIError
				// 40892: margin mode already matches.
				if errors.As(err, &apiErr) && apiErr.Code == "40892" {
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
}

// fetchPosMode reads the account's position mode off the mix account detail.
func (b *Bitget) fetchPosMode(ctx context.Context, symbol string) (bool, error) {
	params := url.Values{
		"symbol":      {symbol},
		"productType": {b.productType(symbol)},
		"marginCoin":  {b.marginCoin(symbol)},
	}
	raw, err := b.do(ctx, "GET", "/api/v2/mix/account/account", params, nil, true)
	if err != nil {
		return false, err
	}
	var out struct {
		PosMode string `json:"posMode"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, err
	}
	return out.PosMode == "hedge_mode", nil
}

// FuturesGetHedge reports whether the account runs in hedge mode.
func (b *Bitget) FuturesGetHedge(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:pos-mode", Weight: 1},
		func(ctx context.Context) (bool, error) {
			return b.fetchPosMode(ctx, "BTCUSDT")
		})
}

// FuturesSetHedge toggles the account's position mode.
func (b *Bitget) FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:set-position-mode", Kind: limiter.KindOrder, Weight: 2},
		func(ctx context.Context) (bool, error) {
			mode := "one_way_mode"
			if hedge {
				mode = "hedge_mode"
			}
			body := map[string]any{
				"productType": b.productType("USDT"),
				"posMode":     mode,
			}
			_, err := b.do(ctx, "POST", "/api/v2/mix/account/set-position-mode", nil, body, true)
			if err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesGetPositions lists open positions; empty symbol lists the product.
func (b *Bitget) FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position] {
	if res, ok := guard[[]models.Position](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "position:all-positions", Weight: 2},
		func(ctx context.Context) ([]models.Position, error) {
			params := url.Values{"productType": {b.productType(symbol)}}
			if symbol != "" {
				params.Set("marginCoin", b.marginCoin(symbol))
			}
			raw, err := b.do(ctx, "GET", "/api/v2/mix/position/all-position", params, nil, true)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				Symbol       string `json:"symbol"`
				HoldSide     string `json:"holdSide"`
				Total        string `json:"total"`
				OpenPriceAvg string `json:"openPriceAvg"`
				MarkPrice    string `json:"markPrice"`
				UnrealizedPL string `json:"unrealizedPL"`
				Leverage     string `json:"leverage"`
				MarginMode   string `json:"marginMode"`
				PosMode      string `json:"posMode"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Position, 0, len(rows))
			for _, r := range rows {
				if symbol != "" && r.Symbol != symbol {
					continue
				}
				if floatOrZero(r.Total) == 0 {
					continue
				}
				margin := models.MarginCrossed
				if r.MarginMode == "isolated" {
					margin = models.MarginIsolated
				}
				side := models.PositionBoth
				if r.PosMode == "hedge_mode" {
					side = normHoldSide(r.HoldSide)
				}
				amt := r.Total
				if r.HoldSide == "short" {
					amt = "-" + r.Total
				}
				out = append(out, models.Position{
					Symbol:           r.Symbol,
					PositionSide:     side,
					PositionAmt:      amt,
					EntryPrice:       r.OpenPriceAvg,
					MarkPrice:        r.MarkPrice,
					UnrealizedProfit: r.UnrealizedPL,
					Leverage:         r.Leverage,
					MarginType:       margin,
				})
			}
			return out, nil
		})
}

// FuturesLeverageBracket returns the symbol's position-tier ladder.
func (b *Bitget) FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket] {
	if res, ok := guard[[]models.LeverageBracket](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:query-position-lever", Weight: 1},
		func(ctx context.Context) ([]models.LeverageBracket, error) {
			params := url.Values{"symbol": {symbol}, "productType": {b.productType(symbol)}}
			raw, err := b.do(ctx, "GET", "/api/v2/mix/market/query-position-lever", params, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				Level          string `json:"level"`
				StartUnit      string `json:"startUnit"`
				EndUnit        string `json:"endUnit"`
				Leverage       string `json:"leverage"`
				KeepMarginRate string `json:"keepMarginRate"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.LeverageBracket, 0, len(rows))
			for _, r := range rows {
				out = append(out, models.LeverageBracket{
					Bracket:          int(floatOrZero(r.Level)),
					InitialLeverage:  floatOrZero(r.Leverage),
					NotionalFloor:    floatOrZero(r.StartUnit),
					NotionalCap:      floatOrZero(r.EndUnit),
					MaintMarginRatio: floatOrZero(r.KeepMarginRate),
				})
			}
			return out, nil
		})
}
