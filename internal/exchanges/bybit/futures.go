package bybit

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

type rawPosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
	PositionIdx   int    `json:"positionIdx"`
	TradeMode     int    `json:"tradeMode"`
}

func (r rawPosition) toPosition() models.Position {
	margin := models.MarginCrossed
	if r.TradeMode == 1 {
		margin = models.MarginIsolated
	}
	amt := r.Size
	if r.Side == "Sell" {
		amt = "-" + r.Size
	}
	return models.Position{
		Symbol:           r.Symbol,
		PositionSide:     positionIdxSide(r.PositionIdx),
		PositionAmt:      amt,
		EntryPrice:       r.AvgPrice,
		MarkPrice:        r.MarkPrice,
		UnrealizedProfit: r.UnrealisedPnl,
		Leverage:         r.Leverage,
		MarginType:       margin,
	}
}

func (b *Bybit) fetchPositions(ctx context.Context, symbol string) ([]rawPosition, error) {
	params := url.Values{"category": {b.category()}}
	if symbol != "" {
		params.Set("symbol", symbol)
	} else if b.opts.Futures == models.ModeUSDM {
		params.Set("settleCoin", "USDT")
	}
	raw, err := b.do(ctx, "GET", "/v5/position/list", params, nil, true)
	if err != nil {
		return nil, err
	}
	var lr struct {
		List []rawPosition `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	return lr.List, nil
}

// FuturesChangeLeverage sets both slots' leverage; 110043 means the value
// already matched.
func (b *Bybit) FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "position:set-leverage", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (bool, error) {
			lv := strconv.Itoa(leverage)
			body := map[string]any{
				"category":     b.category(),
				"symbol":       symbol,
				"buyLeverage":  lv,
				"sellLeverage": lv,
			}
			_, err := b.do(ctx, "POST", "/v5/position/set-leverage", nil, body, true)
			if err != nil {
				var apiErr *models.APIError
				if errors.As(err, &apiErr) && apiErr.Code == "110043" {
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
}

// FuturesChangeMarginType switches the symbol between cross and isolated.
// The venue wants the target leverage restated, so the current value is read
// off the position first.
func (b *Bybit) FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "position:switch-isolated", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (bool, error) {
			leverage := "10"
			if positions, err := b.fetchPositions(ctx, symbol); err == nil {
				for _, p := range positions {
					if p.Leverage != "" {
						leverage = p.Leverage
						break
					}
				}
			}

			tradeMode := 0
			if margin == models.MarginIsolated {
				tradeMode = 1
			}
			if err := b.caller.Admit(ctx, base.Endpoint{Name: "position:switch-isolated", Weight: 1}); err != nil {
				return false, err
			}
			body := map[string]any{
				"category":     b.category(),
				"symbol":       symbol,
				"tradeMode":    tradeMode,
				"buyLeverage":  leverage,
				"sellLeverage": leverage,
			}
			_, err := b.do(ctx, "POST", "/v5/position/switch-isolated", nil, body, true)
			if err != nil {
				var apiErr *models.APIError
				// 110026: margin mode already matches.
				if errors.As(err, &apiErr) && apiErr.Code == "110026" {
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
}

// FuturesGetHedge reports whether any position sits in a hedge slot; an
// empty book reads as one-way.
func (b *Bybit) FuturesGetHedge(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "position:list:hedge", Weight: 1},
		func(ctx context.Context) (bool, error) {
			positions, err := b.fetchPositions(ctx, "")
			if err != nil {
				return false, err
			}
			for _, p := range positions {
				if p.PositionIdx != 0 {
					return true, nil
				}
			}
			return false, nil
		})
}

// FuturesSetHedge toggles position mode account-wide for the settle coin;
// 110025 means the mode already matched.
func (b *Bybit) FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "position:switch-mode", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (bool, error) {
			mode := 0
			if hedge {
				mode = 3
			}
			body := map[string]any{
				"category": b.category(),
				"mode":     mode,
			}
			if b.opts.Futures == models.ModeUSDM {
				body["coin"] = "USDT"
			}
			_, err := b.do(ctx, "POST", "/v5/position/switch-mode", nil, body, true)
			if err != nil {
				var apiErr *models.APIError
				if errors.As(err, &apiErr) && apiErr.Code == "110025" {
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
}

// FuturesGetPositions lists open positions; zero-size rows are dropped.
func (b *Bybit) FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position] {
	if res, ok := guard[[]models.Position](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "position:list", Weight: 1},
		func(ctx context.Context) ([]models.Position, error) {
			positions, err := b.fetchPositions(ctx, symbol)
			if err != nil {
				return nil, err
			}
			out := make([]models.Position, 0, len(positions))
			for _, p := range positions {
				if floatOrZero(p.Size) == 0 {
					continue
				}
				out = append(out, p.toPosition())
			}
			return out, nil
		})
}

// FuturesLeverageBracket maps the symbol's risk-limit ladder.
func (b *Bybit) FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket] {
	if res, ok := guard[[]models.LeverageBracket](b, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:risk-limit", Weight: 1},
		func(ctx context.Context) ([]models.LeverageBracket, error) {
			params := url.Values{"category": {b.category()}, "symbol": {symbol}}
			raw, err := b.do(ctx, "GET", "/v5/market/risk-limit", params, nil, false)
			if err != nil {
				return nil, err
			}
			var lr struct {
				List []struct {
					ID                int    `json:"id"`
					RiskLimitValue    string `json:"riskLimitValue"`
					MaintenanceMargin string `json:"maintenanceMargin"`
					MaxLeverage       string `json:"maxLeverage"`
				} `json:"list"`
			}
			if err := json.Unmarshal(raw, &lr); err != nil {
				return nil, err
			}
			out := make([]models.LeverageBracket, 0, len(lr.List))
			var floor float64
			for _, row := range lr.List {
				top := floatOrZero(row.RiskLimitValue)
				out = append(out, models.LeverageBracket{
					Bracket:          row.ID,
					InitialLeverage:  floatOrZero(row.MaxLeverage),
					NotionalCap:      top,
					NotionalFloor:    floor,
					MaintMarginRatio: floatOrZero(row.MaintenanceMargin),
				})
				floor = top
			}
			return out, nil
		})
}
