package kucoin

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

// FuturesChangeLeverage sets the account's cross leverage for symbol.
func (k *KuCoin) FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool] {
	if res, ok := guard[bool](k, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("position:leverage", limiter.KindOrder, 2),
		func(ctx context.Context) (bool, error) {
			body := map[string]any{
				"symbol":   k.encode(symbol),
				"leverage": strconv.Itoa(leverage),
			}
			if _, err := k.do(ctx, "POST", "/api/v2/changeCrossUserLeverage", nil, body, true); err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesChangeMarginType switches the symbol's margin mode.
func (k *KuCoin) FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool] {
	if res, ok := guard[bool](k, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("position:margin-mode", limiter.KindOrder, 2),
		func(ctx context.Context) (bool, error) {
			mode := "CROSS"
			if margin == models.MarginIsolated {
				mode = "ISOLATED"
			}
			body := map[string]any{
				"symbol":     k.encode(symbol),
				"marginMode": mode,
			}
			if _, err := k.do(ctx, "POST", "/api/v2/position/changeMarginMode", nil, body, true); err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesGetHedge always reports one-way: the venue has no hedge mode, so no
// request is spent on the answer.
func (k *KuCoin) FuturesGetHedge(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](k, true, true); !ok {
		return res
	}
	now := k.caller.Clk.Now()
	tp := models.NewTimeProfile(now)
	tp.Seal(now)
	return models.Ok(false, k.gov.Snapshot(), tp)
}

// FuturesSetHedge accepts only one-way; the venue cannot hold both sides of a
// contract at once.
func (k *KuCoin) FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool] {
	if res, ok := guard[bool](k, true, true); !ok {
		return res
	}
	if hedge {
		return base.FailFast[bool](k.caller, "hedge mode is not supported")
	}
	now := k.caller.Clk.Now()
	tp := models.NewTimeProfile(now)
	tp.Seal(now)
	return models.Ok(true, k.gov.Snapshot(), tp)
}

type rawPosition struct {
	Symbol        string  `json:"symbol"`
	CurrentQty    float64 `json:"currentQty"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	UnrealisedPnl float64 `json:"unrealisedPnl"`
	RealLeverage  float64 `json:"realLeverage"`
	CrossMode     bool    `json:"crossMode"`
	IsOpen        bool    `json:"isOpen"`
}

func (k *KuCoin) toPosition(r rawPosition) models.Position {
	margin := models.MarginIsolated
	if r.CrossMode {
		margin = models.MarginCrossed
	}
	return models.Position{
		Symbol:           k.decode(r.Symbol),
		PositionSide:     models.PositionBoth,
		PositionAmt:      strconv.FormatFloat(r.CurrentQty, 'f', -1, 64),
		EntryPrice:       strconv.FormatFloat(r.AvgEntryPrice, 'f', -1, 64),
		MarkPrice:        strconv.FormatFloat(r.MarkPrice, 'f', -1, 64),
		UnrealizedProfit: strconv.FormatFloat(r.UnrealisedPnl, 'f', -1, 64),
		Leverage:         strconv.FormatFloat(r.RealLeverage, 'f', -1, 64),
		MarginType:       margin,
	}
}

// FuturesGetPositions lists open positions; empty symbol lists them all.
func (k *KuCoin) FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position] {
	if res, ok := guard[[]models.Position](k, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("position:list", limiter.KindRequest, 2),
		func(ctx context.Context) ([]models.Position, error) {
			if symbol != "" {
				params := url.Values{"symbol": {k.encode(symbol)}}
				raw, err := k.do(ctx, "GET", "/api/v1/position", params, nil, true)
				if err != nil {
					return nil, err
				}
				var r rawPosition
				if err := json.Unmarshal(raw, &r); err != nil {
					return nil, err
				}
				if !r.IsOpen || r.CurrentQty == 0 {
					return []models.Position{}, nil
				}
				return []models.Position{k.toPosition(r)}, nil
			}

			raw, err := k.do(ctx, "GET", "/api/v1/positions", nil, nil, true)
			if err != nil {
				return nil, err
			}
			var rows []rawPosition
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Position, 0, len(rows))
			for _, r := range rows {
				if !r.IsOpen || r.CurrentQty == 0 {
					continue
				}
				out = append(out, k.toPosition(r))
			}
			return out, nil
		})
}

// FuturesLeverageBracket returns the contract's risk-limit ladder.
func (k *KuCoin) FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket] {
	if res, ok := guard[[]models.LeverageBracket](k, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("contracts:risk-limit", limiter.KindRequest, 2),
		func(ctx context.Context) ([]models.LeverageBracket, error) {
			raw, err := k.do(ctx, "GET", "/api/v1/contracts/risk-limit/"+k.encode(symbol), nil, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				Level          int     `json:"level"`
				MaxRiskLimit   float64 `json:"maxRiskLimit"`
				MinRiskLimit   float64 `json:"minRiskLimit"`
				MaxLeverage    float64 `json:"maxLeverage"`
				MaintainMargin float64 `json:"maintainMargin"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.LeverageBracket, 0, len(rows))
			for _, r := range rows {
				out = append(out, models.LeverageBracket{
					Bracket:          r.Level,
					InitialLeverage:  r.MaxLeverage,
					NotionalFloor:    r.MinRiskLimit,
					NotionalCap:      r.MaxRiskLimit,
					MaintMarginRatio: r.MaintainMargin,
				})
			}
			return out, nil
		})
}
