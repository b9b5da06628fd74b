package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

// FuturesChangeLeverage sets the symbol's leverage on the account.
func (b *Binance) FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	path := b.apiPath("", "/fapi/v1/leverage", "/dapi/v1/leverage")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "leverage", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (bool, error) {
			params := url.Values{
				"symbol":   {symbol},
				"leverage": {strconv.Itoa(leverage)},
			}
			_, err := b.do(ctx, b.client, "POST", path, params, true)
			if err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesChangeMarginType switches the symbol between cross and isolated
// margin. The venue answers -4046 when the mode is already set; that is a
// success for the caller.
func (b *Binance) FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	path := b.apiPath("", "/fapi/v1/marginType", "/dapi/v1/marginType")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "marginType", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (bool, error) {
			params := url.Values{
				"symbol":     {symbol},
				"marginType": {strings.ToUpper(string(margin))},
			}
			_, err := b.do(ctx, b.client, "POST", path, params, true)
			if err != nil {
				var apiErr *models.APIError
				if errors.As(err, &apiErr) && apiErr.Code == "-4046" {
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
}

// FuturesGetHedge reports whether the account runs in dual-position mode.
func (b *Binance) FuturesGetHedge(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	path := b.apiPath("", "/fapi/v1/positionSide/dual", "/dapi/v1/positionSide/dual")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "positionSide:get", Weight: 30},
		func(ctx context.Context) (bool, error) {
			body, err := b.do(ctx, b.client, "GET", path, nil, true)
			if err != nil {
				return false, err
			}
			var out struct {
				DualSidePosition bool `json:"dualSidePosition"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return false, err
			}
			return out.DualSidePosition, nil
		})
}

// FuturesSetHedge toggles dual-position mode. -4059 means no change was
// needed; treated as success.
func (b *Binance) FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool] {
	if res, ok := guard[bool](b, true, true); !ok {
		return res
	}
	path := b.apiPath("", "/fapi/v1/positionSide/dual", "/dapi/v1/positionSide/dual")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "positionSide:set", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (bool, error) {
			params := url.Values{"dualSidePosition": {strconv.FormatBool(hedge)}}
			_, err := b.do(ctx, b.client, "POST", path, params, true)
			if err != nil {
				var apiErr *models.APIError
				if errors.As(err, &apiErr) && apiErr.Code == "-4059" {
					return true, nil
				}
				return false, err
			}
			return true, nil
		})
}

// FuturesGetPositions lists open positions; empty symbol lists all of them.
// Zero-amount rows from the position-risk endpoint are dropped.
func (b *Binance) FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position] {
	if res, ok := guard[[]models.Position](b, true, true); !ok {
		return res
	}
	path := b.apiPath("", "/fapi/v2/positionRisk", "/dapi/v1/positionRisk")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "positionRisk", Weight: 5},
		func(ctx context.Context) ([]models.Position, error) {
			params := url.Values{}
			if symbol != "" {
				params.Set("symbol", symbol)
			}
			body, err := b.do(ctx, b.client, "GET", path, params, true)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				Symbol           string `json:"symbol"`
				PositionSide     string `json:"positionSide"`
				PositionAmt      string `json:"positionAmt"`
				EntryPrice       string `json:"entryPrice"`
				MarkPrice        string `json:"markPrice"`
				UnRealizedProfit string `json:"unRealizedProfit"`
				Leverage         string `json:"leverage"`
				MarginType       string `json:"marginType"`
			}
			if err := json.Unmarshal(body, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Position, 0, len(rows))
			for _, r := range rows {
				if floatOrZero(r.PositionAmt) == 0 {
					continue
				}
				margin := models.MarginCrossed
				if strings.EqualFold(r.MarginType, "isolated") {
					margin = models.MarginIsolated
				}
				out = append(out, models.Position{
					Symbol:           r.Symbol,
					PositionSide:     normPositionSide(r.PositionSide),
					PositionAmt:      r.PositionAmt,
					EntryPrice:       r.EntryPrice,
					MarkPrice:        r.MarkPrice,
					UnrealizedProfit: r.UnRealizedProfit,
					Leverage:         r.Leverage,
					MarginType:       margin,
				})
			}
			return out, nil
		})
}

// FuturesLeverageBracket returns the symbol's leverage ladder.
func (b *Binance) FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket] {
	if res, ok := guard[[]models.LeverageBracket](b, true, true); !ok {
		return res
	}
	path := b.apiPath("", "/fapi/v1/leverageBracket", "/dapi/v2/leverageBracket")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "leverageBracket", Weight: 1},
		func(ctx context.Context) ([]models.LeverageBracket, error) {
			params := url.Values{"symbol": {symbol}}
			body, err := b.do(ctx, b.client, "GET", path, params, true)
			if err != nil {
				return nil, err
			}
			return normBrackets(body, symbol)
		})
}

type rawBracket struct {
	Bracket          int     `json:"bracket"`
	InitialLeverage  float64 `json:"initialLeverage"`
	NotionalCap      float64 `json:"notionalCap"`
	NotionalFloor    float64 `json:"notionalFloor"`
	QtyCap           float64 `json:"qtyCap"`
	QtyFloor         float64 `json:"qtyFloor"`
	MaintMarginRatio float64 `json:"maintMarginRatio"`
}

func (r rawBracket) toBracket() models.LeverageBracket {
	top, floor := r.NotionalCap, r.NotionalFloor
	if top == 0 && r.QtyCap > 0 {
		// dapi brackets are quantity-denominated.
		top, floor = r.QtyCap, r.QtyFloor
	}
	return models.LeverageBracket{
		Bracket:          r.Bracket,
		InitialLeverage:  r.InitialLeverage,
		NotionalCap:      top,
		NotionalFloor:    floor,
		MaintMarginRatio: r.MaintMarginRatio,
	}
}

func normBrackets(body []byte, symbol string) ([]models.LeverageBracket, error) {
	var rows []struct {
		Symbol   string       `json:"symbol"`
		Pair     string       `json:"pair"`
		Brackets []rawBracket `json:"brackets"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Symbol == symbol || row.Pair == symbol || symbol == "" {
			out := make([]models.LeverageBracket, 0, len(row.Brackets))
			for _, br := range row.Brackets {
				out = append(out, br.toBracket())
			}
			return out, nil
		}
	}
	return nil, nil
}
