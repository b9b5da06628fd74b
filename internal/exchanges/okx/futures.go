package okx

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// FuturesChangeLeverage sets cross leverage for the contract.
func (o *OKX) FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool] {
	if res, ok := guard[bool](o, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/set-leverage", Weight: 1},
		func(ctx context.Context) (bool, error) {
			body := map[string]any{
				"instId":  o.encode(symbol),
				"lever":   strconv.Itoa(leverage),
				"mgnMode": "cross",
			}
			if _, err := o.do(ctx, "POST", "/api/v5/account/set-leverage", nil, body, true); err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesChangeMarginType re-applies the contract's current leverage under
// the requested margin mode; margin mode is a property of the leverage
// setting on this venue, not a standalone switch.
func (o *OKX) FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool] {
	if res, ok := guard[bool](o, true, true); !ok {
		return res
	}
	mode := "cross"
	if margin == models.MarginIsolated {
		mode = "isolated"
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/set-leverage", Weight: 1},
		func(ctx context.Context) (bool, error) {
			lever := "10"
			params := url.Values{"instId": {o.encode(symbol)}, "mgnMode": {mode}}
			if raw, err := o.do(ctx, "GET", "/api/v5/account/leverage-info", params, nil, true); err == nil {
				var rows []struct {
					Lever string `json:"lever"`
				}
				if json.Unmarshal(raw, &rows) == nil && len(rows) > 0 && rows[0].Lever != "" {
					lever = rows[0].Lever
				}
			}
			if err := o.caller.Admit(ctx, base.Endpoint{Name: "account/set-leverage", Weight: 1}); err != nil {
				return false, err
			}
			body := map[string]any{
				"instId":  o.encode(symbol),
				"lever":   lever,
				"mgnMode": mode,
			}
			if _, err := o.do(ctx, "POST", "/api/v5/account/set-leverage", nil, body, true); err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesGetHedge reports whether the account runs long/short mode.
func (o *OKX) FuturesGetHedge(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](o, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/config", Weight: 1},
		func(ctx context.Context) (bool, error) {
			cfg, err := o.fetchConfig(ctx)
			if err != nil {
				return false, err
			}
			return cfg.PosMode == "long_short_mode", nil
		})
}

// FuturesSetHedge switches between net and long/short position modes.
func (o *OKX) FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool] {
	if res, ok := guard[bool](o, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/set-position-mode", Weight: 1},
		func(ctx context.Context) (bool, error) {
			mode := "net_mode"
			if hedge {
				mode = "long_short_mode"
			}
			body := map[string]any{"posMode": mode}
			if _, err := o.do(ctx, "POST", "/api/v5/account/set-position-mode", nil, body, true); err != nil {
				return false, err
			}
			return true, nil
		})
}

// FuturesGetPositions lists open positions; empty symbol lists them all.
func (o *OKX) FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position] {
	if res, ok := guard[[]models.Position](o, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/positions", Weight: 1},
		func(ctx context.Context) ([]models.Position, error) {
			params := url.Values{"instType": {"SWAP"}}
			if symbol != "" {
				params.Set("instId", o.encode(symbol))
			}
			raw, err := o.do(ctx, "GET", "/api/v5/account/positions", params, nil, true)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				InstID  string `json:"instId"`
				PosSide string `json:"posSide"`
				Pos     string `json:"pos"`
				AvgPx   string `json:"avgPx"`
				MarkPx  string `json:"markPx"`
				Upl     string `json:"upl"`
				Lever   string `json:"lever"`
				MgnMode string `json:"mgnMode"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Position, 0, len(rows))
			for _, r := range rows {
				if floatOrZero(r.Pos) == 0 {
					continue
				}
				side := models.PositionBoth
				switch r.PosSide {
				case "long":
					side = models.PositionLong
				case "short":
					side = models.PositionShort
				}
				margin := models.MarginCrossed
				if r.MgnMode == "isolated" {
					margin = models.MarginIsolated
				}
				amt := r.Pos
				if r.PosSide == "short" && floatOrZero(amt) > 0 {
					amt = "-" + amt
				}
				out = append(out, models.Position{
					Symbol:           o.decode(r.InstID),
					PositionSide:     side,
					PositionAmt:      amt,
					EntryPrice:       r.AvgPx,
					MarkPrice:        r.MarkPx,
					UnrealizedProfit: r.Upl,
					Leverage:         r.Lever,
					MarginType:       margin,
				})
			}
			return out, nil
		})
}

// FuturesLeverageBracket returns the contract's position-tier ladder.
func (o *OKX) FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket] {
	if res, ok := guard[[]models.LeverageBracket](o, true, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "public/position-tiers", Weight: 1},
		func(ctx context.Context) ([]models.LeverageBracket, error) {
			params := url.Values{
				"instType": {"SWAP"},
				"tdMode":   {"cross"},
				"instId":   {o.encode(symbol)},
			}
			raw, err := o.do(ctx, "GET", "/api/v5/public/position-tiers", params, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				Tier     string `json:"tier"`
				MinSz    string `json:"minSz"`
				MaxSz    string `json:"maxSz"`
				MaxLever string `json:"maxLever"`
				MMR      string `json:"mmr"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.LeverageBracket, 0, len(rows))
			for _, r := range rows {
				out = append(out, models.LeverageBracket{
					Bracket:          int(floatOrZero(r.Tier)),
					InitialLeverage:  floatOrZero(r.MaxLever),
					NotionalFloor:    floatOrZero(r.MinSz),
					NotionalCap:      floatOrZero(r.MaxSz),
					MaintMarginRatio: floatOrZero(r.MMR),
				})
			}
			return out, nil
		})
}
