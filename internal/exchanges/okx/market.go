package okx

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// Hour-and-up bars are uppercase; day and week bars are pinned to UTC opens.
var okxBars = map[models.Interval]string{
	models.Interval1m:  "1m",
	models.Interval3m:  "3m",
	models.Interval5m:  "5m",
	models.Interval15m: "15m",
	models.Interval30m: "30m",
	models.Interval1h:  "1H",
	models.Interval2h:  "2H",
	models.Interval4h:  "4H",
	models.Interval1d:  "1Dutc",
	models.Interval1w:  "1Wutc",
}

// historyWindowBars is how far back the hot candle endpoint reaches; anything
// older must go through the slower history endpoint.
const historyWindowBars = 1400

// LatestPrice returns the last traded price for symbol.
func (o *OKX) LatestPrice(ctx context.Context, symbol string) models.Result[float64] {
	if res, ok := guard[float64](o, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "market/ticker", Weight: 1},
		func(ctx context.Context) (float64, error) {
			params := url.Values{"instId": {o.encode(symbol)}}
			raw, err := o.do(ctx, "GET", "/api/v5/market/ticker", params, nil, false)
			if err != nil {
				return 0, err
			}
			var rows []struct {
				Last string `json:"last"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return 0, err
			}
			if len(rows) == 0 {
				return 0, &models.APIError{Provider: "okx", Message: "no ticker for " + symbol}
			}
			return strconv.ParseFloat(rows[0].Last, 64)
		})
}

// GetAllPrices lists the latest price of every symbol on the product.
func (o *OKX) GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice] {
	if res, ok := guard[[]models.TickerPrice](o, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "market/tickers", Weight: 1},
		func(ctx context.Context) ([]models.TickerPrice, error) {
			params := url.Values{"instType": {o.instType()}}
			raw, err := o.do(ctx, "GET", "/api/v5/market/tickers", params, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				InstID string `json:"instId"`
				Last   string `json:"last"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.TickerPrice, 0, len(rows))
			for _, r := range rows {
				out = append(out, models.TickerPrice{Symbol: o.decode(r.InstID), Price: r.Last})
			}
			return out, nil
		})
}

// GetCandles fetches OHLCV bars, ascending by open time. Queries reaching
// further back than the hot endpoint's retention route to history-candles,
// which is slower and separately rate-limited.
func (o *OKX) GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle] {
	if res, ok := guard[[]models.Candle](o, false, false); !ok {
		return res
	}
	bar, ok := okxBars[q.Interval]
	if !ok {
		return base.FailFast[[]models.Candle](o.caller, "unsupported interval "+string(q.Interval))
	}

	endpoint := "market/candles"
	path := "/api/v5/market/candles"
	if q.From > 0 {
		age := o.caller.Clk.Now().UnixMilli() - q.From
		if age > historyWindowBars*q.Interval.Duration().Milliseconds() {
			endpoint = "market/history-candles"
			path = "/api/v5/market/history-candles"
		}
	}

	return base.Invoke(ctx, o.caller, base.Endpoint{Name: endpoint, Weight: 1, TimeoutScale: 2},
		func(ctx context.Context) ([]models.Candle, error) {
			params := url.Values{"instId": {o.encode(q.Symbol)}, "bar": {bar}}
			// after/before are exclusive cursor bounds, newest first.
			if q.To > 0 {
				params.Set("after", strconv.FormatInt(q.To+1, 10))
			}
			if q.From > 0 {
				params.Set("before", strconv.FormatInt(q.From-1, 10))
			}
			if q.Count > 0 {
				params.Set("limit", strconv.Itoa(q.Count))
			}
			raw, err := o.do(ctx, "GET", path, params, nil, false)
			if err != nil {
				return nil, err
			}
			return normCandles(raw, q.Interval)
		})
}

// GetTrades lists recent public fills.
func (o *OKX) GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade] {
	if res, ok := guard[[]models.Trade](o, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "market/trades", Weight: 1},
		func(ctx context.Context) ([]models.Trade, error) {
			params := url.Values{"instId": {o.encode(symbol)}}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			raw, err := o.do(ctx, "GET", "/api/v5/market/trades", params, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				TradeID string `json:"tradeId"`
				Px      string `json:"px"`
				Sz      string `json:"sz"`
				Side    string `json:"side"`
				TS      string `json:"ts"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Trade, 0, len(rows))
			for _, r := range rows {
				ms, _ := strconv.ParseInt(r.TS, 10, 64)
				out = append(out, models.Trade{
					ID:           r.TradeID,
					Price:        r.Px,
					Qty:          r.Sz,
					Time:         ms,
					IsBuyerMaker: r.Side == "sell",
				})
			}
			return out, nil
		})
}

func (o *OKX) fetchInstruments(ctx context.Context, symbol string) ([]models.Instrument, error) {
	params := url.Values{"instType": {o.instType()}}
	if symbol != "" {
		params.Set("instId", o.encode(symbol))
	}
	raw, err := o.do(ctx, "GET", "/api/v5/public/instruments", params, nil, false)
	if err != nil {
		return nil, err
	}
	var rows []rawInstrument
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, o.toInstrument(r))
	}
	return out, nil
}

// GetExchangeInfo returns the trading filters for one symbol.
func (o *OKX) GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument] {
	if res, ok := guard[models.Instrument](o, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "public/instruments", Weight: 1},
		func(ctx context.Context) (models.Instrument, error) {
			insts, err := o.fetchInstruments(ctx, symbol)
			if err != nil {
				return models.Instrument{}, err
			}
			if len(insts) == 0 {
				return models.Instrument{}, &models.APIError{Provider: "okx", Message: "symbol " + symbol + " not found"}
			}
			return insts[0], nil
		})
}

// GetAllExchangeInfo returns trading filters for every listed symbol.
func (o *OKX) GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument] {
	if res, ok := guard[[]models.Instrument](o, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "public/instruments:all", Weight: 1},
		func(ctx context.Context) ([]models.Instrument, error) {
			return o.fetchInstruments(ctx, "")
		})
}

// fetchFee reads the account fee rate; the venue reports fees as negative
// numbers and rebates as positive, so signs flip to the usual convention.
func (o *OKX) fetchFee(ctx context.Context, symbol string) (models.UserFee, error) {
	params := url.Values{"instType": {o.instType()}}
	if symbol != "" {
		params.Set("instId", o.encode(symbol))
	}
	raw, err := o.do(ctx, "GET", "/api/v5/account/trade-fee", params, nil, true)
	if err != nil {
		return models.UserFee{}, err
	}
	var rows []struct {
		Maker string `json:"maker"`
		Taker string `json:"taker"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return models.UserFee{}, err
	}
	if len(rows) == 0 {
		return models.UserFee{}, &models.APIError{Provider: "okx", Message: "no fee data"}
	}
	return models.UserFee{
		Maker: -floatOrZero(rows[0].Maker),
		Taker: -floatOrZero(rows[0].Taker),
	}, nil
}

// GetUserFees returns the caller's maker/taker rates for one symbol.
func (o *OKX) GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee] {
	if res, ok := guard[models.UserFee](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/trade-fee", Weight: 1},
		func(ctx context.Context) (models.UserFee, error) {
			return o.fetchFee(ctx, symbol)
		})
}

// GetAllUserFees applies the product-level fee tier across listed symbols;
// OKX fees are tiered per account, not per symbol.
func (o *OKX) GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee] {
	if res, ok := guard[[]models.PairFee](o, false, true); !ok {
		return res
	}
	insts := o.GetAllExchangeInfo(ctx)
	if !insts.OK {
		return models.Fail[[]models.PairFee](insts.Reason, insts.Usage, insts.TimeProfile)
	}
	fee := o.GetUserFees(ctx, "")
	if !fee.OK {
		return models.Fail[[]models.PairFee](fee.Reason, fee.Usage, fee.TimeProfile)
	}
	out := make([]models.PairFee, 0, len(insts.Data))
	for _, inst := range insts.Data {
		out = append(out, models.PairFee{Pair: inst.Pair, UserFee: fee.Data})
	}
	return models.Ok(out, fee.Usage, fee.TimeProfile)
}
