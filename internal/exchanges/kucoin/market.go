package kucoin

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

// Spot names intervals, futures numbers them in minutes; neither product
// covers the whole canonical set (spot lacks nothing here, futures lacks 3m).
var (
	spotIntervals = map[models.Interval]string{
		models.Interval1m:  "1min",
		models.Interval3m:  "3min",
		models.Interval5m:  "5min",
		models.Interval15m: "15min",
		models.Interval30m: "30min",
		models.Interval1h:  "1hour",
		models.Interval2h:  "2hour",
		models.Interval4h:  "4hour",
		models.Interval8h:  "8hour",
		models.Interval1d:  "1day",
		models.Interval1w:  "1week",
	}
	futuresGranularity = map[models.Interval]string{
		models.Interval1m:  "1",
		models.Interval5m:  "5",
		models.Interval15m: "15",
		models.Interval30m: "30",
		models.Interval1h:  "60",
		models.Interval2h:  "120",
		models.Interval4h:  "240",
		models.Interval8h:  "480",
		models.Interval1d:  "1440",
		models.Interval1w:  "10080",
	}
)

func (k *KuCoin) interval(iv models.Interval) (string, bool) {
	if k.futures() {
		s, ok := futuresGranularity[iv]
		return s, ok
	}
	s, ok := spotIntervals[iv]
	return s, ok
}

// LatestPrice returns the last traded price for symbol.
func (k *KuCoin) LatestPrice(ctx context.Context, symbol string) models.Result[float64] {
	if res, ok := guard[float64](k, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("market:ticker", limiter.KindRequest, 2),
		func(ctx context.Context) (float64, error) {
			params := url.Values{"symbol": {k.encode(symbol)}}
			path := "/api/v1/market/orderbook/level1"
			if k.futures() {
				path = "/api/v1/ticker"
			}
			raw, err := k.do(ctx, "GET", path, params, nil, false)
			if err != nil {
				return 0, err
			}
			var out struct {
				Price string `json:"price"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return 0, err
			}
			if out.Price == "" {
				return 0, &models.APIError{Provider: "kucoin", Message: "no ticker for " + symbol}
			}
			return strconv.ParseFloat(out.Price, 64)
		})
}

// GetAllPrices lists the latest price of every symbol on the product.
func (k *KuCoin) GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice] {
	if res, ok := guard[[]models.TickerPrice](k, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("market:tickers", limiter.KindRequest, 15),
		func(ctx context.Context) ([]models.TickerPrice, error) {
			if k.futures() {
				raw, err := k.do(ctx, "GET", "/api/v1/allTickers", nil, nil, false)
				if err != nil {
					return nil, err
				}
				var rows []struct {
					Symbol string `json:"symbol"`
					Price  string `json:"price"`
				}
				if err := json.Unmarshal(raw, &rows); err != nil {
					return nil, err
				}
				out := make([]models.TickerPrice, 0, len(rows))
				for _, r := range rows {
					out = append(out, models.TickerPrice{Symbol: k.decode(r.Symbol), Price: r.Price})
				}
				return out, nil
			}

			raw, err := k.do(ctx, "GET", "/api/v1/market/allTickers", nil, nil, false)
			if err != nil {
				return nil, err
			}
			var out struct {
				Ticker []struct {
					Symbol string `json:"symbol"`
					Last   string `json:"last"`
				} `json:"ticker"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			prices := make([]models.TickerPrice, 0, len(out.Ticker))
			for _, t := range out.Ticker {
				prices = append(prices, models.TickerPrice{Symbol: t.Symbol, Price: t.Last})
			}
			return prices, nil
		})
}

// GetCandles fetches OHLCV bars, ascending by open time. Spot stamps rows in
// seconds and serves them newest first; both quirks are normalized away.
func (k *KuCoin) GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle] {
	if res, ok := guard[[]models.Candle](k, false, false); !ok {
		return res
	}
	iv, ok := k.interval(q.Interval)
	if !ok {
		return base.FailFast[[]models.Candle](k.caller, "unsupported interval "+string(q.Interval))
	}
	return base.Invoke(ctx, k.caller, k.ep("market:candles", limiter.KindRequest, 3),
		func(ctx context.Context) ([]models.Candle, error) {
			params := url.Values{"symbol": {k.encode(q.Symbol)}}
			if k.futures() {
				params.Set("granularity", iv)
				if q.From > 0 {
					params.Set("from", strconv.FormatInt(q.From, 10))
				}
				if q.To > 0 {
					params.Set("to", strconv.FormatInt(q.To, 10))
				}
				raw, err := k.do(ctx, "GET", "/api/v1/kline/query", params, nil, false)
				if err != nil {
					return nil, err
				}
				return normFuturesCandles(raw, q.Interval)
			}

			params.Set("type", iv)
			if q.From > 0 {
				params.Set("startAt", strconv.FormatInt(q.From/1000, 10))
			}
			if q.To > 0 {
				params.Set("endAt", strconv.FormatInt(q.To/1000, 10))
			}
			raw, err := k.do(ctx, "GET", "/api/v1/market/candles", params, nil, false)
			if err != nil {
				return nil, err
			}
			return normSpotCandles(raw, q.Interval)
		})
}

// GetTrades lists recent public fills. Trade stamps arrive in nanoseconds.
func (k *KuCoin) GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade] {
	if res, ok := guard[[]models.Trade](k, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("market:histories", limiter.KindRequest, 3),
		func(ctx context.Context) ([]models.Trade, error) {
			params := url.Values{"symbol": {k.encode(symbol)}}
			path := "/api/v1/market/histories"
			if k.futures() {
				path = "/api/v1/trade/history"
			}
			raw, err := k.do(ctx, "GET", path, params, nil, false)
			if err != nil {
				return nil, err
			}
			// sequence is a string on spot and a number on futures.
			var rows []struct {
				Sequence json.RawMessage `json:"sequence"`
				Price    string          `json:"price"`
				Size     string          `json:"size"`
				Side     string          `json:"side"`
				Time     int64           `json:"time"`
				TS       int64           `json:"ts"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Trade, 0, len(rows))
			for _, r := range rows {
				ns := r.Time
				if ns == 0 {
					ns = r.TS
				}
				out = append(out, models.Trade{
					ID:           strings.Trim(string(r.Sequence), `"`),
					Price:        r.Price,
					Qty:          r.Size,
					Time:         nsToMs(ns),
					IsBuyerMaker: r.Side == "sell",
				})
				if limit > 0 && len(out) == limit {
					break
				}
			}
			return out, nil
		})
}

// GetExchangeInfo returns the trading filters for one symbol.
func (k *KuCoin) GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument] {
	if res, ok := guard[models.Instrument](k, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("market:symbol", limiter.KindRequest, 4),
		func(ctx context.Context) (models.Instrument, error) {
			if k.futures() {
				raw, err := k.do(ctx, "GET", "/api/v1/contracts/"+k.encode(symbol), nil, nil, false)
				if err != nil {
					return models.Instrument{}, err
				}
				var r rawContract
				if err := json.Unmarshal(raw, &r); err != nil {
					return models.Instrument{}, err
				}
				return k.contractToInstrument(r), nil
			}

			raw, err := k.do(ctx, "GET", "/api/v2/symbols/"+symbol, nil, nil, false)
			if err != nil {
				return models.Instrument{}, err
			}
			var r rawSymbol
			if err := json.Unmarshal(raw, &r); err != nil {
				return models.Instrument{}, err
			}
			return k.toInstrument(r)
		})
}

// GetAllExchangeInfo returns trading filters for every listed symbol.
func (k *KuCoin) GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument] {
	if res, ok := guard[[]models.Instrument](k, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("market:symbols", limiter.KindRequest, 4),
		func(ctx context.Context) ([]models.Instrument, error) {
			if k.futures() {
				raw, err := k.do(ctx, "GET", "/api/v1/contracts/active", nil, nil, false)
				if err != nil {
					return nil, err
				}
				var rows []rawContract
				if err := json.Unmarshal(raw, &rows); err != nil {
					return nil, err
				}
				out := make([]models.Instrument, 0, len(rows))
				for _, r := range rows {
					out = append(out, k.contractToInstrument(r))
				}
				return out, nil
			}

			raw, err := k.do(ctx, "GET", "/api/v2/symbols", nil, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []rawSymbol
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Instrument, 0, len(rows))
			for _, r := range rows {
				inst, err := k.toInstrument(r)
				if err != nil {
					return nil, err
				}
				out = append(out, inst)
			}
			return out, nil
		})
}

type rawFee struct {
	Symbol       string `json:"symbol"`
	MakerFeeRate string `json:"makerFeeRate"`
	TakerFeeRate string `json:"takerFeeRate"`
}

// GetUserFees returns the caller's maker/taker rates for one symbol.
func (k *KuCoin) GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee] {
	if res, ok := guard[models.UserFee](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("trade-fees", limiter.KindRequest, 3),
		func(ctx context.Context) (models.UserFee, error) {
			if k.futures() {
				params := url.Values{"symbol": {k.encode(symbol)}}
				raw, err := k.do(ctx, "GET", "/api/v1/trade-fees", params, nil, true)
				if err != nil {
					return models.UserFee{}, err
				}
				var r rawFee
				if err := json.Unmarshal(raw, &r); err != nil {
					return models.UserFee{}, err
				}
				return models.UserFee{Maker: floatOrZero(r.MakerFeeRate), Taker: floatOrZero(r.TakerFeeRate)}, nil
			}

			params := url.Values{"symbols": {symbol}}
			raw, err := k.do(ctx, "GET", "/api/v1/trade-fees", params, nil, true)
			if err != nil {
				return models.UserFee{}, err
			}
			var rows []rawFee
			if err := json.Unmarshal(raw, &rows); err != nil {
				return models.UserFee{}, err
			}
			if len(rows) == 0 {
				return models.UserFee{}, &models.APIError{Provider: "kucoin", Message: "no fee data for " + symbol}
			}
			return models.UserFee{Maker: floatOrZero(rows[0].MakerFeeRate), Taker: floatOrZero(rows[0].TakerFeeRate)}, nil
		})
}

// GetAllUserFees applies the account's base rate across the listed symbols;
// per-symbol rates would cost one request per ten symbols.
func (k *KuCoin) GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee] {
	if res, ok := guard[[]models.PairFee](k, false, true); !ok {
		return res
	}
	insts := k.GetAllExchangeInfo(ctx)
	if !insts.OK {
		return models.Fail[[]models.PairFee](insts.Reason, insts.Usage, insts.TimeProfile)
	}
	fee := base.Invoke(ctx, k.caller, k.ep("base-fee", limiter.KindRequest, 3),
		func(ctx context.Context) (models.UserFee, error) {
			raw, err := k.do(ctx, "GET", "/api/v1/base-fee", nil, nil, true)
			if err != nil {
				return models.UserFee{}, err
			}
			var r rawFee
			if err := json.Unmarshal(raw, &r); err != nil {
				return models.UserFee{}, err
			}
			return models.UserFee{Maker: floatOrZero(r.MakerFeeRate), Taker: floatOrZero(r.TakerFeeRate)}, nil
		})
	if !fee.OK {
		return models.Fail[[]models.PairFee](fee.Reason, fee.Usage, fee.TimeProfile)
	}
	out := make([]models.PairFee, 0, len(insts.Data))
	for _, inst := range insts.Data {
		out = append(out, models.PairFee{Pair: inst.Pair, UserFee: fee.Data})
	}
	return models.Ok(out, fee.Usage, fee.TimeProfile)
}
