package binance

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// Binance's kline encoding matches the canonical interval strings one to one.
var binanceIntervals = map[models.Interval]string{
	models.Interval1m:  "1m",
	models.Interval3m:  "3m",
	models.Interval5m:  "5m",
	models.Interval15m: "15m",
	models.Interval30m: "30m",
	models.Interval1h:  "1h",
	models.Interval2h:  "2h",
	models.Interval4h:  "4h",
	models.Interval8h:  "8h",
	models.Interval1d:  "1d",
	models.Interval1w:  "1w",
}

// coinmMaxRange is the widest window dapi answers in one kline request.
const coinmMaxRange = 200 * 24 * time.Hour

// LatestPrice returns the last traded price for symbol.
func (b *Binance) LatestPrice(ctx context.Context, symbol string) models.Result[float64] {
	if res, ok := guard[float64](b, false, false); !ok {
		return res
	}
	path := b.apiPath("/api/v3/ticker/price", "/fapi/v1/ticker/price", "/dapi/v1/ticker/price")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "ticker:price", Weight: 2},
		func(ctx context.Context) (float64, error) {
			body, err := b.do(ctx, b.client, "GET", path, url.Values{"symbol": {symbol}}, false)
			if err != nil {
				return 0, err
			}
			// dapi answers with a one-element array even for a single symbol.
			prices, err := normTickers(body)
			if err != nil || len(prices) == 0 {
				var one models.TickerPrice
				if uerr := json.Unmarshal(body, &one); uerr != nil {
					return 0, uerr
				}
				return strconv.ParseFloat(one.Price, 64)
			}
			return strconv.ParseFloat(prices[0].Price, 64)
		})
}

// GetAllPrices lists the latest price of every symbol on the product.
func (b *Binance) GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice] {
	if res, ok := guard[[]models.TickerPrice](b, false, false); !ok {
		return res
	}
	path := b.apiPath("/api/v3/ticker/price", "/fapi/v1/ticker/price", "/dapi/v1/ticker/price")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "ticker:all", Weight: 4},
		func(ctx context.Context) ([]models.TickerPrice, error) {
			body, err := b.do(ctx, b.client, "GET", path, nil, false)
			if err != nil {
				return nil, err
			}
			return normTickers(body)
		})
}

// GetCandles fetches OHLCV bars. Coin-margined klines cap the queryable range,
// so wide requests are split into 200-day windows and concatenated.
func (b *Binance) GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle] {
	if res, ok := guard[[]models.Candle](b, false, false); !ok {
		return res
	}
	iv, ok := binanceIntervals[q.Interval]
	if !ok {
		return base.FailFast[[]models.Candle](b.caller, "unsupported interval "+string(q.Interval))
	}
	path := b.apiPath("/api/v3/klines", "/fapi/v1/klines", "/dapi/v1/klines")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "klines", Weight: 5},
		func(ctx context.Context) ([]models.Candle, error) {
			spans := [][2]int64{{q.From, q.To}}
			if b.opts.Futures == models.ModeCoinM && q.From > 0 && q.To > q.From {
				spans = splitRange(q.From, q.To, coinmMaxRange.Milliseconds())
			}
			var out []models.Candle
			for i, span := range spans {
				if i > 0 {
					if err := b.caller.Admit(ctx, base.Endpoint{Name: "klines", Weight: 5}); err != nil {
						return nil, err
					}
				}
				params := url.Values{"symbol": {q.Symbol}, "interval": {iv}}
				if span[0] > 0 {
					params.Set("startTime", strconv.FormatInt(span[0], 10))
				}
				if span[1] > 0 {
					params.Set("endTime", strconv.FormatInt(span[1], 10))
				}
				if q.Count > 0 {
					params.Set("limit", strconv.Itoa(q.Count))
				}
				body, err := b.do(ctx, b.client, "GET", path, params, false)
				if err != nil {
					return nil, err
				}
				batch, err := normCandles(body)
				if err != nil {
					return nil, err
				}
				out = append(out, batch...)
			}
			return out, nil
		})
}

// splitRange cuts [from,to] into consecutive windows of at most max ms.
func splitRange(from, to, max int64) [][2]int64 {
	var spans [][2]int64
	for start := from; start < to; start += max {
		end := start + max
		if end > to {
			end = to
		}
		spans = append(spans, [2]int64{start, end})
	}
	return spans
}

// GetTrades lists recent public trades, newest last.
func (b *Binance) GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade] {
	if res, ok := guard[[]models.Trade](b, false, false); !ok {
		return res
	}
	path := b.apiPath("/api/v3/trades", "/fapi/v1/trades", "/dapi/v1/trades")
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "trades", Weight: 5},
		func(ctx context.Context) ([]models.Trade, error) {
			params := url.Values{"symbol": {symbol}}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			body, err := b.do(ctx, b.client, "GET", path, params, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				ID           int64  `json:"id"`
				Price        string `json:"price"`
				Qty          string `json:"qty"`
				Time         int64  `json:"time"`
				IsBuyerMaker bool   `json:"isBuyerMaker"`
			}
			if err := json.Unmarshal(body, &rows); err != nil {
				return nil, err
			}
			out := make([]models.Trade, 0, len(rows))
			for _, r := range rows {
				out = append(out, models.Trade{
					ID:           strconv.FormatInt(r.ID, 10),
					Price:        r.Price,
					Qty:          r.Qty,
					Time:         r.Time,
					IsBuyerMaker: r.IsBuyerMaker,
				})
			}
			return out, nil
		})
}

func (b *Binance) exchangeInfoPath() string {
	return b.apiPath("/api/v3/exchangeInfo", "/fapi/v1/exchangeInfo", "/dapi/v1/exchangeInfo")
}

// GetExchangeInfo returns the trading filters for one symbol.
func (b *Binance) GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument] {
	if res, ok := guard[models.Instrument](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "exchangeInfo", Weight: 20},
		func(ctx context.Context) (models.Instrument, error) {
			params := url.Values{}
			if !b.futures() {
				// Spot filters server-side; futures exchangeInfo has no
				// symbol parameter, filter locally.
				params.Set("symbol", symbol)
			}
			body, err := b.do(ctx, b.client, "GET", b.exchangeInfoPath(), params, false)
			if err != nil {
				return models.Instrument{}, err
			}
			insts, err := normInstruments(body)
			if err != nil {
				return models.Instrument{}, err
			}
			for _, inst := range insts {
				if inst.Pair == symbol {
					return inst, nil
				}
			}
			return models.Instrument{}, &models.APIError{
				Provider: string(b.product),
				Message:  "symbol " + symbol + " not found in exchange info",
			}
		})
}

// GetAllExchangeInfo returns trading filters for every listed symbol.
func (b *Binance) GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument] {
	if res, ok := guard[[]models.Instrument](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "exchangeInfo:all", Weight: 20},
		func(ctx context.Context) ([]models.Instrument, error) {
			body, err := b.do(ctx, b.client, "GET", b.exchangeInfoPath(), nil, false)
			if err != nil {
				return nil, err
			}
			return normInstruments(body)
		})
}

// GetUserFees returns the caller's commission rates for one symbol. Spot uses
// the sapi tradeFee endpoint; futures the per-product commissionRate.
func (b *Binance) GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee] {
	if res, ok := guard[models.UserFee](b, false, true); !ok {
		return res
	}
	if b.futures() {
		path := b.apiPath("", "/fapi/v1/commissionRate", "/dapi/v1/commissionRate")
		return base.Invoke(ctx, b.caller, base.Endpoint{Name: "commissionRate", Weight: 20},
			func(ctx context.Context) (models.UserFee, error) {
				body, err := b.do(ctx, b.client, "GET", path, url.Values{"symbol": {symbol}}, true)
				if err != nil {
					return models.UserFee{}, err
				}
				var out struct {
					Maker string `json:"makerCommissionRate"`
					Taker string `json:"takerCommissionRate"`
				}
				if err := json.Unmarshal(body, &out); err != nil {
					return models.UserFee{}, err
				}
				return models.UserFee{Maker: floatOrZero(out.Maker), Taker: floatOrZero(out.Taker)}, nil
			})
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "sapi/v1/asset/tradeFee", Weight: 1},
		func(ctx context.Context) (models.UserFee, error) {
			fees, err := b.fetchTradeFees(ctx, symbol)
			if err != nil {
				return models.UserFee{}, err
			}
			if len(fees) == 0 {
				return models.UserFee{}, &models.APIError{
					Provider: string(b.product),
					Message:  "no fee row for symbol " + symbol,
				}
			}
			return fees[0].UserFee, nil
		})
}

// GetAllUserFees lists commission rates for every spot symbol.
func (b *Binance) GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee] {
	if res, ok := guard[[]models.PairFee](b, false, true); !ok {
		return res
	}
	if b.futures() {
		return base.FailFast[[]models.PairFee](b.caller, "bulk fees are a spot-only query")
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "sapi/v1/asset/tradeFee:all", Weight: 1},
		func(ctx context.Context) ([]models.PairFee, error) {
			return b.fetchTradeFees(ctx, "")
		})
}

func (b *Binance) fetchTradeFees(ctx context.Context, symbol string) ([]models.PairFee, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := b.do(ctx, b.sapi, "GET", "/sapi/v1/asset/tradeFee", params, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol string `json:"symbol"`
		Maker  string `json:"makerCommission"`
		Taker  string `json:"takerCommission"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	out := make([]models.PairFee, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.PairFee{
			Pair:    r.Symbol,
			UserFee: models.UserFee{Maker: floatOrZero(r.Maker), Taker: floatOrZero(r.Taker)},
		})
	}
	return out, nil
}
