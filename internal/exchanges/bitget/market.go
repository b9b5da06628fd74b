package bitget

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// Candle granularities differ between spot and mix; canonical intervals the
// product cannot express are rejected up front.
var (
	spotIntervals = map[models.Interval]string{
		models.Interval1m:  "1min",
		models.Interval3m:  "3min",
		models.Interval5m:  "5min",
		models.Interval15m: "15min",
		models.Interval30m: "30min",
		models.Interval1h:  "1h",
		models.Interval4h:  "4h",
		models.Interval1d:  "1day",
		models.Interval1w:  "1week",
	}
	mixIntervals = map[models.Interval]string{
		models.Interval1m:  "1m",
		models.Interval3m:  "3m",
		models.Interval5m:  "5m",
		models.Interval15m: "15m",
		models.Interval30m: "30m",
		models.Interval1h:  "1H",
		models.Interval2h:  "2H",
		models.Interval4h:  "4H",
		models.Interval1d:  "1D",
		models.Interval1w:  "1W",
	}
)

func (b *Bitget) interval(iv models.Interval) (string, bool) {
	if b.futures() {
		s, ok := mixIntervals[iv]
		return s, ok
	}
	s, ok := spotIntervals[iv]
	return s, ok
}

type rawTicker struct {
	Symbol string `json:"symbol"`
	LastPr string `json:"lastPr"`
}

func (b *Bitget) fetchTickers(ctx context.Context, symbol string) ([]rawTicker, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	path := "/api/v2/spot/market/tickers"
	if b.futures() {
		path = "/api/v2/mix/market/ticker"
		if symbol == "" {
			path = "/api/v2/mix/market/tickers"
		}
		params.Set("productType", b.productType(symbol))
	}
	raw, err := b.do(ctx, "GET", path, params, nil, false)
	if err != nil {
		return nil, err
	}
	var rows []rawTicker
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestPrice returns the last traded price for symbol.
func (b *Bitget) LatestPrice(ctx context.Context, symbol string) models.Result[float64] {
	if res, ok := guard[float64](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:ticker", Weight: 1},
		func(ctx context.Context) (float64, error) {
			rows, err := b.fetchTickers(ctx, symbol)
			if err != nil {
				return 0, err
			}
			if len(rows) == 0 {
				return 0, &models.APIError{Provider: "bitget", Message: "no ticker for " + symbol}
			}
			return strconv.ParseFloat(rows[0].LastPr, 64)
		})
}

// GetAllPrices lists the latest price of every symbol on the product.
func (b *Bitget) GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice] {
	if res, ok := guard[[]models.TickerPrice](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:tickers", Weight: 1},
		func(ctx context.Context) ([]models.TickerPrice, error) {
			rows, err := b.fetchTickers(ctx, "")
			if err != nil {
				return nil, err
			}
			out := make([]models.TickerPrice, 0, len(rows))
			for _, r := range rows {
				out = append(out, models.TickerPrice{Symbol: r.Symbol, Price: r.LastPr})
			}
			return out, nil
		})
}

// GetCandles fetches OHLCV bars, ascending by open time.
func (b *Bitget) GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle] {
	if res, ok := guard[[]models.Candle](b, false, false); !ok {
		return res
	}
	gran, ok := b.interval(q.Interval)
	if !ok {
		return base.FailFast[[]models.Candle](b.caller, "unsupported interval "+string(q.Interval))
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:candles", Weight: 1},
		func(ctx context.Context) ([]models.Candle, error) {
			params := url.Values{"symbol": {q.Symbol}, "granularity": {gran}}
			if q.From > 0 {
				params.Set("startTime", strconv.FormatInt(q.From, 10))
			}
			if q.To > 0 {
				params.Set("endTime", strconv.FormatInt(q.To, 10))
			}
			if q.Count > 0 {
				params.Set("limit", strconv.Itoa(q.Count))
			}
			path := "/api/v2/spot/market/candles"
			if b.futures() {
				path = "/api/v2/mix/market/candles"
				params.Set("productType", b.productType(q.Symbol))
			}
			raw, err := b.do(ctx, "GET", path, params, nil, false)
			if err != nil {
				return nil, err
			}
			return normCandles(raw, q.Interval)
		})
}

// GetTrades lists recent public fills.
func (b *Bitget) GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade] {
	if res, ok := guard[[]models.Trade](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:fills", Weight: 1},
		func(ctx context.Context) ([]models.Trade, error) {
			params := url.Values{"symbol": {symbol}}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v2/spot/market/fills"
			if b.futures() {
				path = "/api/v2/mix/market/fills"
				params.Set("productType", b.productType(symbol))
			}
			raw, err := b.do(ctx, "GET", path, params, nil, false)
			if err != nil {
				return nil, err
			}
			var rows []struct {
				TradeID string `json:"tradeId"`
				Price   string `json:"price"`
				Size    string `json:"size"`
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
					Price:        r.Price,
					Qty:          r.Size,
					Time:         ms,
					IsBuyerMaker: r.Side == "sell",
				})
			}
			return out, nil
		})
}

func (b *Bitget) fetchInstruments(ctx context.Context, symbol string) ([]models.Instrument, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	path := "/api/v2/spot/public/symbols"
	if b.futures() {
		path = "/api/v2/mix/market/contracts"
		params.Set("productType", b.productType(symbol))
	}
	raw, err := b.do(ctx, "GET", path, params, nil, false)
	if err != nil {
		return nil, err
	}
	return normInstruments(raw)
}

// GetExchangeInfo returns the trading filters for one symbol.
func (b *Bitget) GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument] {
	if res, ok := guard[models.Instrument](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:symbols", Weight: 1},
		func(ctx context.Context) (models.Instrument, error) {
			insts, err := b.fetchInstruments(ctx, symbol)
			if err != nil {
				return models.Instrument{}, err
			}
			for _, inst := range insts {
				if inst.Pair == symbol {
					return inst, nil
				}
			}
			return models.Instrument{}, &models.APIError{Provider: "bitget", Message: "symbol " + symbol + " not found"}
		})
}

// GetAllExchangeInfo returns trading filters for every listed symbol.
func (b *Bitget) GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument] {
	if res, ok := guard[[]models.Instrument](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:symbols:all", Weight: 1},
		func(ctx context.Context) ([]models.Instrument, error) {
			return b.fetchInstruments(ctx, "")
		})
}

// GetUserFees returns the caller's maker/taker rates for one symbol.
func (b *Bitget) GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee] {
	if res, ok := guard[models.UserFee](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "common:trade-rate", Weight: 1},
		func(ctx context.Context) (models.UserFee, error) {
			business := "spot"
			if b.futures() {
				business = "mix"
			}
			params := url.Values{"symbol": {symbol}, "businessType": {business}}
			raw, err := b.do(ctx, "GET", "/api/v2/common/trade-rate", params, nil, true)
			if err != nil {
				return models.UserFee{}, err
			}
			var out struct {
				MakerFeeRate string `json:"makerFeeRate"`
				TakerFeeRate string `json:"takerFeeRate"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return models.UserFee{}, err
			}
			return models.UserFee{Maker: floatOrZero(out.MakerFeeRate), Taker: floatOrZero(out.TakerFeeRate)}, nil
		})
}

// GetAllUserFees resolves fees per listed symbol from the instrument list's
// account-level rates; Bitget has no bulk per-symbol fee endpoint.
func (b *Bitget) GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee] {
	insts := b.GetAllExchangeInfo(ctx)
	if !insts.OK {
		return models.Fail[[]models.PairFee](insts.Reason, insts.Usage, insts.TimeProfile)
	}
	if len(insts.Data) == 0 {
		return models.Ok([]models.PairFee{}, insts.Usage, insts.TimeProfile)
	}
	fee := b.GetUserFees(ctx, insts.Data[0].Pair)
	if !fee.OK {
		return models.Fail[[]models.PairFee](fee.Reason, fee.Usage, fee.TimeProfile)
	}
	out := make([]models.PairFee, 0, len(insts.Data))
	for _, inst := range insts.Data {
		out = append(out, models.PairFee{Pair: inst.Pair, UserFee: fee.Data})
	}
	return models.Ok(out, fee.Usage, fee.TimeProfile)
}
