package bybit

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

var bybitIntervals = map[models.Interval]string{
	models.Interval1m:  "1",
	models.Interval3m:  "3",
	models.Interval5m:  "5",
	models.Interval15m: "15",
	models.Interval30m: "30",
	models.Interval1h:  "60",
	models.Interval2h:  "120",
	models.Interval4h:  "240",
	models.Interval8h:  "360",
	models.Interval1d:  "D",
	models.Interval1w:  "W",
}

type rawTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

func (b *Bybit) fetchTickers(ctx context.Context, symbol string) ([]rawTicker, error) {
	params := url.Values{"category": {b.category()}}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	raw, err := b.do(ctx, "GET", "/v5/market/tickers", params, nil, false)
	if err != nil {
		return nil, err
	}
	var lr struct {
		List []rawTicker `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	return lr.List, nil
}

// LatestPrice returns the last traded price for symbol.
func (b *Bybit) LatestPrice(ctx context.Context, symbol string) models.Result[float64] {
	if res, ok := guard[float64](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:tickers", Weight: 1},
		func(ctx context.Context) (float64, error) {
			list, err := b.fetchTickers(ctx, symbol)
			if err != nil {
				return 0, err
			}
			if len(list) == 0 {
				return 0, &models.APIError{Provider: "bybit", Message: "no ticker for " + symbol}
			}
			return strconv.ParseFloat(list[0].LastPrice, 64)
		})
}

// GetAllPrices lists the latest price of every symbol in the category.
func (b *Bybit) GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice] {
	if res, ok := guard[[]models.TickerPrice](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:tickers:all", Weight: 1},
		func(ctx context.Context) ([]models.TickerPrice, error) {
			list, err := b.fetchTickers(ctx, "")
			if err != nil {
				return nil, err
			}
			out := make([]models.TickerPrice, 0, len(list))
			for _, t := range list {
				out = append(out, models.TickerPrice{Symbol: t.Symbol, Price: t.LastPrice})
			}
			return out, nil
		})
}

// GetCandles fetches OHLCV bars, ascending by open time.
func (b *Bybit) GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle] {
	if res, ok := guard[[]models.Candle](b, false, false); !ok {
		return res
	}
	iv, ok := bybitIntervals[q.Interval]
	if !ok {
		return base.FailFast[[]models.Candle](b.caller, "unsupported interval "+string(q.Interval))
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:kline", Weight: 1},
		func(ctx context.Context) ([]models.Candle, error) {
			params := url.Values{
				"category": {b.category()},
				"symbol":   {q.Symbol},
				"interval": {iv},
			}
			if q.From > 0 {
				params.Set("start", strconv.FormatInt(q.From, 10))
			}
			if q.To > 0 {
				params.Set("end", strconv.FormatInt(q.To, 10))
			}
			if q.Count > 0 {
				params.Set("limit", strconv.Itoa(q.Count))
			}
			raw, err := b.do(ctx, "GET", "/v5/market/kline", params, nil, false)
			if err != nil {
				return nil, err
			}
			return normCandles(raw, q.Interval)
		})
}

// GetTrades lists recent public trades.
func (b *Bybit) GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade] {
	if res, ok := guard[[]models.Trade](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:recent-trade", Weight: 1},
		func(ctx context.Context) ([]models.Trade, error) {
			params := url.Values{"category": {b.category()}, "symbol": {symbol}}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			raw, err := b.do(ctx, "GET", "/v5/market/recent-trade", params, nil, false)
			if err != nil {
				return nil, err
			}
			var lr struct {
				List []struct {
					ExecID string `json:"execId"`
					Price  string `json:"price"`
					Size   string `json:"size"`
					Time   string `json:"time"`
					Side   string `json:"side"`
				} `json:"list"`
			}
			if err := json.Unmarshal(raw, &lr); err != nil {
				return nil, err
			}
			out := make([]models.Trade, 0, len(lr.List))
			for _, t := range lr.List {
				ms, _ := strconv.ParseInt(t.Time, 10, 64)
				out = append(out, models.Trade{
					ID:           t.ExecID,
					Price:        t.Price,
					Qty:          t.Size,
					Time:         ms,
					IsBuyerMaker: t.Side == "Sell", // taker sold into the bid
				})
			}
			return out, nil
		})
}

// GetExchangeInfo returns the trading filters for one symbol.
func (b *Bybit) GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument] {
	if res, ok := guard[models.Instrument](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:instruments-info", Weight: 1},
		func(ctx context.Context) (models.Instrument, error) {
			params := url.Values{"category": {b.category()}, "symbol": {symbol}}
			raw, err := b.do(ctx, "GET", "/v5/market/instruments-info", params, nil, false)
			if err != nil {
				return models.Instrument{}, err
			}
			insts, err := normInstruments(raw)
			if err != nil {
				return models.Instrument{}, err
			}
			if len(insts) == 0 {
				return models.Instrument{}, &models.APIError{Provider: "bybit", Message: "symbol " + symbol + " not found"}
			}
			return insts[0], nil
		})
}

// GetAllExchangeInfo returns trading filters for every symbol in the category.
func (b *Bybit) GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument] {
	if res, ok := guard[[]models.Instrument](b, false, false); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "market:instruments-info:all", Weight: 1},
		func(ctx context.Context) ([]models.Instrument, error) {
			params := url.Values{"category": {b.category()}, "limit": {"1000"}}
			raw, err := b.do(ctx, "GET", "/v5/market/instruments-info", params, nil, false)
			if err != nil {
				return nil, err
			}
			return normInstruments(raw)
		})
}

// GetUserFees returns the caller's maker/taker rates for one symbol.
func (b *Bybit) GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee] {
	if res, ok := guard[models.UserFee](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:fee-rate", Weight: 1},
		func(ctx context.Context) (models.UserFee, error) {
			fees, err := b.fetchFeeRates(ctx, symbol)
			if err != nil {
				return models.UserFee{}, err
			}
			if len(fees) == 0 {
				return models.UserFee{}, &models.APIError{Provider: "bybit", Message: "no fee row for " + symbol}
			}
			return fees[0].UserFee, nil
		})
}

// GetAllUserFees lists maker/taker rates for every symbol.
func (b *Bybit) GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee] {
	if res, ok := guard[[]models.PairFee](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:fee-rate:all", Weight: 1},
		func(ctx context.Context) ([]models.PairFee, error) {
			return b.fetchFeeRates(ctx, "")
		})
}

func (b *Bybit) fetchFeeRates(ctx context.Context, symbol string) ([]models.PairFee, error) {
	params := url.Values{"category": {b.category()}}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	raw, err := b.do(ctx, "GET", "/v5/account/fee-rate", params, nil, true)
	if err != nil {
		return nil, err
	}
	var lr struct {
		List []struct {
			Symbol       string `json:"symbol"`
			MakerFeeRate string `json:"makerFeeRate"`
			TakerFeeRate string `json:"takerFeeRate"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	out := make([]models.PairFee, 0, len(lr.List))
	for _, row := range lr.List {
		out = append(out, models.PairFee{
			Pair:    row.Symbol,
			UserFee: models.UserFee{Maker: floatOrZero(row.MakerFeeRate), Taker: floatOrZero(row.TakerFeeRate)},
		})
	}
	return out, nil
}
