package coinbase

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// The venue names granularities and tops out at one day.
var granularities = map[models.Interval]string{
	models.Interval1m:  "ONE_MINUTE",
	models.Interval5m:  "FIVE_MINUTE",
	models.Interval15m: "FIFTEEN_MINUTE",
	models.Interval30m: "THIRTY_MINUTE",
	models.Interval1h:  "ONE_HOUR",
	models.Interval2h:  "TWO_HOUR",
	models.Interval1d:  "ONE_DAY",
}

// LatestPrice returns the product's current price.
func (c *Coinbase) LatestPrice(ctx context.Context, symbol string) models.Result[float64] {
	if res, ok := guard[float64](c, false); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "products:one", Weight: 1},
		func(ctx context.Context) (float64, error) {
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/products/"+symbol, nil, nil)
			if err != nil {
				return 0, err
			}
			var out rawProduct
			if err := json.Unmarshal(raw, &out); err != nil {
				return 0, err
			}
			if out.Price == "" {
				return 0, &models.APIError{Provider: "coinbase", Message: "no price for " + symbol}
			}
			return strconv.ParseFloat(out.Price, 64)
		})
}

func (c *Coinbase) fetchProducts(ctx context.Context) ([]rawProduct, error) {
	raw, err := c.do(ctx, "GET", "/api/v3/brokerage/products", nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Products []rawProduct `json:"products"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// GetAllPrices lists the current price of every listed product.
func (c *Coinbase) GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice] {
	if res, ok := guard[[]models.TickerPrice](c, false); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "products:all", Weight: 2},
		func(ctx context.Context) ([]models.TickerPrice, error) {
			products, err := c.fetchProducts(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]models.TickerPrice, 0, len(products))
			for _, p := range products {
				out = append(out, models.TickerPrice{Symbol: p.ProductID, Price: p.Price})
			}
			return out, nil
		})
}

// GetCandles fetches OHLCV bars, ascending by open time. The venue stamps
// bars in unix seconds and caps a request at 300 bars.
func (c *Coinbase) GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle] {
	if res, ok := guard[[]models.Candle](c, false); !ok {
		return res
	}
	gran, ok := granularities[q.Interval]
	if !ok {
		return base.FailFast[[]models.Candle](c.caller, "unsupported interval "+string(q.Interval))
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "products:candles", Weight: 1},
		func(ctx context.Context) ([]models.Candle, error) {
			to := q.To
			if to == 0 {
				to = c.caller.Clk.Now().UnixMilli()
			}
			from := q.From
			if from == 0 {
				bars := int64(q.Count)
				if bars == 0 {
					bars = 300
				}
				from = to - bars*q.Interval.Duration().Milliseconds()
			}
			params := url.Values{
				"granularity": {gran},
				"start":       {strconv.FormatInt(from/1000, 10)},
				"end":         {strconv.FormatInt(to/1000, 10)},
			}
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/products/"+q.Symbol+"/candles", params, nil)
			if err != nil {
				return nil, err
			}
			return normCandles(raw, q.Interval)
		})
}

// GetTrades lists recent public fills.
func (c *Coinbase) GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade] {
	if res, ok := guard[[]models.Trade](c, false); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "products:ticker", Weight: 1},
		func(ctx context.Context) ([]models.Trade, error) {
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			} else {
				params.Set("limit", "100")
			}
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/products/"+symbol+"/ticker", params, nil)
			if err != nil {
				return nil, err
			}
			var out struct {
				Trades []struct {
					TradeID string `json:"trade_id"`
					Price   string `json:"price"`
					Size    string `json:"size"`
					Side    string `json:"side"`
					Time    string `json:"time"`
				} `json:"trades"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			trades := make([]models.Trade, 0, len(out.Trades))
			for _, r := range out.Trades {
				ms := int64(-1)
				if t, err := time.Parse(time.RFC3339, r.Time); err == nil {
					ms = t.UnixMilli()
				}
				trades = append(trades, models.Trade{
					ID:           r.TradeID,
					Price:        r.Price,
					Qty:          r.Size,
					Time:         ms,
					IsBuyerMaker: r.Side == "SELL",
				})
			}
			return trades, nil
		})
}

// GetExchangeInfo returns the trading filters for one product.
func (c *Coinbase) GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument] {
	if res, ok := guard[models.Instrument](c, false); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "products:one", Weight: 1},
		func(ctx context.Context) (models.Instrument, error) {
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/products/"+symbol, nil, nil)
			if err != nil {
				return models.Instrument{}, err
			}
			var out rawProduct
			if err := json.Unmarshal(raw, &out); err != nil {
				return models.Instrument{}, err
			}
			return toInstrument(out), nil
		})
}

// GetAllExchangeInfo returns trading filters for every listed product.
func (c *Coinbase) GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument] {
	if res, ok := guard[[]models.Instrument](c, false); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "products:all", Weight: 2},
		func(ctx context.Context) ([]models.Instrument, error) {
			products, err := c.fetchProducts(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]models.Instrument, 0, len(products))
			for _, p := range products {
				out = append(out, toInstrument(p))
			}
			return out, nil
		})
}

// fetchFees reads the account's fee tier off the transaction summary.
func (c *Coinbase) fetchFees(ctx context.Context) (models.UserFee, error) {
	raw, err := c.do(ctx, "GET", "/api/v3/brokerage/transaction_summary", nil, nil)
	if err != nil {
		return models.UserFee{}, err
	}
	var out struct {
		FeeTier struct {
			MakerFeeRate string `json:"maker_fee_rate"`
			TakerFeeRate string `json:"taker_fee_rate"`
		} `json:"fee_tier"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.UserFee{}, err
	}
	return models.UserFee{
		Maker: floatOrZero(out.FeeTier.MakerFeeRate),
		Taker: floatOrZero(out.FeeTier.TakerFeeRate),
	}, nil
}

// GetUserFees returns the account's fee tier; rates are account-wide.
func (c *Coinbase) GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee] {
	if res, ok := guard[models.UserFee](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/transaction-summary", Weight: 1},
		func(ctx context.Context) (models.UserFee, error) {
			return c.fetchFees(ctx)
		})
}

// GetAllUserFees applies the account tier across every listed product.
func (c *Coinbase) GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee] {
	if res, ok := guard[[]models.PairFee](c, true); !ok {
		return res
	}
	insts := c.GetAllExchangeInfo(ctx)
	if !insts.OK {
		return models.Fail[[]models.PairFee](insts.Reason, insts.Usage, insts.TimeProfile)
	}
	fee := c.GetUserFees(ctx, "")
	if !fee.OK {
		return models.Fail[[]models.PairFee](fee.Reason, fee.Usage, fee.TimeProfile)
	}
	out := make([]models.PairFee, 0, len(insts.Data))
	for _, inst := range insts.Data {
		out = append(out, models.PairFee{Pair: inst.Pair, UserFee: fee.Data})
	}
	return models.Ok(out, fee.Usage, fee.TimeProfile)
}
