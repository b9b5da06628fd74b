package coinbase

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

type orderConfig struct {
	MarketIOC *struct {
		QuoteSize string `json:"quote_size"`
		BaseSize  string `json:"base_size"`
	} `json:"market_market_ioc"`
	LimitGTC *struct {
		BaseSize   string `json:"base_size"`
		LimitPrice string `json:"limit_price"`
	} `json:"limit_limit_gtc"`
}

type rawOrder struct {
	OrderID              string      `json:"order_id"`
	ClientOrderID        string      `json:"client_order_id"`
	ProductID            string      `json:"product_id"`
	Side                 string      `json:"side"`
	Status               string      `json:"status"`
	Config               orderConfig `json:"order_configuration"`
	CreatedTime          string      `json:"created_time"`
	CompletionPercentage string      `json:"completion_percentage"`
	FilledSize           string      `json:"filled_size"`
	AverageFilledPrice   string      `json:"average_filled_price"`
	FilledValue          string      `json:"filled_value"`
}

// normStatus maps the venue's lifecycle states; progress on a still-open
// order is only visible through completion_percentage.
func normStatus(status, completion string) models.OrderStatus {
	switch status {
	case "OPEN", "PENDING", "QUEUED":
		if floatOrZero(completion) > 0 {
			return models.StatusPartiallyFilled
		}
		return models.StatusNew
	case "FILLED":
		return models.StatusFilled
	default:
		return models.StatusCanceled
	}
}

func normSide(s string) models.OrderSide {
	if strings.EqualFold(s, "SELL") {
		return models.SideSell
	}
	return models.SideBuy
}

// toOrder derives the canonical type from the order configuration: a limit
// config is LIMIT, everything else (market ioc, future config shapes) is
// MARKET by policy.
func toOrder(r rawOrder) models.Order {
	typ := models.TypeMarket
	price := r.AverageFilledPrice
	qty := ""
	switch {
	case r.Config.LimitGTC != nil:
		typ = models.TypeLimit
		price = r.Config.LimitGTC.LimitPrice
		qty = r.Config.LimitGTC.BaseSize
	case r.Config.MarketIOC != nil:
		qty = r.Config.MarketIOC.BaseSize
		if qty == "" {
			qty = r.FilledSize
		}
	}

	created := int64(-1)
	if t, err := time.Parse(time.RFC3339, r.CreatedTime); err == nil {
		created = t.UnixMilli()
	}
	return models.Order{
		Symbol:              r.ProductID,
		OrderID:             r.OrderID,
		ClientOrderID:       r.ClientOrderID,
		Status:              normStatus(r.Status, r.CompletionPercentage),
		Type:                typ,
		Side:                normSide(r.Side),
		Price:               zeroIfEmpty(price),
		OrigQty:             zeroIfEmpty(qty),
		ExecutedQty:         zeroIfEmpty(r.FilledSize),
		CummulativeQuoteQty: zeroIfEmpty(r.FilledValue),
		TransactTime:        created,
		UpdateTime:          -1,
	}
}

func normBalances(raw json.RawMessage) ([]models.FreeAsset, error) {
	var out struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
			Hold struct {
				Value string `json:"value"`
			} `json:"hold"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	assets := make([]models.FreeAsset, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		assets = append(assets, models.FreeAsset{
			Asset:  a.Currency,
			Free:   zeroIfEmpty(a.AvailableBalance.Value),
			Locked: zeroIfEmpty(a.Hold.Value),
		})
	}
	return assets, nil
}

type rawProduct struct {
	ProductID      string `json:"product_id"`
	Price          string `json:"price"`
	BaseCcy        string `json:"base_currency_id"`
	QuoteCcy       string `json:"quote_currency_id"`
	BaseMinSize    string `json:"base_min_size"`
	BaseMaxSize    string `json:"base_max_size"`
	BaseIncrement  string `json:"base_increment"`
	QuoteMinSize   string `json:"quote_min_size"`
	QuoteMaxSize   string `json:"quote_max_size"`
	QuoteIncrement string `json:"quote_increment"`
}

func toInstrument(r rawProduct) models.Instrument {
	return models.Instrument{
		Pair: r.ProductID,
		BaseAsset: models.AssetFilter{
			Name:      r.BaseCcy,
			MinAmount: r.BaseMinSize,
			MaxAmount: r.BaseMaxSize,
			Step:      r.BaseIncrement,
		},
		QuoteAsset: models.AssetFilter{
			Name:      r.QuoteCcy,
			MinAmount: r.QuoteMinSize,
			MaxAmount: r.QuoteMaxSize,
			Step:      r.QuoteIncrement,
		},
		PriceAssetPrecision: base.PrecisionFromTick(r.QuoteIncrement),
	}
}

// normCandles parses candle objects stamped in unix seconds, newest first.
func normCandles(raw json.RawMessage, iv models.Interval) ([]models.Candle, error) {
	var out struct {
		Candles []struct {
			Start  string `json:"start"`
			Low    string `json:"low"`
			High   string `json:"high"`
			Open   string `json:"open"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	span := iv.Duration().Milliseconds()
	candles := make([]models.Candle, 0, len(out.Candles))
	for i := len(out.Candles) - 1; i >= 0; i-- {
		r := out.Candles[i]
		sec, err := strconv.ParseInt(r.Start, 10, 64)
		if err != nil {
			return nil, err
		}
		open := sec * 1000
		candles = append(candles, models.Candle{
			OpenTime:  open,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			CloseTime: open + span - 1,
		})
	}
	return candles, nil
}

func floatOrZero(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
