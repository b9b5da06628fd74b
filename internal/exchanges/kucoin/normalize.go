package kucoin

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// rawOrder covers both spot and futures order payloads; the two disagree on
// field names for filled amounts, so both spellings are mapped.
type rawOrder struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealSize    string `json:"dealSize"`
	DealFunds   string `json:"dealFunds"`
	DealValue   string `json:"dealValue"`
	FilledSize  string `json:"filledSize"`
	FilledValue string `json:"filledValue"`
	ClientOid   string `json:"clientOid"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
	ReduceOnly  bool   `json:"reduceOnly"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func (r rawOrder) filled() string {
	if r.DealSize != "" {
		return r.DealSize
	}
	return r.FilledSize
}

func (r rawOrder) filledQuote() string {
	if r.DealFunds != "" {
		return r.DealFunds
	}
	if r.DealValue != "" {
		return r.DealValue
	}
	return r.FilledValue
}

// status is not a field on KuCoin orders; it is reconstructed from the
// isActive / cancelExist pair and the filled amount.
func (r rawOrder) status() models.OrderStatus {
	dealt := floatOrZero(r.filled())
	switch {
	case r.IsActive && dealt == 0:
		return models.StatusNew
	case r.IsActive:
		return models.StatusPartiallyFilled
	case !r.CancelExist:
		return models.StatusFilled
	default:
		return models.StatusCanceled
	}
}

// normType collapses stop and bracket types onto the canonical pair;
// anything not a plain limit is MARKET by policy.
func normType(s string) models.OrderType {
	if strings.EqualFold(s, "limit") {
		return models.TypeLimit
	}
	return models.TypeMarket
}

func normSide(s string) models.OrderSide {
	if strings.EqualFold(s, "sell") {
		return models.SideSell
	}
	return models.SideBuy
}

// toOrder converts one raw order; inverse contracts value fills in base
// currency, so their effective price inverts to dealSize/dealValue.
func (k *KuCoin) toOrder(r rawOrder) models.Order {
	price := r.Price
	if normType(r.Type) == models.TypeMarket || price == "" || floatOrZero(price) == 0 {
		size := floatOrZero(r.filled())
		value := floatOrZero(r.filledQuote())
		if size > 0 && value > 0 {
			ratio := value / size
			if k.inverse() {
				ratio = size / value
			}
			price = strconv.FormatFloat(ratio, 'f', -1, 64)
		}
	}
	updated := r.UpdatedAt
	if updated == 0 {
		updated = -1
	}
	reduce := r.ReduceOnly
	return models.Order{
		Symbol:              k.decode(r.Symbol),
		OrderID:             r.ID,
		ClientOrderID:       r.ClientOid,
		Status:              r.status(),
		Type:                normType(r.Type),
		Side:                normSide(r.Side),
		Price:               price,
		OrigQty:             r.Size,
		ExecutedQty:         zeroIfEmpty(r.filled()),
		CummulativeQuoteQty: zeroIfEmpty(r.filledQuote()),
		ReduceOnly:          &reduce,
		TransactTime:        msOrNeg(r.CreatedAt),
		UpdateTime:          updated,
	}
}

func normOrder(k *KuCoin, raw json.RawMessage) (models.Order, error) {
	var r rawOrder
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Order{}, err
	}
	return k.toOrder(r), nil
}

// normOrders handles the paginated {items:[...]} list shape.
func normOrders(k *KuCoin, raw json.RawMessage) ([]models.Order, error) {
	var page struct {
		Items []rawOrder `json:"items"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(page.Items))
	for _, r := range page.Items {
		out = append(out, k.toOrder(r))
	}
	return out, nil
}

func normBalances(raw json.RawMessage) ([]models.FreeAsset, error) {
	var rows []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Holds     string `json:"holds"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]models.FreeAsset, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.FreeAsset{
			Asset:  decodeCurrency(r.Currency),
			Free:   zeroIfEmpty(r.Available),
			Locked: zeroIfEmpty(r.Holds),
		})
	}
	return out, nil
}

type rawSymbol struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	BaseMinSize    string `json:"baseMinSize"`
	BaseMaxSize    string `json:"baseMaxSize"`
	BaseIncrement  string `json:"baseIncrement"`
	QuoteMinSize   string `json:"quoteMinSize"`
	QuoteMaxSize   string `json:"quoteMaxSize"`
	QuoteIncrement string `json:"quoteIncrement"`
	PriceIncrement string `json:"priceIncrement"`
}

// toInstrument maps a spot symbol. The advertised quoteMinSize alone does not
// pass KuCoin's own order filter; the effective floor is bumped by one
// increment and rounded up to the price precision.
func (k *KuCoin) toInstrument(r rawSymbol) (models.Instrument, error) {
	precision := base.PrecisionFromTick(r.PriceIncrement)
	quoteMin := r.QuoteMinSize
	if r.QuoteMinSize != "" && r.QuoteIncrement != "" {
		bumped, err := base.MinQuoteOrder(r.QuoteMinSize, r.QuoteIncrement, precision)
		if err != nil {
			return models.Instrument{}, err
		}
		quoteMin = bumped
	}
	return models.Instrument{
		Pair: k.decode(r.Symbol),
		BaseAsset: models.AssetFilter{
			Name:      decodeCurrency(r.BaseCurrency),
			MinAmount: r.BaseMinSize,
			MaxAmount: r.BaseMaxSize,
			Step:      r.BaseIncrement,
		},
		QuoteAsset: models.AssetFilter{
			Name:      r.QuoteCurrency,
			MinAmount: quoteMin,
			MaxAmount: r.QuoteMaxSize,
			Step:      r.QuoteIncrement,
		},
		PriceAssetPrecision: precision,
	}, nil
}

type rawContract struct {
	Symbol        string  `json:"symbol"`
	BaseCurrency  string  `json:"baseCurrency"`
	QuoteCurrency string  `json:"quoteCurrency"`
	LotSize       float64 `json:"lotSize"`
	MaxOrderQty   float64 `json:"maxOrderQty"`
	TickSize      float64 `json:"tickSize"`
	Multiplier    float64 `json:"multiplier"`
	MaxLeverage   float64 `json:"maxLeverage"`
}

func (k *KuCoin) contractToInstrument(r rawContract) models.Instrument {
	tick := decimal.NewFromFloat(r.TickSize).String()
	return models.Instrument{
		Pair: k.decode(r.Symbol),
		BaseAsset: models.AssetFilter{
			Name:       decodeCurrency(r.BaseCurrency),
			MinAmount:  strconv.FormatFloat(r.LotSize, 'f', -1, 64),
			MaxAmount:  strconv.FormatFloat(r.MaxOrderQty, 'f', -1, 64),
			Step:       strconv.FormatFloat(r.LotSize, 'f', -1, 64),
			Multiplier: strconv.FormatFloat(r.Multiplier, 'f', -1, 64),
		},
		QuoteAsset: models.AssetFilter{
			Name: r.QuoteCurrency,
		},
		PriceAssetPrecision: base.PrecisionFromTick(tick),
		MaxLeverage:         r.MaxLeverage,
		MinLeverage:         1,
		StepLeverage:        1,
	}
}

func msOrNeg(v int64) int64 {
	if v == 0 {
		return -1
	}
	return v
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

// normSpotCandles parses the spot kline rows: string cells ordered
// [time, open, close, high, low, volume, turnover], timestamps in seconds,
// newest first. Output is ascending with millisecond stamps.
func normSpotCandles(raw json.RawMessage, iv models.Interval) ([]models.Candle, error) {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	span := iv.Duration().Milliseconds()
	out := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if len(r) < 7 {
			continue
		}
		sec, err := strconv.ParseInt(r[0], 10, 64)
		if err != nil {
			return nil, err
		}
		open := sec * 1000
		out = append(out, models.Candle{
			OpenTime:  open,
			Open:      r[1],
			Close:     r[2],
			High:      r[3],
			Low:       r[4],
			Volume:    r[5],
			CloseTime: open + span - 1,
		})
	}
	return out, nil
}

// normFuturesCandles parses futures kline rows: numeric cells ordered
// [time(ms), open, high, low, close, volume], already ascending.
func normFuturesCandles(raw json.RawMessage, iv models.Interval) ([]models.Candle, error) {
	var rows [][]float64
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	span := iv.Duration().Milliseconds()
	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		open := int64(r[0])
		out = append(out, models.Candle{
			OpenTime:  open,
			Open:      strconv.FormatFloat(r[1], 'f', -1, 64),
			High:      strconv.FormatFloat(r[2], 'f', -1, 64),
			Low:       strconv.FormatFloat(r[3], 'f', -1, 64),
			Close:     strconv.FormatFloat(r[4], 'f', -1, 64),
			Volume:    strconv.FormatFloat(r[5], 'f', -1, 64),
			CloseTime: open + span - 1,
		})
	}
	return out, nil
}

// nsToMs converts KuCoin's nanosecond trade stamps.
func nsToMs(ns int64) int64 {
	return ns / int64(time.Millisecond)
}
