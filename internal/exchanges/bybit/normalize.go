package bybit

import (
	"encoding/json"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

type rawOrder struct {
	Symbol       string `json:"symbol"`
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	OrderStatus  string `json:"orderStatus"`
	Price        string `json:"price"`
	AvgPrice     string `json:"avgPrice"`
	Qty          string `json:"qty"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	ReduceOnly   bool   `json:"reduceOnly"`
	PositionIdx  int    `json:"positionIdx"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

// normStatus maps v5 statuses onto the canonical set. A market buy that the
// venue reports PartiallyFilledCanceled spent its whole quote budget, which
// is a fill from the caller's side.
func normStatus(status string, typ models.OrderType, side models.OrderSide) models.OrderStatus {
	switch status {
	case "New", "Created", "Untriggered":
		return models.StatusNew
	case "PartiallyFilled":
		return models.StatusPartiallyFilled
	case "Filled":
		return models.StatusFilled
	case "PartiallyFilledCanceled":
		if typ == models.TypeMarket && side == models.SideBuy {
			return models.StatusFilled
		}
		return models.StatusCanceled
	default:
		return models.StatusCanceled
	}
}

func normType(s string) models.OrderType {
	if s == "Limit" {
		return models.TypeLimit
	}
	return models.TypeMarket
}

func normSide(s string) models.OrderSide {
	if s == "Sell" {
		return models.SideSell
	}
	return models.SideBuy
}

// positionIdxSide maps Bybit's hedge discriminator.
func positionIdxSide(idx int) models.PositionSide {
	switch idx {
	case 1:
		return models.PositionLong
	case 2:
		return models.PositionShort
	default:
		return models.PositionBoth
	}
}

func msOrNeg(s string) int64 {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return -1
	}
	return ms
}

func (r rawOrder) toOrder() models.Order {
	typ := normType(r.OrderType)
	side := normSide(r.Side)

	price := r.Price
	if typ == models.TypeMarket && floatOrZero(r.AvgPrice) > 0 {
		price = r.AvgPrice
	}

	reduceOnly := r.ReduceOnly
	return models.Order{
		Symbol:              r.Symbol,
		OrderID:             r.OrderID,
		ClientOrderID:       r.OrderLinkID,
		TransactTime:        msOrNeg(r.CreatedTime),
		UpdateTime:          msOrNeg(r.UpdatedTime),
		Price:               price,
		OrigQty:             zeroIfEmpty(r.Qty),
		ExecutedQty:         zeroIfEmpty(r.CumExecQty),
		CummulativeQuoteQty: zeroIfEmpty(r.CumExecValue),
		Status:              normStatus(r.OrderStatus, typ, side),
		Type:                typ,
		Side:                side,
		ReduceOnly:          &reduceOnly,
		PositionSide:        positionIdxSide(r.PositionIdx),
	}
}

func normOrders(raw json.RawMessage) ([]models.Order, error) {
	var lr struct {
		List []rawOrder `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(lr.List))
	for _, r := range lr.List {
		out = append(out, r.toOrder())
	}
	return out, nil
}

func normBalances(raw json.RawMessage) ([]models.FreeAsset, error) {
	var lr struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
				AvailableToShow string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	var out []models.FreeAsset
	for _, acct := range lr.List {
		for _, c := range acct.Coin {
			locked := zeroIfEmpty(c.Locked)
			free := c.WalletBalance
			if f, l := floatOrZero(c.WalletBalance), floatOrZero(c.Locked); l > 0 {
				free = strconv.FormatFloat(f-l, 'f', -1, 64)
			}
			out = append(out, models.FreeAsset{Asset: c.Coin, Free: zeroIfEmpty(free), Locked: locked})
		}
	}
	return out, nil
}

type rawInstrument struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	LotSizeFilter struct {
		MinOrderQty   string `json:"minOrderQty"`
		MaxOrderQty   string `json:"maxOrderQty"`
		QtyStep       string `json:"qtyStep"`
		BasePrecision string `json:"basePrecision"`
		MinOrderAmt   string `json:"minOrderAmt"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LeverageFilter struct {
		MaxLeverage string `json:"maxLeverage"`
	} `json:"leverageFilter"`
}

func (r rawInstrument) toInstrument() models.Instrument {
	step := r.LotSizeFilter.QtyStep
	if step == "" {
		step = r.LotSizeFilter.BasePrecision
	}
	return models.Instrument{
		Pair: r.Symbol,
		BaseAsset: models.AssetFilter{
			Name:      r.BaseCoin,
			MinAmount: r.LotSizeFilter.MinOrderQty,
			MaxAmount: r.LotSizeFilter.MaxOrderQty,
			Step:      step,
		},
		QuoteAsset: models.AssetFilter{
			Name:      r.QuoteCoin,
			MinAmount: r.LotSizeFilter.MinOrderAmt,
		},
		PriceAssetPrecision: base.PrecisionFromTick(r.PriceFilter.TickSize),
		MaxLeverage:         floatOrZero(r.LeverageFilter.MaxLeverage),
	}
}

func normInstruments(raw json.RawMessage) ([]models.Instrument, error) {
	var lr struct {
		List []rawInstrument `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	out := make([]models.Instrument, 0, len(lr.List))
	for _, r := range lr.List {
		out = append(out, r.toInstrument())
	}
	return out, nil
}

// normCandles maps kline rows; the venue returns newest first, callers get
// ascending time. v5 reports only the bar start, so close time is derived
// from the interval.
func normCandles(raw json.RawMessage, iv models.Interval) ([]models.Candle, error) {
	var lr struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, err
	}
	span := iv.Duration().Milliseconds()
	out := make([]models.Candle, 0, len(lr.List))
	for i := len(lr.List) - 1; i >= 0; i-- {
		row := lr.List[i]
		if len(row) < 6 {
			continue
		}
		start, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, models.Candle{
			OpenTime:  start,
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
			CloseTime: start + span - 1,
		})
	}
	return out, nil
}

func floatOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
