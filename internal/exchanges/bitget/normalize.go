package bitget

import (
	"encoding/json"
	"strconv"

	"github.com/sawpanic/tradegate/internal/models"
)

func normStatus(s string) models.OrderStatus {
	switch s {
	case "live", "new", "init":
		return models.StatusNew
	case "partially_filled":
		return models.StatusPartiallyFilled
	case "filled":
		return models.StatusFilled
	default:
		return models.StatusCanceled
	}
}

func normType(s string) models.OrderType {
	if s == "limit" {
		return models.TypeLimit
	}
	return models.TypeMarket
}

func normSide(s string) models.OrderSide {
	if s == "sell" {
		return models.SideSell
	}
	return models.SideBuy
}

func normHoldSide(s string) models.PositionSide {
	switch s {
	case "long":
		return models.PositionLong
	case "short":
		return models.PositionShort
	default:
		return models.PositionBoth
	}
}

// rawOrder covers both the spot and mix order envelopes.
type rawOrder struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	ClientOID   string `json:"clientOid"`
	Price       string `json:"price"`
	PriceAvg    string `json:"priceAvg"`
	Size        string `json:"size"`
	BaseVolume  string `json:"baseVolume"`
	QuoteVolume string `json:"quoteVolume"`
	Status      string `json:"status"`
	State       string `json:"state"`
	OrderType   string `json:"orderType"`
	Side        string `json:"side"`
	PosSide     string `json:"posSide"`
	ReduceOnly  string `json:"reduceOnly"`
	CTime       string `json:"cTime"`
	UTime       string `json:"uTime"`
}

func msOrNeg(s string) int64 {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return -1
	}
	return ms
}

func (r rawOrder) toOrder() models.Order {
	status := r.Status
	if status == "" {
		status = r.State
	}
	typ := normType(r.OrderType)

	price := r.Price
	if typ == models.TypeMarket && floatOrZero(r.PriceAvg) > 0 {
		price = r.PriceAvg
	}

	o := models.Order{
		Symbol:              r.Symbol,
		OrderID:             r.OrderID,
		ClientOrderID:       r.ClientOID,
		TransactTime:        msOrNeg(r.CTime),
		UpdateTime:          msOrNeg(r.UTime),
		Price:               price,
		OrigQty:             zeroIfEmpty(r.Size),
		ExecutedQty:         zeroIfEmpty(r.BaseVolume),
		CummulativeQuoteQty: zeroIfEmpty(r.QuoteVolume),
		Status:              normStatus(status),
		Type:                typ,
		Side:                normSide(r.Side),
	}
	if r.PosSide != "" {
		o.PositionSide = normHoldSide(r.PosSide)
	}
	if r.ReduceOnly != "" {
		ro := r.ReduceOnly == "YES" || r.ReduceOnly == "true"
		o.ReduceOnly = &ro
	}
	return o
}

func normOrder(raw json.RawMessage) (models.Order, error) {
	var r rawOrder
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Order{}, err
	}
	return r.toOrder(), nil
}

func normOrders(raw json.RawMessage) ([]models.Order, error) {
	// Spot unfilled-orders answers a bare array; mix wraps it in
	// entrustedList.
	var rows []rawOrder
	if err := json.Unmarshal(raw, &rows); err != nil {
		var wrapped struct {
			EntrustedList []rawOrder `json:"entrustedList"`
		}
		if werr := json.Unmarshal(raw, &wrapped); werr != nil {
			return nil, err
		}
		rows = wrapped.EntrustedList
	}
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOrder())
	}
	return out, nil
}

func normSpotBalances(raw json.RawMessage) ([]models.FreeAsset, error) {
	var rows []struct {
		Coin      string `json:"coin"`
		Available string `json:"available"`
		Frozen    string `json:"frozen"`
		Locked    string `json:"locked"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]models.FreeAsset, 0, len(rows))
	for _, r := range rows {
		locked := floatOrZero(r.Frozen) + floatOrZero(r.Locked)
		out = append(out, models.FreeAsset{
			Asset:  r.Coin,
			Free:   zeroIfEmpty(r.Available),
			Locked: strconv.FormatFloat(locked, 'f', -1, 64),
		})
	}
	return out, nil
}

func normMixBalances(raw json.RawMessage) ([]models.FreeAsset, error) {
	var rows []struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
		Locked     string `json:"locked"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]models.FreeAsset, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.FreeAsset{
			Asset:  r.MarginCoin,
			Free:   zeroIfEmpty(r.Available),
			Locked: zeroIfEmpty(r.Locked),
		})
	}
	return out, nil
}

// rawInstrument covers spot symbols and mix contracts.
type rawInstrument struct {
	Symbol          string `json:"symbol"`
	BaseCoin        string `json:"baseCoin"`
	QuoteCoin       string `json:"quoteCoin"`
	MinTradeAmount  string `json:"minTradeAmount"`
	MaxTradeAmount  string `json:"maxTradeAmount"`
	QuantityPrec    string `json:"quantityPrecision"`
	PricePrecision  string `json:"pricePrecision"`
	MinTradeUSDT    string `json:"minTradeUSDT"`
	MinTradeNum     string `json:"minTradeNum"`
	MaxOrderNum     string `json:"maxOrderNum"`
	VolumePlace     string `json:"volumePlace"`
	PricePlace      string `json:"pricePlace"`
	SizeMultiplier  string `json:"sizeMultiplier"`
	MinLever        string `json:"minLever"`
	MaxLever        string `json:"maxLever"`
	PriceEndStep    string `json:"priceEndStep"`
	MaxMarketAmount string `json:"maxMarketOrderQty"`
}

func stepFromPlaces(places string) string {
	n := int(floatOrZero(places))
	if n <= 0 {
		return "1"
	}
	return "0." + padZeros(n-1) + "1"
}

func padZeros(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += "0"
	}
	return s
}

func (r rawInstrument) toInstrument() models.Instrument {
	inst := models.Instrument{
		Pair: r.Symbol,
		BaseAsset: models.AssetFilter{
			Name:            r.BaseCoin,
			MaxMarketAmount: r.MaxMarketAmount,
		},
		QuoteAsset: models.AssetFilter{
			Name:      r.QuoteCoin,
			MinAmount: r.MinTradeUSDT,
		},
	}
	switch {
	case r.MinTradeNum != "": // mix contract
		inst.BaseAsset.MinAmount = r.MinTradeNum
		inst.BaseAsset.Step = stepFromPlaces(r.VolumePlace)
		inst.BaseAsset.Multiplier = r.SizeMultiplier
		inst.PriceAssetPrecision = int(floatOrZero(r.PricePlace))
		inst.MinLeverage = floatOrZero(r.MinLever)
		inst.MaxLeverage = floatOrZero(r.MaxLever)
	default: // spot symbol
		inst.BaseAsset.MinAmount = r.MinTradeAmount
		inst.BaseAsset.MaxAmount = r.MaxTradeAmount
		inst.BaseAsset.Step = stepFromPlaces(r.QuantityPrec)
		inst.PriceAssetPrecision = int(floatOrZero(r.PricePrecision))
	}
	if n := int(floatOrZero(r.MaxOrderNum)); n > 0 {
		inst.MaxOrders = n
	}
	return inst
}

func normInstruments(raw json.RawMessage) ([]models.Instrument, error) {
	var rows []rawInstrument
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstrument())
	}
	return out, nil
}

// normCandles maps the candle array rows, ascending already on Bitget.
func normCandles(raw json.RawMessage, iv models.Interval) ([]models.Candle, error) {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	span := iv.Duration().Milliseconds()
	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
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
