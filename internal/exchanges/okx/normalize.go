package okx

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// Swap instruments are the spot pair plus a -SWAP suffix; encode and decode
// are inverses so symbols survive a round trip unchanged.

func (o *OKX) encode(symbol string) string {
	if !o.futures() || symbol == "" || strings.HasSuffix(symbol, "-SWAP") {
		return symbol
	}
	return symbol + "-SWAP"
}

func (o *OKX) decode(symbol string) string {
	if !o.futures() {
		return symbol
	}
	return strings.TrimSuffix(symbol, "-SWAP")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

type rawOrder struct {
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	InstID     string `json:"instId"`
	Px         string `json:"px"`
	AvgPx      string `json:"avgPx"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	OrdType    string `json:"ordType"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	State      string `json:"state"`
	ReduceOnly string `json:"reduceOnly"`
	CTime      string `json:"cTime"`
	UTime      string `json:"uTime"`
}

func normStatus(state string) models.OrderStatus {
	switch state {
	case "live":
		return models.StatusNew
	case "partially_filled":
		return models.StatusPartiallyFilled
	case "filled":
		return models.StatusFilled
	default:
		return models.StatusCanceled
	}
}

// normType collapses the venue's extended types (post_only, fok, ioc,
// optimal_limit_ioc) onto the canonical pair; anything not limit is MARKET
// by policy.
func normType(s string) models.OrderType {
	if s == "limit" || s == "post_only" {
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

func (o *OKX) toOrder(r rawOrder) models.Order {
	price := r.Px
	if r.OrdType == "market" || price == "" || floatOrZero(price) == 0 {
		price = r.AvgPx
	}
	fillSz := floatOrZero(r.AccFillSz)
	quote := fillSz * floatOrZero(r.AvgPx)
	reduce := r.ReduceOnly == "true"
	return models.Order{
		Symbol:          o.decode(r.InstID),
		OrderID:         r.OrdID,
		ClientOrderID:   r.ClOrdID,
		Status:              normStatus(r.State),
		Type:                normType(r.OrdType),
		Side:                normSide(r.Side),
		Price:               zeroIfEmpty(price),
		OrigQty:             r.Sz,
		ExecutedQty:         zeroIfEmpty(r.AccFillSz),
		CummulativeQuoteQty: strconv.FormatFloat(quote, 'f', -1, 64),
		ReduceOnly:          &reduce,
		TransactTime:        msOrNeg(r.CTime),
		UpdateTime:          msOrNeg(r.UTime),
	}
}

func normOrders(o *OKX, raw json.RawMessage) ([]models.Order, error) {
	var rows []rawOrder
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, o.toOrder(r))
	}
	return out, nil
}

// normBalances flattens the trading account's per-currency details.
func normBalances(raw json.RawMessage) ([]models.FreeAsset, error) {
	var rows []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	var out []models.FreeAsset
	for _, r := range rows {
		for _, d := range r.Details {
			out = append(out, models.FreeAsset{
				Asset:  d.Ccy,
				Free:   zeroIfEmpty(d.AvailBal),
				Locked: zeroIfEmpty(d.FrozenBal),
			})
		}
	}
	return out, nil
}

type rawInstrument struct {
	InstID    string `json:"instId"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	CtValCcy  string `json:"ctValCcy"`
	SettleCcy string `json:"settleCcy"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	MaxLmtSz  string `json:"maxLmtSz"`
	MaxMktSz  string `json:"maxMktSz"`
	CtVal     string `json:"ctVal"`
	Lever     string `json:"lever"`
}

func (o *OKX) toInstrument(r rawInstrument) models.Instrument {
	baseCcy := r.BaseCcy
	if baseCcy == "" {
		baseCcy = r.CtValCcy
	}
	quoteCcy := r.QuoteCcy
	if quoteCcy == "" {
		quoteCcy = r.SettleCcy
	}
	inst := models.Instrument{
		Pair: o.decode(r.InstID),
		BaseAsset: models.AssetFilter{
			Name:            baseCcy,
			MinAmount:       r.MinSz,
			MaxAmount:       r.MaxLmtSz,
			Step:            r.LotSz,
			MaxMarketAmount: r.MaxMktSz,
			Multiplier:      r.CtVal,
		},
		QuoteAsset: models.AssetFilter{
			Name: quoteCcy,
		},
		PriceAssetPrecision: base.PrecisionFromTick(r.TickSz),
	}
	if r.Lever != "" {
		inst.MaxLeverage = floatOrZero(r.Lever)
		inst.MinLeverage = 1
		inst.StepLeverage = 1
	}
	return inst
}

// normCandles parses kline rows: string cells ordered [ts(ms), o, h, l, c,
// vol, ...], newest first. Output is ascending.
func normCandles(raw json.RawMessage, iv models.Interval) ([]models.Candle, error) {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	span := iv.Duration().Milliseconds()
	out := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if len(r) < 6 {
			continue
		}
		open, err := strconv.ParseInt(r[0], 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Candle{
			OpenTime:  open,
			Open:      r[1],
			High:      r[2],
			Low:       r[3],
			Close:     r[4],
			Volume:    r[5],
			CloseTime: open + span - 1,
		})
	}
	return out, nil
}

func msOrNeg(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v == 0 {
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
