package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
)

// rawOrder covers the spot and futures order envelopes; Binance reuses the
// field names across products.
type rawOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	OrigClientOrderID   string `json:"origClientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
	Price               string `json:"price"`
	AvgPrice            string `json:"avgPrice"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	CumQuote            string `json:"cumQuote"`
	CumBase             string `json:"cumBase"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	ReduceOnly          *bool  `json:"reduceOnly,omitempty"`
	PositionSide        string `json:"positionSide,omitempty"`
	Fills               []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		TradeID         int64  `json:"tradeId"`
	} `json:"fills"`
}

// normStatus maps Binance statuses onto the canonical set; anything outside
// the four live states (REJECTED, EXPIRED, PENDING_CANCEL, EXPIRED_IN_MATCH)
// is CANCELED by policy.
func normStatus(s string) models.OrderStatus {
	switch s {
	case "NEW":
		return models.StatusNew
	case "PARTIALLY_FILLED":
		return models.StatusPartiallyFilled
	case "FILLED":
		return models.StatusFilled
	case "CANCELED":
		return models.StatusCanceled
	default:
		return models.StatusCanceled
	}
}

func normType(s string) models.OrderType {
	if s == "LIMIT" {
		return models.TypeLimit
	}
	return models.TypeMarket
}

func normSide(s string) models.OrderSide {
	if s == "SELL" {
		return models.SideSell
	}
	return models.SideBuy
}

func normPositionSide(s string) models.PositionSide {
	switch s {
	case "LONG":
		return models.PositionLong
	case "SHORT":
		return models.PositionShort
	case "BOTH":
		return models.PositionBoth
	default:
		return ""
	}
}

func (r rawOrder) toOrder() models.Order {
	clientID := r.ClientOrderID
	if clientID == "" {
		clientID = r.OrigClientOrderID
	}
	transact := r.TransactTime
	if transact == 0 {
		transact = r.Time
	}
	if transact == 0 {
		transact = -1
	}
	update := r.UpdateTime
	if update == 0 {
		update = -1
	}

	price := r.Price
	// MARKET orders carry their effective price in avgPrice (futures) or the
	// quote/executed ratio via fills (spot).
	if normType(r.Type) == models.TypeMarket && r.AvgPrice != "" && floatOrZero(r.AvgPrice) > 0 {
		price = r.AvgPrice
	}

	quote := r.CummulativeQuoteQty
	if quote == "" {
		quote = r.CumQuote
	}
	if quote == "" {
		quote = r.CumBase
	}

	o := models.Order{
		Symbol:              r.Symbol,
		OrderID:             fmt.Sprintf("%d", r.OrderID),
		ClientOrderID:       clientID,
		TransactTime:        transact,
		UpdateTime:          update,
		Price:               price,
		OrigQty:             fmtQty(r.OrigQty),
		ExecutedQty:         fmtQty(r.ExecutedQty),
		CummulativeQuoteQty: fmtQty(quote),
		Status:              normStatus(r.Status),
		Type:                normType(r.Type),
		Side:                normSide(r.Side),
		ReduceOnly:          r.ReduceOnly,
		PositionSide:        normPositionSide(r.PositionSide),
		Fills:               make([]models.Fill, 0, len(r.Fills)),
	}
	for _, f := range r.Fills {
		o.Fills = append(o.Fills, models.Fill{
			Price:           f.Price,
			Qty:             f.Qty,
			Commission:      f.Commission,
			CommissionAsset: f.CommissionAsset,
			TradeID:         fmt.Sprintf("%d", f.TradeID),
		})
	}
	return o
}

func normOrder(body []byte) (models.Order, error) {
	var r rawOrder
	if err := json.Unmarshal(body, &r); err != nil {
		return models.Order{}, err
	}
	return r.toOrder(), nil
}

func normOrders(body []byte) ([]models.Order, error) {
	var rs []rawOrder
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.toOrder())
	}
	return out, nil
}

func normSpotBalances(body []byte) ([]models.FreeAsset, error) {
	var acct struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, err
	}
	out := make([]models.FreeAsset, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		out = append(out, models.FreeAsset{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	return out, nil
}

func normFuturesBalances(body []byte) ([]models.FreeAsset, error) {
	var rows []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	out := make([]models.FreeAsset, 0, len(rows))
	for _, r := range rows {
		locked := "0"
		total := floatOrZero(r.Balance)
		avail := floatOrZero(r.AvailableBalance)
		if total > avail {
			locked = fmt.Sprintf("%v", total-avail)
		}
		out = append(out, models.FreeAsset{Asset: r.Asset, Free: r.AvailableBalance, Locked: locked})
	}
	return out, nil
}

func normTickers(body []byte) ([]models.TickerPrice, error) {
	var rows []models.TickerPrice
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// normCandles maps the kline array-of-arrays envelope. Numeric cells arrive
// as JSON numbers (times) or strings (prices), so decode into any.
func normCandles(body []byte) ([]models.Candle, error) {
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 7 {
			continue
		}
		out = append(out, models.Candle{
			OpenTime:  int64(numCell(r[0])),
			Open:      strCell(r[1]),
			High:      strCell(r[2]),
			Low:       strCell(r[3]),
			Close:     strCell(r[4]),
			Volume:    strCell(r[5]),
			CloseTime: int64(numCell(r[6])),
		})
	}
	return out, nil
}

func numCell(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func strCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// normInstrument maps one exchangeInfo symbol entry, spot or futures.
type rawSymbolInfo struct {
	Symbol  string `json:"symbol"`
	Pair    string `json:"pair"`
	Base    string `json:"baseAsset"`
	Quote   string `json:"quoteAsset"`
	Filters []struct {
		FilterType       string `json:"filterType"`
		MinQty           string `json:"minQty"`
		MaxQty           string `json:"maxQty"`
		StepSize         string `json:"stepSize"`
		TickSize         string `json:"tickSize"`
		MinNotional      string `json:"minNotional"`
		Notional         string `json:"notional"`
		MultiplierUp     string `json:"multiplierUp"`
		MultiplierDown   string `json:"multiplierDown"`
		MultiplierDecimal any    `json:"multiplierDecimal"`
		MaxNumOrders     int    `json:"maxNumOrders"`
		Limit            int    `json:"limit"`
	} `json:"filters"`
}

func (r rawSymbolInfo) toInstrument() models.Instrument {
	inst := models.Instrument{
		Pair:       r.Symbol,
		BaseAsset:  models.AssetFilter{Name: r.Base},
		QuoteAsset: models.AssetFilter{Name: r.Quote},
	}
	for _, f := range r.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			inst.BaseAsset.MinAmount = f.MinQty
			inst.BaseAsset.MaxAmount = f.MaxQty
			inst.BaseAsset.Step = f.StepSize
		case "MARKET_LOT_SIZE":
			inst.BaseAsset.MaxMarketAmount = f.MaxQty
		case "PRICE_FILTER":
			inst.PriceAssetPrecision = base.PrecisionFromTick(f.TickSize)
		case "MIN_NOTIONAL":
			if f.MinNotional != "" {
				inst.QuoteAsset.MinAmount = f.MinNotional
			} else {
				inst.QuoteAsset.MinAmount = f.Notional
			}
		case "NOTIONAL":
			inst.QuoteAsset.MinAmount = f.MinNotional
		case "PERCENT_PRICE", "PERCENT_PRICE_BY_SIDE":
			decimals := 0
			switch d := f.MultiplierDecimal.(type) {
			case string:
				decimals = int(floatOrZero(d))
			case float64:
				decimals = int(d)
			}
			inst.PriceMultiplier = &models.PriceMultiplier{
				Up:       f.MultiplierUp,
				Down:     f.MultiplierDown,
				Decimals: decimals,
			}
		case "MAX_NUM_ORDERS":
			if f.MaxNumOrders > 0 {
				inst.MaxOrders = f.MaxNumOrders
			} else {
				inst.MaxOrders = f.Limit
			}
		}
	}
	return inst
}

func normInstruments(body []byte) ([]models.Instrument, error) {
	var env struct {
		Symbols []rawSymbolInfo `json:"symbols"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	out := make([]models.Instrument, 0, len(env.Symbols))
	for _, s := range env.Symbols {
		out = append(out, s.toInstrument())
	}
	return out, nil
}
