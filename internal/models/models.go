// Package models holds the canonical, provider-agnostic data types every
// connector normalizes into. All monetary quantities are decimal strings to
// preserve exchange precision; timestamps are unix milliseconds unless noted.
package models

import "time"

// OrderStatus is the canonical order lifecycle state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
)

// OrderType is the canonical order type. Unknown exchange types map to MARKET
// by policy, never by language default.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// OrderSide is the canonical trade direction.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// PositionSide is the canonical derivatives position posture.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// FuturesMode selects which product a facade instance trades.
type FuturesMode string

const (
	ModeSpot  FuturesMode = ""
	ModeUSDM  FuturesMode = "usdm"
	ModeCoinM FuturesMode = "coinm"
)

// MarginType for derivatives accounts.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// Interval is the canonical candle interval enum.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval8h  Interval = "8h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// Duration returns the interval's wall-clock length.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval3m:
		return 3 * time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval2h:
		return 2 * time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval8h:
		return 8 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Fill is one execution inside an order.
type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         string `json:"tradeId,omitempty"`
}

// Order is the canonical normalized order.
//
// Invariants: executedQty <= origQty; FILLED implies executedQty == origQty;
// NEW implies executedQty == 0. UpdateTime/TransactTime are -1 when unknown.
type Order struct {
	Symbol              string       `json:"symbol"`
	OrderID             string       `json:"orderId"`
	ClientOrderID       string       `json:"clientOrderId"`
	TransactTime        int64        `json:"transactTime"`
	UpdateTime          int64        `json:"updateTime"`
	Price               string       `json:"price"`
	OrigQty             string       `json:"origQty"`
	ExecutedQty         string       `json:"executedQty"`
	CummulativeQuoteQty string       `json:"cummulativeQuoteQty"`
	Status              OrderStatus  `json:"status"`
	Type                OrderType    `json:"type"`
	Side                OrderSide    `json:"side"`
	ReduceOnly          *bool        `json:"reduceOnly,omitempty"`
	PositionSide        PositionSide `json:"positionSide,omitempty"`
	Fills               []Fill       `json:"fills"`
}

// OrderRequest carries caller intent into openOrder.
type OrderRequest struct {
	Symbol        string       `json:"symbol"`
	Side          OrderSide    `json:"side"`
	Type          OrderType    `json:"type"`
	Quantity      string       `json:"quantity"`
	QuoteQuantity string       `json:"quoteOrderQty,omitempty"`
	Price         string       `json:"price,omitempty"`
	ClientOrderID string       `json:"clientOrderId,omitempty"`
	ReduceOnly    bool         `json:"reduceOnly,omitempty"`
	PositionSide  PositionSide `json:"positionSide,omitempty"`
}

// AssetFilter is one side of an instrument's quantity filter.
type AssetFilter struct {
	Name            string `json:"name"`
	MinAmount       string `json:"minAmount"`
	MaxAmount       string `json:"maxAmount,omitempty"`
	Step            string `json:"step,omitempty"`
	MaxMarketAmount string `json:"maxMarketAmount,omitempty"`
	Multiplier      string `json:"multiplier,omitempty"`
}

// PriceMultiplier bounds admissible limit prices around the mark.
type PriceMultiplier struct {
	Up       string `json:"up"`
	Down     string `json:"down"`
	Decimals int    `json:"decimals"`
}

// Instrument is the canonical trading-pair metadata (exchange info).
type Instrument struct {
	Pair                string           `json:"pair"`
	BaseAsset           AssetFilter      `json:"baseAsset"`
	QuoteAsset          AssetFilter      `json:"quoteAsset"`
	MaxOrders           int              `json:"maxOrders"`
	PriceAssetPrecision int              `json:"priceAssetPrecision"`
	PriceMultiplier     *PriceMultiplier `json:"priceMultiplier,omitempty"`
	MaxLeverage         float64          `json:"maxLeverage,omitempty"`
	MinLeverage         float64          `json:"minLeverage,omitempty"`
	StepLeverage        float64          `json:"stepLeverage,omitempty"`
}

// Position is one open derivatives position.
type Position struct {
	Symbol           string       `json:"symbol"`
	PositionSide     PositionSide `json:"positionSide"`
	PositionAmt      string       `json:"positionAmt"`
	EntryPrice       string       `json:"entryPrice"`
	MarkPrice        string       `json:"markPrice,omitempty"`
	UnrealizedProfit string       `json:"unrealizedProfit,omitempty"`
	Leverage         string       `json:"leverage,omitempty"`
	MarginType       MarginType   `json:"marginType,omitempty"`
}

// UserFee is the caller's maker/taker commission for a pair.
type UserFee struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// PairFee pairs a fee with its symbol for bulk queries.
type PairFee struct {
	Pair string `json:"pair"`
	UserFee
}

// Candle is one OHLCV bar, times in unix ms.
type Candle struct {
	OpenTime  int64  `json:"openTime"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

// TickerPrice is a symbol's latest price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Trade is one public market trade.
type Trade struct {
	ID           string `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// FreeAsset is one balance line.
type FreeAsset struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// LeverageBracket is one rung of a symbol's leverage ladder.
type LeverageBracket struct {
	Bracket          int     `json:"bracket"`
	InitialLeverage  float64 `json:"initialLeverage"`
	NotionalCap      float64 `json:"notionalCap"`
	NotionalFloor    float64 `json:"notionalFloor"`
	MaintMarginRatio float64 `json:"maintMarginRatio"`
}
