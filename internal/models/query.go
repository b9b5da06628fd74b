package models

// OrderRef identifies an order by the caller's id or the exchange's; Symbol
// is always required.
type OrderRef struct {
	Symbol        string
	ClientOrderID string
	OrderID       string
}

// CandleQuery bounds a candle request. From/To are unix ms, zero when open;
// Count caps the number of bars, zero for the venue default.
type CandleQuery struct {
	Symbol   string
	Interval Interval
	From     int64
	To       int64
	Count    int
}
