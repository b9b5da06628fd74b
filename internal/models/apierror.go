package models

import "fmt"

// APIError is the transport boundary's view of any failed exchange call:
// HTTP failures, exchange business codes, and network faults all arrive
// here so the retry classifier has one shape to inspect.
type APIError struct {
	Provider   string // "binance", "bybit", ...
	HTTPStatus int    // 0 when the request never completed
	Code       string // exchange error code verbatim, "" when absent
	Message    string // exchange message or transport error text
	Body       string // raw response body, for substring matching
	OrderID    string // populated when an errored create still carries an order id
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: code %s: %s", e.Provider, e.Code, e.Message)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
