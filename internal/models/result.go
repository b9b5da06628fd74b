package models

import (
	"errors"
	"fmt"
	"time"
)

// ExchangeProblemsPrefix marks terminal errors caused by the transport or the
// exchange itself, as opposed to business rejections. Upstream systems key on
// this exact string.
const ExchangeProblemsPrefix = "exchange problems: "

// Sentinel errors for the facade's guard clauses.
var (
	ErrClientMissing      = errors.New("client missing")
	ErrFuturesModeMissing = errors.New("Futures type missed")
	ErrQueueTimeout       = errors.New("Response timeout")
)

// UsageKind labels one governor ledger in a usage snapshot.
type UsageKind string

const (
	UsageWeight   UsageKind = "weight"
	UsageOrders   UsageKind = "orders"
	UsageRequests UsageKind = "requests"
)

// Usage is a point-in-time fractional readout of one governor ledger:
// 0 means idle, 1 means the window is exhausted.
type Usage struct {
	Kind     UsageKind `json:"kind"`
	Fraction float64   `json:"fraction"`
}

// TimeProfile records the timing of one public call.
//
// Stamps are monotone: Incoming <= InQueueStart <= InQueueEnd <=
// ExchangeStart <= ExchangeEnd <= Outcoming whenever set. A zero time means
// the phase never ran. Attempts counts re-dispatches after retryable errors.
type TimeProfile struct {
	IncomingTime  time.Time `json:"incomingTime"`
	OutcomingTime time.Time `json:"outcomingTime"`
	InQueueStart  time.Time `json:"inQueueStartTime"`
	InQueueEnd    time.Time `json:"inQueueEndTime"`
	ExchangeStart time.Time `json:"exchangeStartTime"`
	ExchangeEnd   time.Time `json:"exchangeEndTime"`
	Attempts      int       `json:"attempts"`
}

// NewTimeProfile stamps the call entry.
func NewTimeProfile(now time.Time) *TimeProfile {
	return &TimeProfile{IncomingTime: now}
}

// StampQueueStart records the first governor wait, keeping the earliest stamp
// across retries.
func (tp *TimeProfile) StampQueueStart(now time.Time) {
	if tp.InQueueStart.IsZero() {
		tp.InQueueStart = now
	}
}

// StampQueueEnd records when the governor admitted the call.
func (tp *TimeProfile) StampQueueEnd(now time.Time) { tp.InQueueEnd = now }

// StampExchangeStart records when the request went on the wire.
func (tp *TimeProfile) StampExchangeStart(now time.Time) {
	if tp.ExchangeStart.IsZero() {
		tp.ExchangeStart = now
	}
}

// StampExchangeEnd records when the response (or failure) came back.
func (tp *TimeProfile) StampExchangeEnd(now time.Time) { tp.ExchangeEnd = now }

// Seal stamps the return and freezes the profile.
func (tp *TimeProfile) Seal(now time.Time) { tp.OutcomingTime = now }

// QueueWait is the total time spent waiting on the governor.
func (tp *TimeProfile) QueueWait() time.Duration {
	if tp.InQueueStart.IsZero() || tp.InQueueEnd.IsZero() {
		return 0
	}
	return tp.InQueueEnd.Sub(tp.InQueueStart)
}

// WireTime is the on-wire duration of the last attempt.
func (tp *TimeProfile) WireTime() time.Duration {
	if tp.ExchangeStart.IsZero() || tp.ExchangeEnd.IsZero() {
		return 0
	}
	return tp.ExchangeEnd.Sub(tp.ExchangeStart)
}

// Total is end-to-end call duration once sealed.
func (tp *TimeProfile) Total() time.Duration {
	if tp.OutcomingTime.IsZero() {
		return 0
	}
	return tp.OutcomingTime.Sub(tp.IncomingTime)
}

// Result is the discriminated outcome of every public operation. Exactly one
// of Data / Reason is meaningful, selected by OK.
type Result[T any] struct {
	OK          bool         `json:"ok"`
	Data        T            `json:"data,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Usage       []Usage      `json:"usage"`
	TimeProfile *TimeProfile `json:"timeProfile"`
}

// Ok wraps a successful payload.
func Ok[T any](data T, usage []Usage, tp *TimeProfile) Result[T] {
	return Result[T]{OK: true, Data: data, Usage: usage, TimeProfile: tp}
}

// Fail wraps a terminal failure, preserving the exchange's message.
func Fail[T any](reason string, usage []Usage, tp *TimeProfile) Result[T] {
	return Result[T]{OK: false, Reason: reason, Usage: usage, TimeProfile: tp}
}

// FailErr is Fail from an error value.
func FailErr[T any](err error, usage []Usage, tp *TimeProfile) Result[T] {
	return Fail[T](err.Error(), usage, tp)
}

// Err converts a failed result back to an error for call-site chaining.
func (r Result[T]) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}
