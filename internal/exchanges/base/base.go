// Package base carries the dispatch engine shared by every exchange facade:
// governor admission with a queue-wait budget, TimeProfile stamping, and the
// retry wrap around each attempt. Facades stay thin: they describe the
// endpoint and provide a one-attempt closure.
package base

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
)

// DefaultTimeout is the queue-wait budget per public call.
const DefaultTimeout = 5 * time.Minute

// Endpoint describes one exchange operation for the governor.
type Endpoint struct {
	Name   string
	Kind   limiter.Kind
	Weight int
	// TimeoutScale stretches the queue budget for slow bulk endpoints
	// (OKX candles run with 2). Zero means 1.
	TimeoutScale int
}

// Caller is the per-facade dispatch context.
type Caller struct {
	Provider string
	Clk      clock.Clock
	Gov      limiter.Governor
	Rules    *retry.Rules
	Timeout  time.Duration
}

func (c *Caller) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// awaitGovernor loops on Check, sleeping the returned wait, until admitted or
// the queue budget is consumed. The budget counts only governor wait, not
// wire time.
func (c *Caller) awaitGovernor(ctx context.Context, ep Endpoint, tp *models.TimeProfile) error {
	budget := c.timeout()
	if ep.TimeoutScale > 1 {
		budget *= time.Duration(ep.TimeoutScale)
	}
	tp.StampQueueStart(c.Clk.Now())
	var waited time.Duration
	for {
		wait := c.Gov.Check(ep.Name, ep.Kind, ep.Weight)
		if wait <= 0 {
			tp.StampQueueEnd(c.Clk.Now())
			return nil
		}
		if waited+wait >= budget {
			tp.StampQueueEnd(c.Clk.Now())
			log.Warn().Str("provider", c.Provider).Str("endpoint", ep.Name).
				Dur("wait", wait).Msg("governor wait exceeds call budget")
			return models.ErrQueueTimeout
		}
		if err := c.Clk.Sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// Admit is governor admission without a budget or profile, for the short
// internal consistency lookups facades run after order writes.
func (c *Caller) Admit(ctx context.Context, ep Endpoint) error {
	for {
		wait := c.Gov.Check(ep.Name, ep.Kind, ep.Weight)
		if wait <= 0 {
			return nil
		}
		if err := c.Clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Invoke runs the full dispatch sequence for one public operation: governor
// admission, exchange attempt, retry classification, profile sealing. The
// attempt closure issues exactly one HTTP exchange and normalizes its result.
func Invoke[T any](ctx context.Context, c *Caller, ep Endpoint, attempt func(ctx context.Context) (T, error)) models.Result[T] {
	tp := models.NewTimeProfile(c.Clk.Now())
	v, err := retry.Do(ctx, c.Clk, c.Rules, c.Gov, tp, func(ctx context.Context) (T, error) {
		var zero T
		if err := c.awaitGovernor(ctx, ep, tp); err != nil {
			return zero, err
		}
		tp.StampExchangeStart(c.Clk.Now())
		out, err := attempt(ctx)
		tp.StampExchangeEnd(c.Clk.Now())
		return out, err
	})
	tp.Seal(c.Clk.Now())
	usage := c.Gov.Snapshot()
	if err != nil {
		return models.FailErr[T](err, usage, tp)
	}
	return models.Ok(v, usage, tp)
}

// FailFast returns a terminal result without dispatching: missing client
// handle, futures-mode guard, and similar constructor-time defects.
func FailFast[T any](c *Caller, reason string) models.Result[T] {
	now := c.Clk.Now()
	tp := models.NewTimeProfile(now)
	tp.Seal(now)
	var usage []models.Usage
	if c.Gov != nil {
		usage = c.Gov.Snapshot()
	}
	return models.Fail[T](reason, usage, tp)
}

// CannotConnect is the ClientMissing message for a provider.
func CannotConnect(provider string) string {
	return fmt.Sprintf("Cannot connect to %s", provider)
}

// FuturesMissed is the terminal message for derivatives calls on a
// spot-configured facade.
const FuturesMissed = "Futures type missed"
