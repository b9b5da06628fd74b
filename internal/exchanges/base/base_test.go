package base

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
)

func testCaller(fake *clock.Fake) *Caller {
	return &Caller{
		Provider: "bybit",
		Clk:      fake,
		Gov:      limiter.NewBybit(fake, kmutex.New()),
		Rules:    retry.BybitRules(),
	}
}

func TestInvoke_StampsMonotonicProfile(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := testCaller(fake)

	res := Invoke(context.Background(), c, Endpoint{Name: "market/time", Weight: 1},
		func(ctx context.Context) (int, error) {
			fake.Advance(120 * time.Millisecond) // simulated wire time
			return 7, nil
		})

	require.True(t, res.OK)
	assert.Equal(t, 7, res.Data)
	tp := res.TimeProfile
	assert.Equal(t, 1, tp.Attempts)
	assert.False(t, tp.IncomingTime.After(tp.InQueueStart))
	assert.False(t, tp.InQueueStart.After(tp.InQueueEnd))
	assert.False(t, tp.InQueueEnd.After(tp.ExchangeStart))
	assert.False(t, tp.ExchangeStart.After(tp.ExchangeEnd))
	assert.False(t, tp.ExchangeEnd.After(tp.OutcomingTime))
	assert.Equal(t, 120*time.Millisecond, tp.WireTime())
	assert.NotEmpty(t, res.Usage)
}

func TestInvoke_QueueWaitSleepsThenProceeds(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := testCaller(fake)

	// Fill the bybit frame so the next call has to wait for the roll.
	for i := 0; i < 550; i++ {
		require.Zero(t, c.Gov.Check("x", limiter.KindRequest, 1))
	}

	res := Invoke(context.Background(), c, Endpoint{Name: "x", Weight: 1},
		func(ctx context.Context) (bool, error) { return true, nil })
	require.True(t, res.OK)
	assert.GreaterOrEqual(t, fake.TotalSlept(), 5500*time.Millisecond,
		"caller slept out the frame remainder")
	assert.GreaterOrEqual(t, res.TimeProfile.QueueWait(), 5500*time.Millisecond)
}

func TestInvoke_QueueTimeoutIsTerminal(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := testCaller(fake)
	c.Timeout = 2 * time.Second

	for i := 0; i < 550; i++ {
		require.Zero(t, c.Gov.Check("x", limiter.KindRequest, 1))
	}

	calls := 0
	res := Invoke(context.Background(), c, Endpoint{Name: "x", Weight: 1},
		func(ctx context.Context) (bool, error) { calls++; return true, nil })
	require.False(t, res.OK)
	assert.Equal(t, models.ErrQueueTimeout.Error(), res.Reason)
	assert.Zero(t, calls, "no request goes out once the budget is gone")
	assert.Equal(t, 1, res.TimeProfile.Attempts, "queue timeout is never retried")
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := testCaller(fake)

	calls := 0
	res := Invoke(context.Background(), c, Endpoint{Name: "x", Weight: 1},
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &models.APIError{Provider: "bybit", Message: "socket hang up"}
			}
			return "done", nil
		})
	require.True(t, res.OK)
	assert.Equal(t, "done", res.Data)
	assert.Equal(t, 2, res.TimeProfile.Attempts)
}

func TestInvoke_TerminalBusinessErrorPreservesMessage(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := testCaller(fake)

	res := Invoke(context.Background(), c, Endpoint{Name: "x", Weight: 1},
		func(ctx context.Context) (string, error) {
			return "", errors.New("Order quantity below the minimum")
		})
	require.False(t, res.OK)
	assert.Equal(t, "Order quantity below the minimum", res.Reason)
}

func TestFailFast(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := testCaller(fake)
	res := FailFast[int](c, CannotConnect("bybit"))
	assert.False(t, res.OK)
	assert.Equal(t, "Cannot connect to bybit", res.Reason)
	assert.False(t, res.TimeProfile.OutcomingTime.IsZero())
}

func TestPrecisionFromTick(t *testing.T) {
	cases := map[string]int{
		"0.00010": 4,
		"1":       0,
		"0.5":     1,
		"0.0001":  4,
		"0.001":   3,
		"10":      0,
		"0.000001": 6,
		"1.0":     0,
	}
	for tick, want := range cases {
		assert.Equal(t, want, PrecisionFromTick(tick), "tick %q", tick)
	}
}

func TestMinQuoteOrder(t *testing.T) {
	// 0.1 + 0.2 must come out 0.3, not 0.30000000000000004.
	got, err := MinQuoteOrder("0.1", "0.2", 1)
	require.NoError(t, err)
	assert.Equal(t, "0.3", got)

	// Rounded up, never down.
	got, err = MinQuoteOrder("1.111", "0.001", 2)
	require.NoError(t, err)
	assert.Equal(t, "1.12", got)
}
