package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

func TestClassify_NetworkFaultsRetry(t *testing.T) {
	rules := BybitRules()
	for _, msg := range []string{
		"fetch failed", "ETIMEDOUT", "ECONNRESET", "EAI_AGAIN",
		"socket hang up", "getaddrinfo ENOTFOUND api.bybit.com",
		"TLS handshake timeout", "Gateway Timeout",
	} {
		d := rules.Classify(&models.APIError{Provider: "bybit", Message: msg}, 0)
		assert.True(t, d.Retry, "%q must retry", msg)
		assert.Positive(t, d.Delay)
	}
}

func TestClassify_SocketHangUpGrowsWithAttempt(t *testing.T) {
	rules := BybitRules()
	e := &models.APIError{Provider: "bybit", Message: "socket hang up"}
	assert.Equal(t, 2*time.Second, rules.Classify(e, 0).Delay)
	assert.Equal(t, 5*time.Second, rules.Classify(e, 3).Delay)
}

func TestClassify_BusinessRejectionFailsFast(t *testing.T) {
	rules := BinanceRules("binance-com", false)
	e := &models.APIError{Provider: "binance-com", Code: "-2010", Message: "Account has insufficient balance for requested action."}
	d := rules.Classify(e, 0)
	assert.False(t, d.Retry)
	assert.Equal(t, e.Message, d.Reason, "exchange message preserved verbatim")
}

func TestClassify_Binance403SaturatesAndFails(t *testing.T) {
	rules := BinanceRules("binance-com", false)
	d := rules.Classify(&models.APIError{Provider: "binance-com", HTTPStatus: 403, Message: "Forbidden"}, 0)
	assert.False(t, d.Retry)
	assert.True(t, d.Saturate)
}

func TestClassify_BinanceBanTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	rules := BinanceRules("binance-com", false)
	rules.Now = func() time.Time { return now }

	until := now.Add(30 * time.Second)
	e := &models.APIError{
		Provider: "binance-com",
		Code:     "-1008",
		Message:  fmt.Sprintf("Way too much request weight used; IP banned until %d.", until.UnixMilli()),
	}
	d := rules.Classify(e, 0)
	require.True(t, d.Retry)
	assert.Equal(t, until, d.BanUntil)
	assert.Equal(t, 30*time.Second+time.Millisecond, d.Delay)
	assert.True(t, d.Saturate)
}

func TestClassify_BinanceBanWithoutEpochSleeps30s(t *testing.T) {
	rules := BinanceRules("binance-com", false)
	d := rules.Classify(&models.APIError{Provider: "binance-com", Code: "-1008", Message: "banned"}, 0)
	require.True(t, d.Retry)
	assert.Equal(t, 30*time.Second, d.Delay)
}

func TestClassify_Binance1015SpotVsCoinm(t *testing.T) {
	e := &models.APIError{Code: "-1015", Message: "Too many new orders."}
	assert.Equal(t, 11*time.Second, BinanceRules("binance-com", false).Classify(e, 0).Delay)
	assert.Equal(t, 61*time.Second, BinanceRules("binance-coinm", true).Classify(e, 0).Delay)
}

func TestClassify_KuCoinDelayTable(t *testing.T) {
	rules := KuCoinRules()
	cases := map[string]time.Duration{
		"429":  30 * time.Second,
		"530":  30 * time.Second,
		"1015": 50 * time.Second,
		"524":  10 * time.Second,
		"520":  10 * time.Second,
		"502":  10 * time.Second,
	}
	for code, want := range cases {
		d := rules.Classify(&models.APIError{Provider: "kucoin", Code: code, Message: "x"}, 0)
		require.True(t, d.Retry, "code %s", code)
		assert.Equal(t, want, d.Delay, "code %s", code)
	}
}

func TestClassify_KuCoinClockSkewDoublesBudget(t *testing.T) {
	rules := KuCoinRules()
	e := &models.APIError{Provider: "kucoin", Message: "KC-API-TIMESTAMP Invalid"}

	// Attempt 10 would exhaust the default budget, but skew doubles it.
	d := rules.Classify(e, 10)
	assert.True(t, d.Retry)
	assert.Equal(t, 20*time.Second, d.Delay)

	d = rules.Classify(e, 19)
	assert.False(t, d.Retry)
	assert.True(t, strings.HasPrefix(d.Reason, models.ExchangeProblemsPrefix))
}

func TestClassify_OKXTooManyRequestsScalesLinearly(t *testing.T) {
	rules := OKXRules()
	e := &models.APIError{Provider: "okx", Code: "50011", Message: "Too Many Requests"}
	assert.Equal(t, 10*time.Second, rules.Classify(e, 0).Delay)
	assert.Equal(t, 40*time.Second, rules.Classify(e, 3).Delay)
}

func TestClassify_CoinbaseUnauthorizedFails(t *testing.T) {
	rules := CoinbaseRules()
	d := rules.Classify(&models.APIError{Provider: "coinbase", HTTPStatus: 401, Message: "Unauthorized"}, 0)
	assert.False(t, d.Retry)
}

func TestClassify_CoinbaseSocketHangUpExponential(t *testing.T) {
	rules := CoinbaseRules()
	e := &models.APIError{Provider: "coinbase", Message: "socket hang up"}
	assert.Equal(t, 2*time.Second, rules.Classify(e, 0).Delay)
	assert.Equal(t, 4*time.Second, rules.Classify(e, 1).Delay)
	assert.Equal(t, 8*time.Second, rules.Classify(e, 2).Delay)
	assert.Equal(t, 10*time.Second, rules.Classify(e, 3).Delay, "capped at 10 s")
}

func TestClassify_ExhaustionCarriesMarkerPrefix(t *testing.T) {
	rules := BybitRules()
	e := &models.APIError{Provider: "bybit", Code: "10006", Message: "Too many visits"}
	d := rules.Classify(e, DefaultMaxAttempts-1)
	assert.False(t, d.Retry)
	assert.Equal(t, models.ExchangeProblemsPrefix+e.Message, d.Reason)
}

func TestDo_RetryBudgetRecordedInProfile(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	tp := models.NewTimeProfile(fake.Now())
	calls := 0
	_, err := Do(context.Background(), fake, BybitRules(), nil, tp,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, &models.APIError{Provider: "bybit", Code: "10006", Message: "Too many visits"}
		})
	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Equal(t, DefaultMaxAttempts, tp.Attempts)
	assert.True(t, strings.HasPrefix(err.Error(), models.ExchangeProblemsPrefix))
}

func TestDo_NonRetryableStopsAtOneAttempt(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	tp := models.NewTimeProfile(fake.Now())
	_, err := Do(context.Background(), fake, BybitRules(), nil, tp,
		func(ctx context.Context) (int, error) {
			return 0, errors.New("Insufficient wallet balance")
		})
	require.Error(t, err)
	assert.Equal(t, 1, tp.Attempts)
	assert.Equal(t, "Insufficient wallet balance", err.Error())
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	tp := models.NewTimeProfile(fake.Now())
	calls := 0
	v, err := Do(context.Background(), fake, BybitRules(), nil, tp,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &models.APIError{Provider: "bybit", Message: "ECONNRESET"}
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, tp.Attempts)
	assert.Positive(t, fake.TotalSlept())
}

func TestDo_AppliesGovernorHints(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	gov := limiter.NewBinance(limiter.BinanceSpotCom, "k", fake, kmutex.New())
	rules := BinanceRules("binance-com", false)
	rules.Now = fake.Now

	until := fake.Now().Add(45 * time.Second)
	tp := models.NewTimeProfile(fake.Now())
	calls := 0
	_, err := Do(context.Background(), fake, rules, gov, tp,
		func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, &models.APIError{
					Provider: "binance-com",
					Code:     "-1008",
					Message:  fmt.Sprintf("IP banned until %d", until.UnixMilli()),
				}
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, until, gov.BannedUntil(), "ban recorded in the governor")
}
