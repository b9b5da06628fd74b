package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

func testOpts(host string, fake *clock.Fake) base.Options {
	return base.Options{
		Key:      "test-key",
		Secret:   "test-secret",
		Host:     host,
		Registry: limiter.NewRegistry(fake),
		Clock:    fake,
	}
}

func TestNormStatus(t *testing.T) {
	cases := map[string]models.OrderStatus{
		"NEW":              models.StatusNew,
		"PARTIALLY_FILLED": models.StatusPartiallyFilled,
		"FILLED":           models.StatusFilled,
		"CANCELED":         models.StatusCanceled,
		"REJECTED":         models.StatusCanceled,
		"EXPIRED":          models.StatusCanceled,
		"PENDING_CANCEL":   models.StatusCanceled,
		"EXPIRED_IN_MATCH": models.StatusCanceled,
	}
	for raw, want := range cases {
		assert.Equal(t, want, normStatus(raw), raw)
	}
}

func TestToOrderMarketPriceFallbacks(t *testing.T) {
	o := rawOrder{
		Symbol:   "BTCUSDT",
		OrderID:  42,
		Price:    "0.00000000",
		AvgPrice: "50123.40",
		Type:     "MARKET",
		Side:     "BUY",
		Status:   "FILLED",
		CumQuote: "1002.47",
	}.toOrder()
	assert.Equal(t, "50123.40", o.Price)
	assert.Equal(t, "1002.47", o.CummulativeQuoteQty)
	assert.Equal(t, "42", o.OrderID)
	assert.Equal(t, int64(-1), o.TransactTime)
	assert.Equal(t, int64(-1), o.UpdateTime)
}

func TestSplitRange(t *testing.T) {
	maxMS := coinmMaxRange.Milliseconds()
	spans := splitRange(0, 450*24*time.Hour.Milliseconds(), maxMS)
	require.Len(t, spans, 3)
	assert.Equal(t, int64(0), spans[0][0])
	assert.Equal(t, maxMS, spans[0][1])
	assert.Equal(t, maxMS, spans[1][0])
	assert.Equal(t, 2*maxMS, spans[1][1])
	assert.Equal(t, 450*24*time.Hour.Milliseconds(), spans[2][1])
}

func TestOpenOrderRereadsUntilVisible(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/order":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"tg-abc","status":"NEW","type":"LIMIT","side":"BUY","price":"50000","origQty":"0.01","transactTime":1700000000001}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v3/order":
			if atomic.AddInt32(&gets, 1) == 1 {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"code":-2013,"msg":"Order does not exist."}`)
				return
			}
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"tg-abc","status":"FILLED","type":"LIMIT","side":"BUY","price":"50000","origQty":"0.01","executedQty":"0.01","cummulativeQuoteQty":"500","time":1700000000001,"updateTime":1700000000002}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))
	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeLimit,
		Price: "50000", Quantity: "0.01",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, models.StatusFilled, res.Data.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&gets))
	assert.Contains(t, fake.Sleeps, 500*time.Millisecond)
	assert.Equal(t, 1, res.TimeProfile.Attempts)
	assert.NotEmpty(t, res.Usage)
}

func TestOpenOrderRecoversFromDeclaredBan(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/order":
			if atomic.AddInt32(&posts, 1) == 1 {
				w.WriteHeader(http.StatusTeapot)
				fmt.Fprint(w, `{"code":-1008,"msg":"Way too much request weight used; IP banned until 1696156800000."}`)
				return
			}
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":9,"clientOrderId":"tg-xyz","status":"FILLED","type":"MARKET","side":"BUY","avgPrice":"50000","origQty":"0.01","executedQty":"0.01","cummulativeQuoteQty":"500","transactTime":1700000000005}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v3/order":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":9,"clientOrderId":"tg-xyz","status":"FILLED","type":"MARKET","side":"BUY","origQty":"0.01","executedQty":"0.01","cummulativeQuoteQty":"500","time":1700000000005}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	b := New(opts)
	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeMarket, Quantity: "0.01",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, int32(2), atomic.LoadInt32(&posts))
	assert.Equal(t, 2, res.TimeProfile.Attempts)
	// The declared ban epoch lands on the governor even though it already
	// lapsed by the fake clock's time.
	assert.Equal(t, time.UnixMilli(1696156800000).UnixMilli(), b.gov.BannedUntil().UnixMilli())
	assert.GreaterOrEqual(t, fake.TotalSlept(), 30*time.Second)
}

func TestLatestPriceWaitsOutExhaustedWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"50000.00"}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	b := New(opts)

	// Slam the weight window shut; the call must wait out the roll.
	b.gov.Saturate()

	res := b.LatestPrice(context.Background(), "BTCUSDT")
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, 50000.0, res.Data)
	assert.Greater(t, fake.TotalSlept(), time.Duration(0))
	assert.Greater(t, res.TimeProfile.QueueWait(), time.Duration(0))
}

func TestGuards(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))

	spot := New(testOpts("http://127.0.0.1:0", fake))
	res := spot.FuturesGetPositions(context.Background(), "BTCUSDT")
	require.False(t, res.OK)
	assert.Equal(t, base.FuturesMissed, res.Reason)

	// A key without a secret cannot even construct a client.
	half := New(base.Options{
		Key:      "key-only",
		Registry: limiter.NewRegistry(fake),
		Clock:    fake,
	})
	bal := half.GetBalance(context.Background())
	require.False(t, bal.OK)
	assert.Equal(t, base.CannotConnect("binance"), bal.Reason)
}

func TestCoinMarginedCandlesChunkWideRanges(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/dapi/v1/klines", r.URL.Path)
		n := atomic.AddInt32(&calls, 1)
		open := int64(n) * 1000
		fmt.Fprintf(w, `[[%d,"100","110","90","105","12.5",%d]]`, open, open+999)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Futures = models.ModeCoinM
	b := New(opts)

	from := int64(0)
	to := 450 * 24 * time.Hour.Milliseconds()
	res := b.GetCandles(context.Background(), models.CandleQuery{
		Symbol: "BTCUSD_PERP", Interval: models.Interval1d, From: from, To: to,
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, res.Data, 3)
	assert.Equal(t, "105", res.Data[0].Close)
}

func TestWeightHeaderSyncRaisesUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "3000")
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"50000.00"}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.LatestPrice(context.Background(), "BTCUSDT")
	require.True(t, res.OK, res.Reason)

	var weightFraction float64
	for _, u := range res.Usage {
		if u.Kind == "weight" {
			weightFraction = u.Fraction
		}
	}
	// 3000 × 1.2 safety over the 4500 window is 80%.
	assert.InDelta(t, 0.8, weightFraction, 0.05)
}
