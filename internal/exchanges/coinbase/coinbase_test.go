package coinbase

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
	cases := []struct {
		status     string
		completion string
		want       models.OrderStatus
	}{
		{"OPEN", "0", models.StatusNew},
		{"PENDING", "", models.StatusNew},
		{"OPEN", "37.5", models.StatusPartiallyFilled},
		{"FILLED", "100", models.StatusFilled},
		{"CANCELLED", "0", models.StatusCanceled},
		{"EXPIRED", "12", models.StatusCanceled},
		{"FAILED", "", models.StatusCanceled},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normStatus(tc.status, tc.completion), tc.status+"/"+tc.completion)
	}
}

func TestOrderEnumsStayCanonical(t *testing.T) {
	ord := toOrder(rawOrder{OrderID: "1", ProductID: "BTC-USD", Side: "sell", Status: "OPEN"})
	assert.Equal(t, models.SideSell, ord.Side)
	assert.Equal(t, models.TypeMarket, ord.Type, "unknown order configuration is MARKET")

	ord = toOrder(rawOrder{OrderID: "2", ProductID: "BTC-USD", Side: "buy", Status: "OPEN"})
	assert.Equal(t, models.SideBuy, ord.Side)
}

func TestCreateErrorCarryingOrderIDRecoversWithoutRetry(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/brokerage/orders":
			atomic.AddInt32(&posts, 1)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"UNKNOWN","message":"Internal error","order_id":"ord-1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v3/brokerage/orders/historical/ord-1":
			fmt.Fprint(w, `{"order":{"order_id":"ord-1","client_order_id":"cb-1","product_id":"BTC-USD","side":"BUY","status":"FILLED","completion_percentage":"100","filled_size":"0.01","average_filled_price":"50000","filled_value":"500","order_configuration":{"market_market_ioc":{"quote_size":"500"}},"created_time":"2023-11-14T22:13:20Z"}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	c := New(testOpts(srv.URL, fake))

	res := c.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC-USD", Side: models.SideBuy, Type: models.TypeMarket,
		QuoteQuantity: "500", ClientOrderID: "cb-1",
	})

	require.True(t, res.OK, res.Reason)
	// A 500 would normally retry; the embedded order id must suppress that.
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
	assert.Equal(t, 1, res.TimeProfile.Attempts)
	assert.Equal(t, models.StatusFilled, res.Data.Status)
	assert.Equal(t, "50000", res.Data.Price)
}

func TestBusinessRejectionIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error_response":{"error":"INSUFFICIENT_FUND","message":"Insufficient balance in source account"}}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	c := New(testOpts(srv.URL, fake))

	res := c.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC-USD", Side: models.SideBuy, Type: models.TypeMarket, Quantity: "100",
	})
	require.False(t, res.OK)
	assert.Equal(t, "Insufficient balance in source account", res.Reason)
	assert.Equal(t, 1, res.TimeProfile.Attempts)
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Unauthorized"}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	c := New(testOpts(srv.URL, fake))

	res := c.GetBalance(context.Background())
	require.False(t, res.OK)
	assert.Equal(t, "Unauthorized", res.Reason)
	assert.Equal(t, 1, res.TimeProfile.Attempts)
}

func TestDefaultKeysUnlockMarketDataOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("CB-ACCESS-SIGN"))
		fmt.Fprint(w, `{"product_id":"BTC-USD","price":"50000"}`)
	}))
	defer srv.Close()

	t.Setenv("COINBASEKEY", "env-key")
	t.Setenv("COINBASESECRET", "env-secret")

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Key, opts.Secret = "", ""
	c := New(opts)

	price := c.LatestPrice(context.Background(), "BTC-USD")
	require.True(t, price.OK, price.Reason)
	assert.Equal(t, float64(50000), price.Data)

	bal := c.GetBalance(context.Background())
	require.False(t, bal.OK)
	assert.Equal(t, base.CannotConnect("coinbase"), bal.Reason)
}

func TestCandlesRestampedAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ONE_HOUR", r.URL.Query().Get("granularity"))
		fmt.Fprint(w, `{"candles":[{"start":"1700003600","low":"100","high":"103","open":"101","close":"102","volume":"7"},{"start":"1700000000","low":"98","high":"102","open":"99","close":"101","volume":"5"}]}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	c := New(testOpts(srv.URL, fake))

	res := c.GetCandles(context.Background(), models.CandleQuery{Symbol: "BTC-USD", Interval: models.Interval1h})
	require.True(t, res.OK, res.Reason)
	require.Len(t, res.Data, 2)
	assert.Equal(t, int64(1700000000000), res.Data[0].OpenTime)
	assert.Equal(t, int64(1700003599999), res.Data[0].CloseTime)
	assert.Equal(t, "99", res.Data[0].Open)
	assert.Less(t, res.Data[0].OpenTime, res.Data[1].OpenTime)
}

func TestGuards(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))

	c := New(testOpts("http://127.0.0.1:0", fake))
	res := c.FuturesGetPositions(context.Background(), "")
	require.False(t, res.OK)
	assert.Equal(t, base.FuturesMissed, res.Reason)

	t.Setenv("COINBASEKEY", "")
	t.Setenv("COINBASESECRET", "")
	opts := testOpts("http://127.0.0.1:0", fake)
	opts.Key, opts.Secret = "", ""
	bare := New(opts)
	price := bare.LatestPrice(context.Background(), "BTC-USD")
	require.False(t, price.OK)
	assert.Equal(t, base.CannotConnect("coinbase"), price.Reason)
}
