package kucoin

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
		Key:        "test-key",
		Secret:     "test-secret",
		Passphrase: "test-pass",
		Host:       host,
		Registry:   limiter.NewRegistry(fake),
		Clock:      fake,
	}
}

func env(data string) string {
	return `{"code":"200000","data":` + data + `}`
}

func TestSymbolCodec(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))

	spot := New(testOpts("http://127.0.0.1:0", fake))
	assert.Equal(t, "BTC-USDT", spot.encode("BTC-USDT"))

	opts := testOpts("http://127.0.0.1:0", fake)
	opts.Futures = models.ModeUSDM
	fut := New(opts)
	assert.Equal(t, "XBTUSDTM", fut.encode("BTCUSDT"))
	assert.Equal(t, "ETHUSDTM", fut.encode("ETHUSDT"))
	assert.Equal(t, "BTCUSDT", fut.decode(fut.encode("BTCUSDT")))

	inv := testOpts("http://127.0.0.1:0", fake)
	inv.Futures = models.ModeCoinM
	c := New(inv)
	assert.Equal(t, "XBTUSDM", c.encode("BTCUSD"))
	assert.Equal(t, "BTCUSD", c.decode("XBTUSDM"))
}

func TestOrderStatusReconstruction(t *testing.T) {
	cases := []struct {
		name string
		raw  rawOrder
		want models.OrderStatus
	}{
		{"active untouched", rawOrder{IsActive: true, DealSize: "0"}, models.StatusNew},
		{"active partially dealt", rawOrder{IsActive: true, DealSize: "0.5"}, models.StatusPartiallyFilled},
		{"done without cancel", rawOrder{IsActive: false, DealSize: "1", CancelExist: false}, models.StatusFilled},
		{"done with cancel", rawOrder{IsActive: false, DealSize: "0.5", CancelExist: true}, models.StatusCanceled},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.raw.status(), tc.name)
	}
}

func TestOrderEnumsStayCanonical(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	k := New(testOpts("http://127.0.0.1:0", fake))

	ord := k.toOrder(rawOrder{ID: "1", Symbol: "BTC-USDT", Type: "limit", Side: "sell", Price: "50000", Size: "1", IsActive: true})
	assert.Equal(t, models.TypeLimit, ord.Type)
	assert.Equal(t, models.SideSell, ord.Side)

	ord = k.toOrder(rawOrder{ID: "2", Symbol: "BTC-USDT", Type: "limit_stop", Side: "buy", Size: "1", IsActive: true})
	assert.Equal(t, models.TypeMarket, ord.Type, "stop types collapse to MARKET")
	assert.Equal(t, models.SideBuy, ord.Side)
}

func TestOpenOrderWaitsForReadPath(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/orders":
			fmt.Fprint(w, env(`{"orderId":"5bd6e928"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/order/client-order/tg-ku":
			if atomic.AddInt32(&gets, 1) <= 2 {
				fmt.Fprint(w, `{"code":"400100","msg":"order does not exist"}`)
				return
			}
			fmt.Fprint(w, env(`{"id":"5bd6e928","symbol":"BTC-USDT","type":"limit","side":"buy","price":"50000","size":"0.01","dealSize":"0","dealFunds":"0","clientOid":"tg-ku","isActive":true,"cancelExist":false,"createdAt":1700000000001}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	k := New(testOpts(srv.URL, fake))

	res := k.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC-USDT", Side: models.SideBuy, Type: models.TypeLimit,
		Price: "50000", Quantity: "0.01", ClientOrderID: "tg-ku",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, models.StatusNew, res.Data.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gets))
	assert.Contains(t, fake.Sleeps, 500*time.Millisecond)
	assert.GreaterOrEqual(t, fake.TotalSlept(), time.Second)
}

func TestCancelFallsBackToLegacyEndpoint(t *testing.T) {
	var legacyDeletes int32
	canceled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/order/client-order/tg-ku":
			fmt.Fprint(w, `{"code":"400100","msg":"order not exist or not allow to cancel"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/order/client-order/tg-ku":
			active := `{"id":"o-1","symbol":"BTC-USDT","type":"limit","side":"buy","price":"50000","size":"0.01","dealSize":"0","clientOid":"tg-ku","isActive":true,"cancelExist":false,"createdAt":1700000000001}`
			if canceled {
				active = `{"id":"o-1","symbol":"BTC-USDT","type":"limit","side":"buy","price":"50000","size":"0.01","dealSize":"0","clientOid":"tg-ku","isActive":false,"cancelExist":true,"createdAt":1700000000001}`
			}
			fmt.Fprint(w, env(active))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/orders/o-1":
			atomic.AddInt32(&legacyDeletes, 1)
			canceled = true
			fmt.Fprint(w, env(`{"cancelledOrderIds":["o-1"]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	k := New(testOpts(srv.URL, fake))

	res := k.CancelOrder(context.Background(), models.OrderRef{Symbol: "BTC-USDT", ClientOrderID: "tg-ku"})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, models.StatusCanceled, res.Data.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&legacyDeletes))
}

func TestInverseContractPriceDerivation(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts("http://127.0.0.1:0", fake)
	opts.Futures = models.ModeCoinM
	k := New(opts)

	ord := k.toOrder(rawOrder{
		ID: "o-2", Symbol: "XBTUSDM", Type: "market", Side: "buy",
		DealSize: "2", DealValue: "0.0001",
		IsActive: false, CancelExist: false, CreatedAt: 1700000000001,
	})
	assert.Equal(t, "BTCUSD", ord.Symbol)
	assert.Equal(t, models.StatusFilled, ord.Status)
	// Inverse fills are valued in base currency, so price inverts.
	assert.Equal(t, "20000", ord.Price)
}

func TestQuoteMinimumBumpedAboveFilter(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	k := New(testOpts("http://127.0.0.1:0", fake))

	inst, err := k.toInstrument(rawSymbol{
		Symbol: "BTC-USDT", BaseCurrency: "BTC", QuoteCurrency: "USDT",
		BaseMinSize: "0.00001", BaseIncrement: "0.00000001",
		QuoteMinSize: "0.1", QuoteIncrement: "0.000001",
		PriceIncrement: "0.01",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inst.PriceAssetPrecision)
	assert.Equal(t, "0.11", inst.QuoteAsset.MinAmount)
}

func TestSpotCandlesReorderedAndRestamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/market/candles", r.URL.Path)
		require.Equal(t, "1hour", r.URL.Query().Get("type"))
		fmt.Fprint(w, env(`[["1700003600","101","102","103","100","7","700000"],["1700000000","99","101","102","98","5","500000"]]`))
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	k := New(testOpts(srv.URL, fake))

	res := k.GetCandles(context.Background(), models.CandleQuery{Symbol: "BTC-USDT", Interval: models.Interval1h})
	require.True(t, res.OK, res.Reason)
	require.Len(t, res.Data, 2)
	first := res.Data[0]
	assert.Equal(t, int64(1700000000000), first.OpenTime)
	assert.Equal(t, "99", first.Open)
	assert.Equal(t, "101", first.Close)
	assert.Equal(t, "102", first.High)
	assert.Equal(t, "98", first.Low)
	assert.Equal(t, int64(1700003599999), first.CloseTime)
	assert.Less(t, res.Data[0].OpenTime, res.Data[1].OpenTime)
}

func TestGuards(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))

	spot := New(testOpts("http://127.0.0.1:0", fake))
	res := spot.FuturesGetPositions(context.Background(), "")
	require.False(t, res.OK)
	assert.Equal(t, base.FuturesMissed, res.Reason)

	half := testOpts("http://127.0.0.1:0", fake)
	half.Secret = ""
	broken := New(half)
	bal := broken.GetBalance(context.Background())
	require.False(t, bal.OK)
	assert.Equal(t, base.CannotConnect("kucoin"), bal.Reason)
}
