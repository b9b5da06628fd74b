package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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

func env(result string) string {
	return `{"retCode":0,"retMsg":"OK","result":` + result + `}`
}

func TestNormStatus(t *testing.T) {
	cases := []struct {
		status string
		typ    models.OrderType
		side   models.OrderSide
		want   models.OrderStatus
	}{
		{"New", models.TypeLimit, models.SideBuy, models.StatusNew},
		{"Created", models.TypeLimit, models.SideBuy, models.StatusNew},
		{"Untriggered", models.TypeLimit, models.SideSell, models.StatusNew},
		{"PartiallyFilled", models.TypeLimit, models.SideBuy, models.StatusPartiallyFilled},
		{"Filled", models.TypeMarket, models.SideSell, models.StatusFilled},
		{"PartiallyFilledCanceled", models.TypeMarket, models.SideBuy, models.StatusFilled},
		{"PartiallyFilledCanceled", models.TypeMarket, models.SideSell, models.StatusCanceled},
		{"PartiallyFilledCanceled", models.TypeLimit, models.SideBuy, models.StatusCanceled},
		{"Rejected", models.TypeLimit, models.SideBuy, models.StatusCanceled},
		{"Deactivated", models.TypeLimit, models.SideBuy, models.StatusCanceled},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, normStatus(c.status, c.typ, c.side),
			"%s %s %s", c.status, c.typ, c.side)
	}
}

func TestExpectedPositionIdx(t *testing.T) {
	assert.Equal(t, 1, expectedPositionIdx(models.SideBuy, false))
	assert.Equal(t, 2, expectedPositionIdx(models.SideSell, false))
	assert.Equal(t, 2, expectedPositionIdx(models.SideBuy, true))
	assert.Equal(t, 1, expectedPositionIdx(models.SideSell, true))
}

func TestOpenOrderRecomputesPositionIdx(t *testing.T) {
	var creates int32
	var secondBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			n := atomic.AddInt32(&creates, 1)
			if n == 1 {
				fmt.Fprint(w, `{"retCode":10001,"retMsg":"position idx not match position mode","result":{}}`)
				return
			}
			payload, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(payload, &secondBody)
			fmt.Fprint(w, env(`{"orderId":"111","orderLinkId":"tg-hedge"}`))
		case "/v5/order/realtime":
			fmt.Fprint(w, env(`{"list":[{"symbol":"BTCUSDT","orderId":"111","orderLinkId":"tg-hedge","side":"Buy","orderType":"Limit","orderStatus":"New","price":"50000","qty":"0.01","cumExecQty":"0","positionIdx":1,"createdTime":"1700000000001","updatedTime":"1700000000001"}]}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Futures = models.ModeUSDM
	b := New(opts)

	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeLimit,
		Price: "50000", Quantity: "0.01", ClientOrderID: "tg-hedge",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, int32(2), atomic.LoadInt32(&creates))
	assert.Equal(t, 2, res.TimeProfile.Attempts)
	assert.Equal(t, float64(1), secondBody["positionIdx"])
	assert.Equal(t, models.StatusNew, res.Data.Status)
	assert.Equal(t, models.PositionLong, res.Data.PositionSide)
}

func TestOpenOrderPositionIdxRejectedTwiceIsTerminal(t *testing.T) {
	var creates int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/order/create", r.URL.Path)
		atomic.AddInt32(&creates, 1)
		fmt.Fprint(w, `{"retCode":10001,"retMsg":"position idx not match position mode","result":{}}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Futures = models.ModeUSDM
	b := New(opts)

	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeLimit,
		Price: "50000", Quantity: "0.01",
	})

	require.False(t, res.OK)
	assert.Equal(t, int32(2), atomic.LoadInt32(&creates), "one resubmit with the corrected slot, then stop")
	assert.Equal(t, 2, res.TimeProfile.Attempts)
	assert.Contains(t, res.Reason, "rejected again")
}

func TestGetOrderFallsBackToHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/realtime":
			fmt.Fprint(w, env(`{"list":[]}`))
		case "/v5/order/history":
			fmt.Fprint(w, env(`{"list":[{"symbol":"BTCUSDT","orderId":"5","orderLinkId":"tg-h","side":"Sell","orderType":"Market","orderStatus":"Filled","avgPrice":"49000","qty":"0.02","cumExecQty":"0.02","cumExecValue":"980","createdTime":"1700000000001","updatedTime":"1700000000009"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.GetOrder(context.Background(), models.OrderRef{Symbol: "BTCUSDT", ClientOrderID: "tg-h"})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, models.StatusFilled, res.Data.Status)
	assert.Equal(t, "49000", res.Data.Price)
	assert.Equal(t, "980", res.Data.CummulativeQuoteQty)
}

func TestBalancesClassicVsUnified(t *testing.T) {
	var walletQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/account/info":
			fmt.Fprint(w, env(`{"marginMode":"REGULAR_MARGIN","unifiedMarginStatus":1}`))
		case "/v5/account/wallet-balance":
			walletQuery = r.URL.Query().Get("accountType")
			fmt.Fprint(w, env(`{"list":[{"coin":[{"coin":"USDT","walletBalance":"100.5","locked":"0.5"}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.GetBalance(context.Background())
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "SPOT", walletQuery)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "USDT", res.Data[0].Asset)
	assert.Equal(t, "100", res.Data[0].Free)
	assert.Equal(t, "0.5", res.Data[0].Locked)
}

func TestCandlesReversedToAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/kline", r.URL.Path)
		require.Equal(t, "60", r.URL.Query().Get("interval"))
		fmt.Fprint(w, env(`{"list":[["1700003600000","105","110","104","108","9"],["1700000000000","100","106","99","105","12"]]}`))
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.GetCandles(context.Background(), models.CandleQuery{
		Symbol: "BTCUSDT", Interval: models.Interval1h,
	})
	require.True(t, res.OK, res.Reason)
	require.Len(t, res.Data, 2)
	assert.Less(t, res.Data[0].OpenTime, res.Data[1].OpenTime)
	assert.Equal(t, res.Data[0].OpenTime+time.Hour.Milliseconds()-1, res.Data[0].CloseTime)
}

func TestRetCodeBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":170131,"retMsg":"Insufficient balance.","result":{}}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeMarket, Quantity: "1000",
	})
	require.False(t, res.OK)
	assert.Equal(t, "Insufficient balance.", res.Reason)
	assert.Equal(t, 1, res.TimeProfile.Attempts)
}

func TestGuards(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	spot := New(testOpts("http://127.0.0.1:0", fake))

	res := spot.FuturesChangeLeverage(context.Background(), "BTCUSDT", 10)
	require.False(t, res.OK)
	assert.Equal(t, base.FuturesMissed, res.Reason)
}
