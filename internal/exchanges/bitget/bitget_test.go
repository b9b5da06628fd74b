package bitget

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
		Key:        "test-key",
		Secret:     "test-secret",
		Passphrase: "test-pass",
		Host:       host,
		Registry:   limiter.NewRegistry(fake),
		Clock:      fake,
	}
}

func env(data string) string {
	return `{"code":"00000","msg":"success","data":` + data + `}`
}

func TestProductTypeFromSuffix(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts("http://127.0.0.1:0", fake))
	assert.Equal(t, "USDT-FUTURES", b.productType("BTCUSDT"))
	assert.Equal(t, "USDC-FUTURES", b.productType("ETHUSDC"))
	assert.Equal(t, "COIN-FUTURES", b.productType("BTCUSD"))

	demo := testOpts("http://127.0.0.1:0", fake)
	demo.Demo = true
	d := New(demo)
	assert.Equal(t, "SUSDT-FUTURES", d.productType("SBTCSUSDT"))
	assert.Equal(t, "SUSDT", d.marginCoin("SBTCSUSDT"))
}

func TestNormStatus(t *testing.T) {
	cases := map[string]models.OrderStatus{
		"live":             models.StatusNew,
		"new":              models.StatusNew,
		"init":             models.StatusNew,
		"partially_filled": models.StatusPartiallyFilled,
		"filled":           models.StatusFilled,
		"cancelled":        models.StatusCanceled,
		"canceled":         models.StatusCanceled,
		"rejected":         models.StatusCanceled,
	}
	for raw, want := range cases {
		assert.Equal(t, want, normStatus(raw), raw)
	}
}

func TestOpenOrderAbsorbsConsistencyLag(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/spot/trade/place-order":
			fmt.Fprint(w, env(`{"orderId":"121","clientOid":"tg-bg"}`))
		case "/api/v2/spot/trade/orderInfo":
			if atomic.AddInt32(&gets, 1) <= 2 {
				fmt.Fprint(w, `{"code":"43025","msg":"The order cannot be found","data":null}`)
				return
			}
			fmt.Fprint(w, env(`[{"symbol":"BTCUSDT","orderId":"121","clientOid":"tg-bg","status":"live","orderType":"limit","side":"buy","price":"50000","size":"0.01","baseVolume":"0","cTime":"1700000000001","uTime":"1700000000001"}]`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeLimit,
		Price: "50000", Quantity: "0.01", ClientOrderID: "tg-bg",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, models.StatusNew, res.Data.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gets))
	// Two not-found rounds cost the first two ladder delays.
	assert.Contains(t, fake.Sleeps, 500*time.Millisecond)
	assert.GreaterOrEqual(t, fake.TotalSlept(), time.Second)
}

func TestChangeLeverageHedgeSetsBothSlots(t *testing.T) {
	var holdSides []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/mix/account/account":
			fmt.Fprint(w, env(`{"posMode":"hedge_mode","marginMode":"crossed"}`))
		case "/api/v2/mix/account/set-leverage":
			payload, _ := io.ReadAll(r.Body)
			var body map[string]any
			_ = json.Unmarshal(payload, &body)
			side, _ := body["holdSide"].(string)
			holdSides = append(holdSides, side)
			fmt.Fprint(w, env(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Futures = models.ModeUSDM
	b := New(opts)

	res := b.FuturesChangeLeverage(context.Background(), "BTCUSDT", 20)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []string{"long", "short"}, holdSides)
}

func TestMixOrderRouting(t *testing.T) {
	var placePath string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/mix/order/place-order":
			placePath = r.URL.Path
			payload, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(payload, &body)
			fmt.Fprint(w, env(`{"orderId":"9","clientOid":"tg-mix"}`))
		case "/api/v2/mix/order/detail":
			fmt.Fprint(w, env(`{"symbol":"BTCUSDT","orderId":"9","clientOid":"tg-mix","state":"filled","orderType":"market","side":"buy","priceAvg":"50000","size":"0.01","baseVolume":"0.01","quoteVolume":"500","cTime":"1700000000002","uTime":"1700000000003"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Futures = models.ModeUSDM
	b := New(opts)

	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeMarket,
		Quantity: "0.01", ClientOrderID: "tg-mix",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "/api/v2/mix/order/place-order", placePath)
	assert.Equal(t, "USDT-FUTURES", body["productType"])
	assert.Equal(t, "USDT", body["marginCoin"])
	assert.Equal(t, models.StatusFilled, res.Data.Status)
	assert.Equal(t, "50000", res.Data.Price)
}

func TestBusinessRejectionIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"43012","msg":"Insufficient balance","data":null}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts(srv.URL, fake))

	res := b.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.TypeMarket, Quantity: "100",
	})
	require.False(t, res.OK)
	assert.Equal(t, "Insufficient balance", res.Reason)
	assert.Equal(t, 1, res.TimeProfile.Attempts)
}

func TestSpotIntervalGaps(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	b := New(testOpts("http://127.0.0.1:0", fake))

	res := b.GetCandles(context.Background(), models.CandleQuery{
		Symbol: "BTCUSDT", Interval: models.Interval2h,
	})
	require.False(t, res.OK)
	assert.Contains(t, res.Reason, "unsupported interval")
}
