package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
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
	return `{"code":"0","msg":"","data":` + data + `}`
}

func TestSwapSuffixCodec(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))

	spot := New(testOpts("http://127.0.0.1:0", fake))
	assert.Equal(t, "BTC-USDT", spot.encode("BTC-USDT"))

	opts := testOpts("http://127.0.0.1:0", fake)
	opts.Futures = models.ModeUSDM
	fut := New(opts)
	assert.Equal(t, "BTC-USDT-SWAP", fut.encode("BTC-USDT"))
	assert.Equal(t, "BTC-USDT-SWAP", fut.encode("BTC-USDT-SWAP"))
	assert.Equal(t, "BTC-USDT", fut.decode("BTC-USDT-SWAP"))
}

func TestOrderEnumsStayCanonical(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	o := New(testOpts("http://127.0.0.1:0", fake))

	ord := o.toOrder(rawOrder{
		OrdID: "1", InstID: "BTC-USDT",
		OrdType: "post_only", Side: "sell", State: "live",
		Px: "50000", Sz: "1",
	})
	assert.Equal(t, models.TypeLimit, ord.Type)
	assert.Equal(t, models.SideSell, ord.Side)

	ord = o.toOrder(rawOrder{
		OrdID: "2", InstID: "BTC-USDT",
		OrdType: "ioc", Side: "buy", State: "filled",
		AvgPx: "50000", Sz: "1", AccFillSz: "1",
	})
	assert.Equal(t, models.TypeMarket, ord.Type, "extended types collapse to MARKET")
	assert.Equal(t, models.SideBuy, ord.Side)
}

func TestCandleRoutingByRangeAge(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, env(`[["1700003600000","101","103","100","102","7"],["1700000000000","99","102","98","101","5"]]`))
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	o := New(testOpts(srv.URL, fake))

	// Recent range stays on the hot endpoint.
	recent := o.GetCandles(context.Background(), models.CandleQuery{
		Symbol: "BTC-USDT", Interval: models.Interval1h,
		From: fake.Now().Add(-100 * time.Hour).UnixMilli(),
	})
	require.True(t, recent.OK, recent.Reason)

	// A range older than 1400 bars routes to history.
	old := o.GetCandles(context.Background(), models.CandleQuery{
		Symbol: "BTC-USDT", Interval: models.Interval1h,
		From: fake.Now().Add(-2000 * time.Hour).UnixMilli(),
	})
	require.True(t, old.OK, old.Reason)

	require.Len(t, paths, 2)
	assert.Equal(t, "/api/v5/market/candles", paths[0])
	assert.Equal(t, "/api/v5/market/history-candles", paths[1])

	require.Len(t, old.Data, 2)
	assert.Less(t, old.Data[0].OpenTime, old.Data[1].OpenTime)
	assert.Equal(t, "99", old.Data[0].Open)
	assert.Equal(t, "102", old.Data[0].High)
}

func TestSpotMarketBuySizedInQuote(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v5/trade/order":
			payload, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(payload, &body)
			fmt.Fprint(w, env(`[{"ordId":"1","clOrdId":"tgabc","sCode":"0"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v5/trade/order":
			fmt.Fprint(w, env(`[{"ordId":"1","clOrdId":"tgabc","instId":"BTC-USDT","px":"","avgPx":"50000","sz":"500","accFillSz":"0.01","ordType":"market","side":"buy","state":"filled","cTime":"1700000000001","uTime":"1700000000002"}]`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	o := New(testOpts(srv.URL, fake))

	res := o.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC-USDT", Side: models.SideBuy, Type: models.TypeMarket,
		QuoteQuantity: "500", ClientOrderID: "tgabc",
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "500", body["sz"])
	assert.Equal(t, "quote_ccy", body["tgtCcy"])
	assert.Equal(t, "cash", body["tdMode"])
	assert.Equal(t, models.StatusFilled, res.Data.Status)
	assert.Equal(t, "50000", res.Data.Price)
}

func TestBatchRejectionSurfacesInnerCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"1","msg":"Operation failed.","data":[{"sCode":"51000","sMsg":"Parameter instId error"}]}`)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	o := New(testOpts(srv.URL, fake))

	res := o.OpenOrder(context.Background(), models.OrderRequest{
		Symbol: "NOPE", Side: models.SideBuy, Type: models.TypeMarket, Quantity: "1",
	})
	require.False(t, res.OK)
	assert.Equal(t, "Parameter instId error", res.Reason)
	assert.Equal(t, 1, res.TimeProfile.Attempts)
}

func TestDemoHeaderApplied(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("x-simulated-trading")
		fmt.Fprint(w, env(`[{"last":"50000"}]`))
	}))
	defer srv.Close()

	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := testOpts(srv.URL, fake)
	opts.Demo = true
	o := New(opts)

	res := o.LatestPrice(context.Background(), "BTC-USDT")
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "1", header)
	assert.Equal(t, float64(50000), res.Data)
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
	assert.Equal(t, base.CannotConnect("okx"), bal.Reason)
}
