package limiter

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
)

func TestBybit_GlobalFrame(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewBybit(fake, kmutex.New())

	for i := 0; i < bybitCeiling; i++ {
		require.Zero(t, g.Check("any", KindRequest, 1))
	}
	wait := g.Check("any", KindRequest, 1)
	assert.Equal(t, bybitFrame, wait)

	fake.Advance(bybitFrame)
	assert.Zero(t, g.Check("any", KindRequest, 1))
}

func TestBitget_DualWindows(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewBitget(fake, kmutex.New())

	// Per-endpoint ceiling is 10*(1-0.05) = 9.5, so 9 hits per second fit.
	for i := 0; i < 9; i++ {
		require.Zero(t, g.Check("spot/trade/orders", KindRequest, 1), "hit %d", i)
	}
	wait := g.Check("spot/trade/orders", KindRequest, 1)
	assert.Equal(t, time.Second, wait, "per-endpoint second window rejects first")

	// A different endpoint still passes: the global budget is far from full.
	assert.Zero(t, g.Check("spot/market/tickers", KindRequest, 1))

	fake.Advance(time.Second)
	assert.Zero(t, g.Check("spot/trade/orders", KindRequest, 1))
}

func TestBitget_ReturnsLargerOfTwoWaits(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewBitget(fake, kmutex.New())

	// Fill the global minute window by spreading hits over many endpoints so
	// no per-endpoint second window trips first. 633*9 = 5697 <= 6000*0.95.
	for i := 0; i < 633; i++ {
		require.Zero(t, g.Check(fmt.Sprintf("ep-%d", i), KindRequest, 9))
	}
	wait := g.Check("ep-last", KindRequest, 9)
	assert.Equal(t, time.Minute, wait, "global window dominates the fresh 1 s endpoint window")
}

func TestKuCoin_CategoryBudgetsAreIndependent(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewKuCoin(fake, kmutex.New())

	for i := 0; i < 2000; i++ {
		require.Zero(t, g.CheckCategory(KuCoinFutures, 1))
	}
	assert.Equal(t, kucoinFrame, g.CheckCategory(KuCoinFutures, 1))
	assert.Zero(t, g.CheckCategory(KuCoinSpot, 1), "spot pool unaffected by futures exhaustion")

	fake.Advance(kucoinFrame)
	assert.Zero(t, g.CheckCategory(KuCoinFutures, 1))
}

func TestKuCoin_EndpointRouting(t *testing.T) {
	assert.Equal(t, KuCoinFutures, categoryForEndpoint("futures/positions", KindRequest))
	assert.Equal(t, KuCoinManagement, categoryForEndpoint("management/sub-accounts", KindRequest))
	assert.Equal(t, KuCoinSpot, categoryForEndpoint("orders", KindOrder))
	assert.Equal(t, KuCoinPublic, categoryForEndpoint("market/candles", KindRequest))
}

func TestOKX_PerEndpointBuckets(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewOKX(fake, kmutex.New())

	for i := 0; i < 60; i++ {
		require.Zero(t, g.Check("trade/order", KindOrder, 1))
	}
	assert.Equal(t, okxFrame, g.Check("trade/order", KindOrder, 1))

	// Unlisted endpoints get the default cap of 5 per frame.
	for i := 0; i < 5; i++ {
		require.Zero(t, g.Check("asset/currencies", KindRequest, 1))
	}
	assert.Equal(t, okxFrame, g.Check("asset/currencies", KindRequest, 1))

	fake.Advance(okxFrame)
	assert.Zero(t, g.Check("trade/order", KindOrder, 1))
	assert.Zero(t, g.Check("asset/currencies", KindRequest, 1))
}

// Check, Saturate and Snapshot all mutate or sweep the same bucket windows;
// they must share one lock. Run under -race.
func TestOKX_ConcurrentSweepsShareOneLock(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewOKX(fake, kmutex.New())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ep := fmt.Sprintf("trade/ep-%d", n)
			for j := 0; j < 200; j++ {
				g.Check(ep, KindRequest, 1)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			g.Saturate()
			g.Snapshot()
		}
	}()
	wg.Wait()

	g.Saturate()
	assert.Positive(t, g.Check("trade/ep-0", KindRequest, 1),
		"saturation is visible to the next check")
}

func TestCoinbase_PrivateAndPublicPools(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewCoinbase(fake, kmutex.New())

	for i := 0; i < 10; i++ {
		require.Zero(t, g.CheckBucket(CoinbasePrivate, 1))
	}
	assert.Equal(t, time.Second, g.CheckBucket(CoinbasePrivate, 1))

	for i := 0; i < 30; i++ {
		require.Zero(t, g.CheckBucket(CoinbasePublic, 1))
	}
	assert.Equal(t, time.Second, g.CheckBucket(CoinbasePublic, 1))
	assert.Equal(t, time.Second+time.Millisecond, g.CheckBucket(CoinbasePublic, 1),
		"second rejection in the same frame carries the queue penalty")
}

func TestSaturate_ForcesBackoffUntilRoll(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewBybit(fake, kmutex.New())

	require.Zero(t, g.Check("any", KindRequest, 1))
	g.Saturate()
	require.Positive(t, g.Check("any", KindRequest, 1))

	fake.Advance(bybitFrame)
	assert.Zero(t, g.Check("any", KindRequest, 1), "saturation clears when the window rolls")
}

func TestRegistry_SharesSingletons(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	reg := NewRegistry(fake)
	assert.Same(t, reg.Bybit(), reg.Bybit())
	assert.Same(t, reg.OKX(), reg.OKX())
	a := reg.Binance(BinanceUSDM, "a")
	b := reg.Binance(BinanceUSDM, "b")
	assert.Same(t, a.core, b.core, "views share the product core")
}
