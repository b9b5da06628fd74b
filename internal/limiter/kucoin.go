package limiter

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// KuCoinCategory buckets endpoints into KuCoin's published resource pools.
type KuCoinCategory string

const (
	KuCoinPublic     KuCoinCategory = "public"
	KuCoinSpot       KuCoinCategory = "spot"
	KuCoinFutures    KuCoinCategory = "futures"
	KuCoinManagement KuCoinCategory = "management"
)

// KuCoin meters weight per category over 30-second frames, VIP0 budgets.
type KuCoin struct {
	base
	cats map[KuCoinCategory]*window
}

const kucoinFrame = 30 * time.Second

var kucoinBudgets = map[KuCoinCategory]float64{
	KuCoinPublic:     2000,
	KuCoinSpot:       4000,
	KuCoinFutures:    2000,
	KuCoinManagement: 2000,
}

func NewKuCoin(clk clock.Clock, km *kmutex.Mutex) *KuCoin {
	cats := make(map[KuCoinCategory]*window, len(kucoinBudgets))
	for c, budget := range kucoinBudgets {
		cats[c] = newWindow(budget, kucoinFrame)
	}
	return &KuCoin{base: base{clk: clk, km: km, key: "kucoin"}, cats: cats}
}

// CheckCategory is Check with an explicit pool; the facade picks the pool
// from the endpoint it is about to hit.
func (g *KuCoin) CheckCategory(cat KuCoinCategory, weight int) time.Duration {
	var wait time.Duration
	g.locked(func() {
		now := g.clk.Now()
		w, ok := g.cats[cat]
		if !ok {
			w = g.cats[KuCoinPublic]
		}
		if wait = w.need(now, float64(weight)); wait > 0 {
			return
		}
		w.debit(float64(weight))
	})
	return wait
}

// Check implements Governor; endpoint names prefixed "futures/" or
// "management/" select their pools, orders imply the spot pool, everything
// else is public.
func (g *KuCoin) Check(endpoint string, kind Kind, weight int) time.Duration {
	return g.CheckCategory(categoryForEndpoint(endpoint, kind), weight)
}

func categoryForEndpoint(endpoint string, kind Kind) KuCoinCategory {
	switch {
	case len(endpoint) >= 8 && endpoint[:8] == "futures/":
		return KuCoinFutures
	case len(endpoint) >= 11 && endpoint[:11] == "management/":
		return KuCoinManagement
	case kind == KindOrder:
		return KuCoinSpot
	default:
		return KuCoinPublic
	}
}

func (g *KuCoin) Snapshot() []models.Usage {
	var out []models.Usage
	g.locked(func() {
		now := g.clk.Now()
		out = []models.Usage{
			{Kind: models.UsageRequests, Fraction: g.cats[KuCoinPublic].usage(now)},
			{Kind: models.UsageWeight, Fraction: g.cats[KuCoinSpot].usage(now)},
		}
	})
	return out
}

func (g *KuCoin) Saturate() {
	g.locked(func() {
		now := g.clk.Now()
		for _, w := range g.cats {
			w.roll(now)
			w.count = saturatedCount
		}
	})
}
