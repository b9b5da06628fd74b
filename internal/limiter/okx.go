package limiter

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// OKX publishes per-endpoint caps over short frames, so the governor keeps an
// ad-hoc bucket per endpoint name created on first use. All ledger access is
// serialized under the single "okx" key: Saturate and Snapshot sweep every
// bucket, so a finer per-endpoint key would leave their sweeps unordered
// against Check's debits.
type OKX struct {
	clk     clock.Clock
	km      *kmutex.Mutex
	buckets map[string]*window
	caps    map[string]float64
}

const (
	okxFrame      = 3000 * time.Millisecond
	okxDefaultCap = 5
)

// Published per-endpoint caps per 3000 ms frame; everything else gets the
// default.
var okxCaps = map[string]float64{
	"trade/order":            60,
	"trade/cancel-order":     60,
	"trade/order-get":        60,
	"trade/orders-pending":   20,
	"market/candles":         20,
	"market/history-candles": 10,
	"market/tickers":         20,
	"market/ticker":          20,
	"account/balance":        5,
	"account/positions":      5,
	"account/set-leverage":   5,
}

func NewOKX(clk clock.Clock, km *kmutex.Mutex) *OKX {
	return &OKX{
		clk:     clk,
		km:      km,
		buckets: make(map[string]*window),
		caps:    okxCaps,
	}
}

func (g *OKX) bucket(endpoint string) *window {
	w, ok := g.buckets[endpoint]
	if !ok {
		cap := g.caps[endpoint]
		if cap == 0 {
			cap = okxDefaultCap
		}
		w = newWindow(cap, okxFrame)
		g.buckets[endpoint] = w
	}
	return w
}

func (g *OKX) Check(endpoint string, kind Kind, weight int) time.Duration {
	var wait time.Duration
	g.km.Do("okx", func() {
		now := g.clk.Now()
		w := g.bucket(endpoint)
		if wait = w.need(now, float64(weight)); wait > 0 {
			return
		}
		w.debit(float64(weight))
	})
	return wait
}

func (g *OKX) Snapshot() []models.Usage {
	var out []models.Usage
	g.km.Do("okx", func() {
		now := g.clk.Now()
		var worst float64
		for _, w := range g.buckets {
			if u := w.usage(now); u > worst {
				worst = u
			}
		}
		out = []models.Usage{{Kind: models.UsageRequests, Fraction: worst}}
	})
	return out
}

func (g *OKX) Saturate() {
	g.km.Do("okx", func() {
		now := g.clk.Now()
		for _, w := range g.buckets {
			w.roll(now)
			w.count = saturatedCount
		}
	})
}
