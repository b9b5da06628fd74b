package limiter

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// Bybit meters everything against one global sliding frame: 550 requests per
// 5.5 seconds across all endpoints.
type Bybit struct {
	base
	win *window
}

const (
	bybitCeiling = 550
	bybitFrame   = 5500 * time.Millisecond
)

func NewBybit(clk clock.Clock, km *kmutex.Mutex) *Bybit {
	return &Bybit{
		base: base{clk: clk, km: km, key: "bybit"},
		win:  newWindow(bybitCeiling, bybitFrame),
	}
}

func (g *Bybit) Check(endpoint string, kind Kind, weight int) time.Duration {
	var wait time.Duration
	g.locked(func() {
		now := g.clk.Now()
		if wait = g.win.need(now, float64(weight)); wait > 0 {
			return
		}
		g.win.debit(float64(weight))
	})
	return wait
}

func (g *Bybit) Snapshot() []models.Usage {
	var out []models.Usage
	g.locked(func() {
		out = []models.Usage{{Kind: models.UsageRequests, Fraction: g.win.usage(g.clk.Now())}}
	})
	return out
}

func (g *Bybit) Saturate() {
	g.locked(func() {
		g.win.roll(g.clk.Now())
		g.win.count = saturatedCount
	})
}
