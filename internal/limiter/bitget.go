package limiter

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// Bitget governs on two independent levels: a global requests-per-minute
// budget and a per-endpoint-name one-second frame. Check returns the larger
// of the two required waits. Both ceilings carry a safety margin so the
// effective cap is nominal * (1 - margin).
type Bitget struct {
	base
	global    *window
	endpoints map[string]*window
	perSecCap float64
}

const (
	bitgetGlobalPerMin = 6000
	bitgetMargin       = 0.05
	bitgetEndpointCap  = 10 // requests per endpoint per second, nominal
)

func NewBitget(clk clock.Clock, km *kmutex.Mutex) *Bitget {
	return &Bitget{
		base:      base{clk: clk, km: km, key: "bitget"},
		global:    newWindow(bitgetGlobalPerMin*(1-bitgetMargin), time.Minute),
		endpoints: make(map[string]*window),
		perSecCap: bitgetEndpointCap * (1 - bitgetMargin),
	}
}

func (g *Bitget) endpointWindow(name string) *window {
	w, ok := g.endpoints[name]
	if !ok {
		w = newWindow(g.perSecCap, time.Second)
		g.endpoints[name] = w
	}
	return w
}

func (g *Bitget) Check(endpoint string, kind Kind, weight int) time.Duration {
	var wait time.Duration
	g.locked(func() {
		now := g.clk.Now()
		amount := float64(weight)
		ew := g.endpointWindow(endpoint)

		gWait := g.global.need(now, amount)
		eWait := ew.need(now, amount)
		if gWait > 0 || eWait > 0 {
			wait = gWait
			if eWait > wait {
				wait = eWait
			}
			return
		}
		g.global.debit(amount)
		ew.debit(amount)
	})
	return wait
}

func (g *Bitget) Snapshot() []models.Usage {
	var out []models.Usage
	g.locked(func() {
		out = []models.Usage{{Kind: models.UsageRequests, Fraction: g.global.usage(g.clk.Now())}}
	})
	return out
}

func (g *Bitget) Saturate() {
	g.locked(func() {
		now := g.clk.Now()
		g.global.roll(now)
		g.global.count = saturatedCount
	})
}
