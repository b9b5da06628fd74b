package limiter

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// BinanceProduct selects which of Binance's four independent ledgers applies.
type BinanceProduct string

const (
	BinanceSpotCom BinanceProduct = "binance-com"
	BinanceSpotUS  BinanceProduct = "binance-us"
	BinanceUSDM    BinanceProduct = "binance-usdm"
	BinanceCoinM   BinanceProduct = "binance-coinm"
)

// binanceLimits are the published quotas per product. Spot-com moved from
// 950 to 4500 weight/min on 2023-08-25; the flag is kept so backtests against
// older captures still govern correctly.
type binanceLimits struct {
	weightPerMin float64
	orderCeiling float64
	orderWindow  time.Duration
}

func binanceLimitsFor(p BinanceProduct, newLimit bool) binanceLimits {
	switch p {
	case BinanceUSDM:
		return binanceLimits{weightPerMin: 2000, orderCeiling: 250, orderWindow: 10 * time.Second}
	case BinanceCoinM:
		return binanceLimits{weightPerMin: 2000, orderCeiling: 1000, orderWindow: 60 * time.Second}
	case BinanceSpotUS:
		return binanceLimits{weightPerMin: 950, orderCeiling: 80, orderWindow: 11 * time.Second}
	default: // spot-com
		w := 950.0
		if newLimit {
			w = 4500
		}
		return binanceLimits{weightPerMin: w, orderCeiling: 80, orderWindow: 11 * time.Second}
	}
}

// binanceSafety leaves headroom for clock skew and weight the server counted
// that we never saw locally.
const binanceSafety = 1.2

const (
	binanceRawPerMin = 1800
	binanceRawBurst  = 1800
)

// binanceCore is the process-wide ledger for one (domain, product) tuple.
// The weight and raw ledgers are shared across API keys; order budgets are
// per key and live in views.
type binanceCore struct {
	base
	product BinanceProduct
	weight  *window
	raw     *rate.Limiter
	orders  map[string]*window // api key -> order window
	limits  binanceLimits

	bannedUntil time.Time

	// server-weight refresh bookkeeping
	refreshing      bool
	weightInRefresh float64
}

func newBinanceCore(p BinanceProduct, newLimit bool, clk clock.Clock, km *kmutex.Mutex) *binanceCore {
	lim := binanceLimitsFor(p, newLimit)
	return &binanceCore{
		base:    base{clk: clk, km: km, key: string(p)},
		product: p,
		weight:  newWindow(lim.weightPerMin, time.Minute),
		raw:     rate.NewLimiter(rate.Limit(float64(binanceRawPerMin)/60.0), binanceRawBurst),
		orders:  make(map[string]*window),
		limits:  lim,
	}
}

// Binance is one API key's handle on a shared product ledger.
type Binance struct {
	core   *binanceCore
	apiKey string
}

// NewBinance builds a governor over a private core; production code goes
// through the Registry so all facades on the same product share one core.
func NewBinance(p BinanceProduct, apiKey string, clk clock.Clock, km *kmutex.Mutex) *Binance {
	return &Binance{core: newBinanceCore(p, true, clk, km), apiKey: apiKey}
}

func (g *Binance) orderWindow() *window {
	w, ok := g.core.orders[g.apiKey]
	if !ok {
		w = newWindow(g.core.limits.orderCeiling, g.core.limits.orderWindow)
		g.core.orders[g.apiKey] = w
	}
	return w
}

// Check implements Governor. Orders debit the order budget in addition to
// weight and the raw-request pacer.
func (g *Binance) Check(endpoint string, kind Kind, weight int) time.Duration {
	c := g.core
	var wait time.Duration
	c.locked(func() {
		now := c.clk.Now()

		if c.bannedUntil.After(now) {
			wait = c.bannedUntil.Sub(now)
			return
		}

		debit := float64(weight) * binanceSafety
		if wait = c.weight.need(now, debit); wait > 0 {
			return
		}
		var ow *window
		if kind == KindOrder {
			ow = g.orderWindow()
			if wait = ow.need(now, binanceSafety); wait > 0 {
				return
			}
		}

		res := c.raw.ReserveN(now, 1)
		if d := res.DelayFrom(now); d > 0 {
			res.CancelAt(now)
			wait = d
			return
		}

		c.weight.debit(debit)
		if ow != nil {
			ow.debit(binanceSafety)
		}
		if c.refreshing {
			c.weightInRefresh += debit
		}
	})
	return wait
}

// Snapshot implements Governor.
func (g *Binance) Snapshot() []models.Usage {
	c := g.core
	var out []models.Usage
	c.locked(func() {
		now := c.clk.Now()
		rawUsed := 1 - c.raw.TokensAt(now)/binanceRawBurst
		if rawUsed < 0 {
			rawUsed = 0
		}
		out = []models.Usage{
			{Kind: models.UsageWeight, Fraction: c.weight.usage(now)},
			{Kind: models.UsageOrders, Fraction: g.orderWindow().usage(now)},
			{Kind: models.UsageRequests, Fraction: rawUsed},
		}
	})
	return out
}

// Saturate slams the weight window shut so concurrent callers back off
// without waiting for their own server errors.
func (g *Binance) Saturate() {
	c := g.core
	c.locked(func() {
		c.weight.roll(c.clk.Now())
		c.weight.count = saturatedCount
	})
}

// Ban records a server-declared ban; every Check before expiry returns the
// remaining time.
func (g *Binance) Ban(until time.Time) {
	c := g.core
	c.locked(func() {
		if until.After(c.bannedUntil) {
			c.bannedUntil = until
		}
	})
}

// BannedUntil reports the active ban deadline, zero when none.
func (g *Binance) BannedUntil() time.Time {
	c := g.core
	var t time.Time
	c.locked(func() { t = c.bannedUntil })
	return t
}

// BeginWeightSync marks the start of a server-count refresh; weight debited
// from here until SyncWeight is the inflight delta the server cannot have
// seen yet.
func (g *Binance) BeginWeightSync() {
	c := g.core
	c.locked(func() {
		c.refreshing = true
		c.weightInRefresh = 0
	})
}

// SyncWeight overwrites the local tally with the server's authoritative
// used-weight reading plus whatever was debited while the refresh ran.
func (g *Binance) SyncWeight(serverUsed int) {
	c := g.core
	c.locked(func() {
		now := c.clk.Now()
		c.weight.roll(now)
		c.weight.count = float64(serverUsed)*binanceSafety + c.weightInRefresh
		c.refreshing = false
		c.weightInRefresh = 0
	})
}

// SyncOrderCount overwrites this key's order tally from the
// X-MBX-ORDER-COUNT header family.
func (g *Binance) SyncOrderCount(serverCount int) {
	c := g.core
	c.locked(func() {
		ow := g.orderWindow()
		ow.roll(c.clk.Now())
		ow.count = float64(serverCount) * binanceSafety
	})
}
