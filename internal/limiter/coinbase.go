package limiter

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// CoinbaseBucket selects the signed or unsigned request pool.
type CoinbaseBucket string

const (
	CoinbasePrivate CoinbaseBucket = "private"
	CoinbasePublic  CoinbaseBucket = "public"
)

// Coinbase meters two one-second pools: 10/s for signed calls, 30/s for
// public ones.
type Coinbase struct {
	base
	private *window
	public  *window
}

func NewCoinbase(clk clock.Clock, km *kmutex.Mutex) *Coinbase {
	return &Coinbase{
		base:    base{clk: clk, km: km, key: "coinbase"},
		private: newWindow(10, time.Second),
		public:  newWindow(30, time.Second),
	}
}

// CheckBucket debits the named pool.
func (g *Coinbase) CheckBucket(bucket CoinbaseBucket, weight int) time.Duration {
	var wait time.Duration
	g.locked(func() {
		now := g.clk.Now()
		w := g.public
		if bucket == CoinbasePrivate {
			w = g.private
		}
		if wait = w.need(now, float64(weight)); wait > 0 {
			return
		}
		w.debit(float64(weight))
	})
	return wait
}

// Check implements Governor; orders and any endpoint the facade marks
// "private/" debit the signed pool.
func (g *Coinbase) Check(endpoint string, kind Kind, weight int) time.Duration {
	bucket := CoinbasePublic
	if kind == KindOrder || (len(endpoint) >= 8 && endpoint[:8] == "private/") {
		bucket = CoinbasePrivate
	}
	return g.CheckBucket(bucket, weight)
}

func (g *Coinbase) Snapshot() []models.Usage {
	var out []models.Usage
	g.locked(func() {
		now := g.clk.Now()
		out = []models.Usage{
			{Kind: models.UsageRequests, Fraction: g.public.usage(now)},
			{Kind: models.UsageOrders, Fraction: g.private.usage(now)},
		}
	})
	return out
}

func (g *Coinbase) Saturate() {
	g.locked(func() {
		now := g.clk.Now()
		g.private.roll(now)
		g.private.count = saturatedCount
		g.public.roll(now)
		g.public.count = saturatedCount
	})
}
