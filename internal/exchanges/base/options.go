package base

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

// Options configures one facade instance. Credentials are stored as given;
// Binance RSA keys get newline canonicalization at signing time.
type Options struct {
	Key        string
	Secret     string
	Passphrase string

	Futures models.FuturesMode
	Demo    bool // Bitget demo / OKX sandbox / Coinbase sandbox
	Host    string
	Timeout time.Duration

	// Registry defaults to the process-wide singleton; tests inject their
	// own over a fake clock.
	Registry *limiter.Registry
	Clock    clock.Clock
}

// Clk resolves the clock, defaulting to the system clock.
func (o Options) Clk() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.System{}
}

// Reg resolves the governor registry.
func (o Options) Reg() *limiter.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return limiter.Default()
}

// HasKeys reports whether credentials were supplied at all.
func (o Options) HasKeys() bool { return o.Key != "" && o.Secret != "" }
