package limiter

import (
	"sync"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// Registry hands out process-wide governor singletons. Facades for the same
// provider share one ledger regardless of how many instances exist; tests
// build their own Registry over a fake clock to stay hermetic.
type Registry struct {
	clk clock.Clock
	km  *kmutex.Mutex

	mu       sync.Mutex
	binance  map[BinanceProduct]*binanceCore
	bybit    *Bybit
	bitget   *Bitget
	kucoin   *KuCoin
	okx      *OKX
	coinbase *Coinbase
}

// NewRegistry builds a registry over the given clock.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clk:     clk,
		km:      kmutex.New(),
		binance: make(map[BinanceProduct]*binanceCore),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default is the process-wide registry over the system clock.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(clock.System{})
	})
	return defaultRegistry
}

// Binance returns this API key's view on the shared product ledger.
func (r *Registry) Binance(p BinanceProduct, apiKey string) *Binance {
	r.mu.Lock()
	defer r.mu.Unlock()
	core, ok := r.binance[p]
	if !ok {
		core = newBinanceCore(p, true, r.clk, r.km)
		r.binance[p] = core
	}
	return &Binance{core: core, apiKey: apiKey}
}

func (r *Registry) Bybit() *Bybit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bybit == nil {
		r.bybit = NewBybit(r.clk, r.km)
	}
	return r.bybit
}

func (r *Registry) Bitget() *Bitget {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bitget == nil {
		r.bitget = NewBitget(r.clk, r.km)
	}
	return r.bitget
}

func (r *Registry) KuCoin() *KuCoin {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.kucoin == nil {
		r.kucoin = NewKuCoin(r.clk, r.km)
	}
	return r.kucoin
}

func (r *Registry) OKX() *OKX {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.okx == nil {
		r.okx = NewOKX(r.clk, r.km)
	}
	return r.okx
}

func (r *Registry) Coinbase() *Coinbase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coinbase == nil {
		r.coinbase = NewCoinbase(r.clk, r.km)
	}
	return r.coinbase
}

// Snapshots reports usage for every governor instantiated so far, keyed by
// provider (and product, for Binance).
func (r *Registry) Snapshots() map[string][]models.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]models.Usage)
	for p, core := range r.binance {
		out["binance:"+string(p)] = (&Binance{core: core}).Snapshot()
	}
	if r.bybit != nil {
		out["bybit"] = r.bybit.Snapshot()
	}
	if r.bitget != nil {
		out["bitget"] = r.bitget.Snapshot()
	}
	if r.kucoin != nil {
		out["kucoin"] = r.kucoin.Snapshot()
	}
	if r.okx != nil {
		out["okx"] = r.okx.Snapshot()
	}
	if r.coinbase != nil {
		out["coinbase"] = r.coinbase.Snapshot()
	}
	return out
}
