package connector

import (
	"fmt"
	"strings"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/exchanges/binance"
	"github.com/sawpanic/tradegate/internal/exchanges/bitget"
	"github.com/sawpanic/tradegate/internal/exchanges/bybit"
	"github.com/sawpanic/tradegate/internal/exchanges/coinbase"
	"github.com/sawpanic/tradegate/internal/exchanges/kucoin"
	"github.com/sawpanic/tradegate/internal/exchanges/okx"
)

// Providers lists every supported venue name accepted by New.
var Providers = []string{"binance", "bybit", "bitget", "okx", "kucoin", "coinbase"}

// New builds the facade for the named provider. Unknown names are the one
// failure the factory reports through an error rather than a Result: there
// is no facade to carry it.
func New(provider string, opts base.Options) (Connector, error) {
	switch strings.ToLower(provider) {
	case "binance":
		return binance.New(opts), nil
	case "bybit":
		return bybit.New(opts), nil
	case "bitget":
		return bitget.New(opts), nil
	case "okx":
		return okx.New(opts), nil
	case "kucoin":
		return kucoin.New(opts), nil
	case "coinbase":
		return coinbase.New(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
