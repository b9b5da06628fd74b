package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/exchanges/binance"
	"github.com/sawpanic/tradegate/internal/exchanges/bitget"
	"github.com/sawpanic/tradegate/internal/exchanges/bybit"
	"github.com/sawpanic/tradegate/internal/exchanges/coinbase"
	"github.com/sawpanic/tradegate/internal/exchanges/kucoin"
	"github.com/sawpanic/tradegate/internal/exchanges/okx"
	"github.com/sawpanic/tradegate/internal/limiter"
)

// Every facade must satisfy the contract; breaking a signature breaks this
// file at compile time.
var (
	_ Connector = (*binance.Binance)(nil)
	_ Connector = (*bybit.Bybit)(nil)
	_ Connector = (*bitget.Bitget)(nil)
	_ Connector = (*okx.OKX)(nil)
	_ Connector = (*kucoin.KuCoin)(nil)
	_ Connector = (*coinbase.Coinbase)(nil)
)

func TestFactoryKnowsEveryProvider(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	opts := base.Options{
		Key:      "k",
		Secret:   "s",
		Registry: limiter.NewRegistry(fake),
		Clock:    fake,
	}
	for _, p := range Providers {
		conn, err := New(p, opts)
		require.NoError(t, err, p)
		assert.NotNil(t, conn, p)
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	_, err := New("mtgox", base.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mtgox")
}
