package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/models"
)

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeout: 30s
providers:
  binance:
    key: bk
    secret: bs
  okx:
    key: ok
    secret: os
    passphrase: op
ops:
  listen: ":9109"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, ":9109", cfg.Ops.Listen)
	assert.Equal(t, "bs", cfg.Providers["binance"].Secret)
	assert.Equal(t, "op", cfg.Providers["okx"].Passphrase)

	opts := cfg.Options("OKX", models.ModeUSDM, true)
	assert.Equal(t, "ok", opts.Key)
	assert.Equal(t, "op", opts.Passphrase)
	assert.Equal(t, models.ModeUSDM, opts.Futures)
	assert.True(t, opts.Demo)
	assert.Equal(t, 30*time.Second, opts.Timeout)
}

func TestLoadMissingFileIsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func TestParseFuturesMode(t *testing.T) {
	cases := map[string]models.FuturesMode{
		"":        models.ModeSpot,
		"spot":    models.ModeSpot,
		"usdm":    models.ModeUSDM,
		"linear":  models.ModeUSDM,
		"coinm":   models.ModeCoinM,
		"inverse": models.ModeCoinM,
	}
	for in, want := range cases {
		got, err := ParseFuturesMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFuturesMode("options")
	require.Error(t, err)
}

func TestIsDevelopment(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("NODE_ENV", "")
	assert.False(t, IsDevelopment())

	t.Setenv("NODE_ENV", "development")
	assert.True(t, IsDevelopment())

	t.Setenv("ENV", "production")
	assert.False(t, IsDevelopment())
}
