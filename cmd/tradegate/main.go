package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/config"
)

const (
	appName = "tradegate"
	version = "v1.0.0"
)

// Persistent flags shared by every subcommand.
var (
	flagProvider string
	flagFutures  string
	flagDemo     bool
	flagConfig   string
	flagTimeout  time.Duration
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if !config.IsDevelopment() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Unified trading gateway for Binance, Bybit, Bitget, OKX, KuCoin and Coinbase",
		Version: version,
		Long: `tradegate fronts six exchange APIs behind one provider-agnostic contract:
per-provider rate-limit governors, a retry classifier, and response
normalization into a single canonical model.`,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagProvider, "provider", "p", "binance", "venue: binance|bybit|bitget|okx|kucoin|coinbase")
	pf.StringVarP(&flagFutures, "futures", "f", "spot", "product: spot|usdm|coinm")
	pf.BoolVar(&flagDemo, "demo", false, "use the venue's demo/sandbox environment")
	pf.StringVarP(&flagConfig, "config", "c", "", "path to YAML config with provider credentials")
	pf.DurationVar(&flagTimeout, "timeout", 0, "per-attempt HTTP ceiling; 0 keeps the config/default value")

	rootCmd.AddCommand(
		newProbeCmd(),
		newBalanceCmd(),
		newPriceCmd(),
		newCandlesCmd(),
		newOrderCmd(),
		newLimitsCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
