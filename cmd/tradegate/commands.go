package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/connector"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/models"
)

// buildConnector assembles the facade selected by the persistent flags.
func buildConnector() (connector.Connector, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	mode, err := config.ParseFuturesMode(flagFutures)
	if err != nil {
		return nil, err
	}
	opts := cfg.Options(flagProvider, mode, flagDemo)
	if flagTimeout > 0 {
		opts.Timeout = flagTimeout
	}
	return connector.New(flagProvider, opts)
}

// emit prints a result as JSON and records it in the metrics collectors.
func emit[T any](operation string, res models.Result[T]) error {
	metrics.Observe(flagProvider, operation, res)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s: %s", operation, res.Reason)
	}
	return nil
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity and key permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			return emit("GetAPIPermission", conn.GetAPIPermission(cmd.Context()))
		},
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "List account balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			return emit("GetBalance", conn.GetBalance(cmd.Context()))
		},
	}
}

func newPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price [symbol]",
		Short: "Latest price for a symbol, or all symbols when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return emit("GetAllPrices", conn.GetAllPrices(cmd.Context()))
			}
			return emit("LatestPrice", conn.LatestPrice(cmd.Context(), args[0]))
		},
	}
}

func newCandlesCmd() *cobra.Command {
	var interval string
	var from, to string
	var count int

	cmd := &cobra.Command{
		Use:   "candles <symbol>",
		Short: "Fetch OHLCV bars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			q := models.CandleQuery{
				Symbol:   args[0],
				Interval: models.Interval(interval),
				Count:    count,
			}
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("parse --from: %w", err)
				}
				q.From = t.UnixMilli()
			}
			if to != "" {
				t, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fmt.Errorf("parse --to: %w", err)
				}
				q.To = t.UnixMilli()
			}
			return emit("GetCandles", conn.GetCandles(cmd.Context(), q))
		},
	}
	cmd.Flags().StringVarP(&interval, "interval", "i", "1h", "bar interval (1m..1w)")
	cmd.Flags().StringVar(&from, "from", "", "range start, RFC3339")
	cmd.Flags().StringVar(&to, "to", "", "range end, RFC3339")
	cmd.Flags().IntVar(&count, "count", 0, "bar count, 0 keeps the venue default")
	return cmd
}

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place, fetch or cancel orders",
	}
	cmd.AddCommand(newOrderOpenCmd(), newOrderGetCmd(), newOrderCancelCmd())
	return cmd
}

func newOrderOpenCmd() *cobra.Command {
	var (
		side      string
		typ       string
		qty       string
		quoteQty  string
		price     string
		clientOID string
	)

	cmd := &cobra.Command{
		Use:   "open <symbol>",
		Short: "Place an order and print its post-create state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			req := models.OrderRequest{
				Symbol:        args[0],
				Side:          models.OrderSide(side),
				Type:          models.OrderType(typ),
				Quantity:      qty,
				QuoteQuantity: quoteQty,
				Price:         price,
				ClientOrderID: clientOID,
			}
			log.Info().Str("symbol", req.Symbol).Str("side", side).Str("type", typ).
				Msg("placing order")
			return emit("OpenOrder", conn.OpenOrder(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&side, "side", "BUY", "BUY or SELL")
	cmd.Flags().StringVar(&typ, "type", "LIMIT", "LIMIT or MARKET")
	cmd.Flags().StringVar(&qty, "qty", "", "base quantity")
	cmd.Flags().StringVar(&quoteQty, "quote-qty", "", "quote quantity for market buys")
	cmd.Flags().StringVar(&price, "price", "", "limit price")
	cmd.Flags().StringVar(&clientOID, "client-id", "", "client order id; generated when empty")
	return cmd
}

func orderRefFlags(cmd *cobra.Command, ref *models.OrderRef) {
	cmd.Flags().StringVar(&ref.OrderID, "id", "", "venue order id")
	cmd.Flags().StringVar(&ref.ClientOrderID, "client-id", "", "client order id")
}

func newOrderGetCmd() *cobra.Command {
	var ref models.OrderRef
	cmd := &cobra.Command{
		Use:   "get <symbol>",
		Short: "Fetch one order by id or client id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			ref.Symbol = args[0]
			return emit("GetOrder", conn.GetOrder(cmd.Context(), ref))
		},
	}
	orderRefFlags(cmd, &ref)
	return cmd
}

func newOrderCancelCmd() *cobra.Command {
	var ref models.OrderRef
	cmd := &cobra.Command{
		Use:   "cancel <symbol>",
		Short: "Cancel one order by id or client id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector()
			if err != nil {
				return err
			}
			ref.Symbol = args[0]
			return emit("CancelOrder", conn.CancelOrder(cmd.Context(), ref))
		},
	}
	orderRefFlags(cmd, &ref)
	return cmd
}

func newLimitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Print current governor usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(limiter.Default().Snapshots())
		},
	}
}

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server (/metrics, /health, /limits)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cfg.Ops.Listen != "" && listen == ":9109" {
				listen = cfg.Ops.Listen
			}
			srv := metrics.NewServer(listen, limiter.Default())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("ops server shutdown")
				}
			}()
			return srv.Start()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":9109", "ops server listen address")
	return cmd
}
