package bybit

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
)

// expectedPositionIdx derives the hedge-mode position slot from order intent:
// an opening buy works the long slot, an opening sell the short slot, and
// reduce-only orders work the opposite one.
func expectedPositionIdx(side models.OrderSide, reduceOnly bool) int {
	long := side == models.SideBuy
	if reduceOnly {
		long = !long
	}
	if long {
		return 1
	}
	return 2
}

func isPositionIdxMismatch(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "position idx not match position mode")
}

func isOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "order not exists") ||
		strings.Contains(msg, "order cannot be found")
}

// fetchOrder reads one order, preferring the realtime book and falling back
// to history once the order left it.
func (b *Bybit) fetchOrder(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	params := url.Values{"category": {b.category()}, "symbol": {ref.Symbol}}
	if ref.ClientOrderID != "" {
		params.Set("orderLinkId", ref.ClientOrderID)
	} else if ref.OrderID != "" {
		params.Set("orderId", ref.OrderID)
	}

	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		raw, err := b.do(ctx, "GET", path, params, nil, true)
		if err != nil {
			return models.Order{}, err
		}
		orders, err := normOrders(raw)
		if err != nil {
			return models.Order{}, err
		}
		if len(orders) > 0 {
			return orders[0], nil
		}
	}
	return models.Order{}, &models.APIError{Provider: "bybit", Message: "order does not exist"}
}

func (b *Bybit) lookupAfterWrite(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	ep := base.Endpoint{Name: "order:lookup", Weight: 1}
	var lastErr error
	for i, delay := range retry.ConsistencyDelays {
		if err := b.caller.Admit(ctx, ep); err != nil {
			return models.Order{}, err
		}
		ord, err := b.fetchOrder(ctx, ref)
		if err == nil {
			return ord, nil
		}
		lastErr = err
		if !isOrderNotFound(err) {
			return models.Order{}, err
		}
		log.Debug().Str("symbol", ref.Symbol).Int("attempt", i+1).
			Msg("order not visible yet, re-reading")
		if serr := b.caller.Clk.Sleep(ctx, delay); serr != nil {
			return models.Order{}, serr
		}
	}
	return models.Order{}, lastErr
}

// OpenOrder places an order. A hedge-mode account rejecting the default
// position slot gets exactly one resubmit with the recomputed slot.
func (b *Bybit) OpenOrder(ctx context.Context, o models.OrderRequest) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = "tg-" + uuid.NewString()[:18]
	}

	// forcedIdx is set when a hedge-mode account rejects the one-way slot;
	// the retry loop then resubmits with the recomputed slot.
	forcedIdx := -1

	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:create", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{
				"category":    b.category(),
				"symbol":      o.Symbol,
				"side":        titleSide(o.Side),
				"orderType":   titleType(o.Type),
				"orderLinkId": clientID,
			}
			if o.Quantity != "" {
				body["qty"] = o.Quantity
			} else if o.QuoteQuantity != "" && !b.futures() {
				body["qty"] = o.QuoteQuantity
				body["marketUnit"] = "quoteCoin"
			}
			if o.Type == models.TypeLimit {
				body["price"] = o.Price
				body["timeInForce"] = "GTC"
			}
			if b.futures() && o.ReduceOnly {
				body["reduceOnly"] = true
			}
			if forcedIdx >= 0 {
				body["positionIdx"] = forcedIdx
			}

			_, err := b.do(ctx, "POST", "/v5/order/create", nil, body, true)
			if isPositionIdxMismatch(err) && b.futures() {
				if forcedIdx >= 0 {
					// The corrected slot was rejected too; one resubmit is
					// the budget for this error.
					return models.Order{}, &models.APIError{
						Provider: "bybit",
						Message:  "position slot rejected again after corrected resubmit",
					}
				}
				forcedIdx = expectedPositionIdx(o.Side, o.ReduceOnly)
				log.Info().Str("symbol", o.Symbol).Int("positionIdx", forcedIdx).
					Msg("hedge account rejected one-way slot, will resubmit")
			}
			if err != nil {
				return models.Order{}, err
			}

			ref := models.OrderRef{Symbol: o.Symbol, ClientOrderID: clientID}
			final, lerr := b.lookupAfterWrite(ctx, ref)
			if lerr != nil {
				log.Warn().Err(lerr).Str("symbol", o.Symbol).
					Msg("post-create lookup failed, returning minimal order")
				return models.Order{
					Symbol:        o.Symbol,
					ClientOrderID: clientID,
					Status:        models.StatusNew,
					Type:          o.Type,
					Side:          o.Side,
					Price:         o.Price,
					OrigQty:       zeroIfEmpty(o.Quantity),
					ExecutedQty:   "0",
					TransactTime:  -1,
					UpdateTime:    -1,
				}, nil
			}
			return final, nil
		})
}

// GetOrder fetches an order by client id (preferred) or exchange id.
func (b *Bybit) GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:get", Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			return b.fetchOrder(ctx, ref)
		})
}

// CancelOrder cancels by whichever id the ref carries and returns the
// post-cancel state.
func (b *Bybit) CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:cancel", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{
				"category": b.category(),
				"symbol":   ref.Symbol,
			}
			if ref.ClientOrderID != "" {
				body["orderLinkId"] = ref.ClientOrderID
			} else if ref.OrderID != "" {
				body["orderId"] = ref.OrderID
			}
			_, err := b.do(ctx, "POST", "/v5/order/cancel", nil, body, true)
			if err != nil {
				return models.Order{}, err
			}
			return b.lookupAfterWrite(ctx, ref)
		})
}

// GetAllOpenOrders lists the live book. Linear contracts need a settle coin
// when no symbol narrows the query.
func (b *Bybit) GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order] {
	if res, ok := guard[[]models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:open-list", Weight: 1},
		func(ctx context.Context) ([]models.Order, error) {
			params := url.Values{"category": {b.category()}}
			if symbol != "" {
				params.Set("symbol", symbol)
			} else if b.opts.Futures == models.ModeUSDM {
				params.Set("settleCoin", "USDT")
			}
			raw, err := b.do(ctx, "GET", "/v5/order/realtime", params, nil, true)
			if err != nil {
				return nil, err
			}
			return normOrders(raw)
		})
}

// CountOpenOrders is GetAllOpenOrders reduced to its length.
func (b *Bybit) CountOpenOrders(ctx context.Context, symbol string) models.Result[int] {
	res := b.GetAllOpenOrders(ctx, symbol)
	if !res.OK {
		return models.Fail[int](res.Reason, res.Usage, res.TimeProfile)
	}
	return models.Ok(len(res.Data), res.Usage, res.TimeProfile)
}

func titleSide(s models.OrderSide) string {
	if s == models.SideSell {
		return "Sell"
	}
	return "Buy"
}

func titleType(t models.OrderType) string {
	if t == models.TypeLimit {
		return "Limit"
	}
	return "Market"
}
