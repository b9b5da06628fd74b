package bitget

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

func isOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order cannot be found") ||
		strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "order not exists")
}

// fetchOrder issues one lookup against the product's order-info endpoint.
func (b *Bitget) fetchOrder(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	params := url.Values{}
	if ref.ClientOrderID != "" {
		params.Set("clientOid", ref.ClientOrderID)
	} else if ref.OrderID != "" {
		params.Set("orderId", ref.OrderID)
	}

	if b.futures() {
		params.Set("symbol", ref.Symbol)
		params.Set("productType", b.productType(ref.Symbol))
		raw, err := b.do(ctx, "GET", "/api/v2/mix/order/detail", params, nil, true)
		if err != nil {
			return models.Order{}, err
		}
		return normOrder(raw)
	}

	raw, err := b.do(ctx, "GET", "/api/v2/spot/trade/orderInfo", params, nil, true)
	if err != nil {
		return models.Order{}, err
	}
	// Spot orderInfo answers a one-element array.
	orders, err := normOrders(raw)
	if err != nil {
		ord, oerr := normOrder(raw)
		if oerr != nil {
			return models.Order{}, err
		}
		return ord, nil
	}
	if len(orders) == 0 {
		return models.Order{}, &models.APIError{Provider: "bitget", Message: "order cannot be found"}
	}
	return orders[0], nil
}

// lookupAfterWrite absorbs Bitget's read-path lag: "The order cannot be
// found" right after a write is eventual consistency, not a rejection.
func (b *Bitget) lookupAfterWrite(ctx context.Context, ref models.OrderRef) (models.Order, error) {
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

// OpenOrder places an order and returns its authoritative state after a
// consistency re-read.
func (b *Bitget) OpenOrder(ctx context.Context, o models.OrderRequest) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = "tg-" + uuid.NewString()[:18]
	}

	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:place", Kind: limiter.KindOrder, Weight: 2},
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{
				"symbol":    o.Symbol,
				"side":      strings.ToLower(string(o.Side)),
				"orderType": strings.ToLower(string(o.Type)),
				"clientOid": clientID,
			}

			path := "/api/v2/spot/trade/place-order"
			if b.futures() {
				path = "/api/v2/mix/order/place-order"
				body["productType"] = b.productType(o.Symbol)
				body["marginCoin"] = b.marginCoin(o.Symbol)
				body["marginMode"] = "crossed"
				body["size"] = o.Quantity
				if o.ReduceOnly {
					body["reduceOnly"] = "YES"
				}
				if o.PositionSide == models.PositionLong || o.PositionSide == models.PositionShort {
					body["tradeSide"] = "open"
					if o.ReduceOnly {
						body["tradeSide"] = "close"
					}
				}
			} else {
				size := o.Quantity
				if o.Type == models.TypeMarket && o.Side == models.SideBuy && o.QuoteQuantity != "" {
					// Spot market buys are sized in quote currency.
					size = o.QuoteQuantity
				}
				body["size"] = size
			}
			if o.Type == models.TypeLimit {
				body["price"] = o.Price
				body["force"] = "gtc"
			}

			_, err := b.do(ctx, "POST", path, nil, body, true)
			if err != nil {
				return models.Order{}, err
			}
			return b.lookupAfterWrite(ctx, models.OrderRef{Symbol: o.Symbol, ClientOrderID: clientID})
		})
}

// GetOrder fetches an order by client id (preferred) or exchange id.
func (b *Bitget) GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:get", Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			return b.fetchOrder(ctx, ref)
		})
}

// CancelOrder cancels and returns the authoritative post-cancel state.
func (b *Bitget) CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:cancel", Kind: limiter.KindOrder, Weight: 2},
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{"symbol": ref.Symbol}
			if ref.ClientOrderID != "" {
				body["clientOid"] = ref.ClientOrderID
			} else if ref.OrderID != "" {
				body["orderId"] = ref.OrderID
			}

			path := "/api/v2/spot/trade/cancel-order"
			if b.futures() {
				path = "/api/v2/mix/order/cancel-order"
				body["productType"] = b.productType(ref.Symbol)
			}
			_, err := b.do(ctx, "POST", path, nil, body, true)
			if err != nil {
				return models.Order{}, err
			}
			return b.lookupAfterWrite(ctx, ref)
		})
}

// GetAllOpenOrders lists the live book for one symbol, or the whole product
// when symbol is empty.
func (b *Bitget) GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order] {
	if res, ok := guard[[]models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:unfilled", Weight: 1},
		func(ctx context.Context) ([]models.Order, error) {
			params := url.Values{}
			if symbol != "" {
				params.Set("symbol", symbol)
			}
			path := "/api/v2/spot/trade/unfilled-orders"
			if b.futures() {
				path = "/api/v2/mix/order/orders-pending"
				params.Set("productType", b.productType(symbol))
			}
			raw, err := b.do(ctx, "GET", path, params, nil, true)
			if err != nil {
				return nil, err
			}
			return normOrders(raw)
		})
}

// CountOpenOrders is GetAllOpenOrders reduced to its length.
func (b *Bitget) CountOpenOrders(ctx context.Context, symbol string) models.Result[int] {
	res := b.GetAllOpenOrders(ctx, symbol)
	if !res.OK {
		return models.Fail[int](res.Reason, res.Usage, res.TimeProfile)
	}
	return models.Ok(len(res.Data), res.Usage, res.TimeProfile)
}
