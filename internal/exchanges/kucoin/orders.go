package kucoin

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
)

// ep prefixes endpoint names so the governor debits the right pool.
func (k *KuCoin) ep(name string, kind limiter.Kind, weight int) base.Endpoint {
	if k.futures() {
		name = "futures/" + name
	}
	return base.Endpoint{Name: name, Kind: kind, Weight: weight}
}

func isOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "order not exist")
}

// isLegacyCancelNeeded matches the rejection KuCoin returns when an order was
// placed through the legacy endpoint and must be cancelled there too.
func isLegacyCancelNeeded(err error) bool {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "400100" &&
		strings.Contains(strings.ToLower(apiErr.Message), "order")
}

// fetchOrder resolves one order, preferring the client-oid route.
func (k *KuCoin) fetchOrder(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	var path string
	params := url.Values{}
	switch {
	case ref.ClientOrderID != "" && k.futures():
		path = "/api/v1/orders/byClientOid"
		params.Set("clientOid", ref.ClientOrderID)
	case ref.ClientOrderID != "":
		path = "/api/v1/order/client-order/" + ref.ClientOrderID
	default:
		path = "/api/v1/orders/" + ref.OrderID
	}
	raw, err := k.do(ctx, "GET", path, params, nil, true)
	if err != nil {
		return models.Order{}, err
	}
	return normOrder(k, raw)
}

// lookupAfterWrite re-reads until the order surfaces on the read path. A
// not-found straight after a 200 on the write is propagation lag, not loss.
func (k *KuCoin) lookupAfterWrite(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	ep := k.ep("order:lookup", limiter.KindRequest, 2)
	var lastErr error
	for i, delay := range retry.ConsistencyDelays {
		if err := k.caller.Admit(ctx, ep); err != nil {
			return models.Order{}, err
		}
		ord, err := k.fetchOrder(ctx, ref)
		if err == nil {
			return ord, nil
		}
		lastErr = err
		if !isOrderNotFound(err) {
			return models.Order{}, err
		}
		log.Debug().Str("symbol", ref.Symbol).Int("attempt", i+1).
			Msg("order not visible yet, re-reading")
		if serr := k.caller.Clk.Sleep(ctx, delay); serr != nil {
			return models.Order{}, serr
		}
	}
	return models.Order{}, lastErr
}

// OpenOrder places an order and returns the state read back after creation.
func (k *KuCoin) OpenOrder(ctx context.Context, o models.OrderRequest) models.Result[models.Order] {
	if res, ok := guard[models.Order](k, false, true); !ok {
		return res
	}
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = "tg-" + uuid.NewString()[:18]
	}
	symbol := k.encode(o.Symbol)

	return base.Invoke(ctx, k.caller, k.ep("order:place", limiter.KindOrder, 2),
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{
				"clientOid": clientID,
				"symbol":    symbol,
				"side":      strings.ToLower(string(o.Side)),
				"type":      strings.ToLower(string(o.Type)),
			}
			if o.Type == models.TypeLimit {
				body["price"] = o.Price
				body["size"] = o.Quantity
			} else if !k.futures() && o.Side == models.SideBuy && o.QuoteQuantity != "" {
				// Spot market buys are sized in quote funds.
				body["funds"] = o.QuoteQuantity
			} else {
				body["size"] = o.Quantity
			}
			if k.futures() {
				// Leverage is a per-order property on this venue; the
				// account-level setting applied through
				// FuturesChangeLeverage governs the cross default.
				body["leverage"] = "1"
				if o.ReduceOnly {
					body["reduceOnly"] = true
				}
			}

			if _, err := k.do(ctx, "POST", "/api/v1/orders", nil, body, true); err != nil {
				return models.Order{}, err
			}
			return k.lookupAfterWrite(ctx, models.OrderRef{Symbol: o.Symbol, ClientOrderID: clientID})
		})
}

// GetOrder fetches an order by client id (preferred) or exchange id.
func (k *KuCoin) GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("order:get", limiter.KindRequest, 2),
		func(ctx context.Context) (models.Order, error) {
			return k.fetchOrder(ctx, ref)
		})
}

// CancelOrder cancels and returns the post-cancel state. Orders created
// through the legacy endpoint reject the client-oid cancel with code 400100;
// those fall back to cancel-by-id.
func (k *KuCoin) CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("order:cancel", limiter.KindOrder, 3),
		func(ctx context.Context) (models.Order, error) {
			var path string
			params := url.Values{}
			switch {
			case ref.ClientOrderID != "" && k.futures():
				path = "/api/v1/orders/byClientOid"
				params.Set("clientOid", ref.ClientOrderID)
			case ref.ClientOrderID != "":
				path = "/api/v1/order/client-order/" + ref.ClientOrderID
			default:
				path = "/api/v1/orders/" + ref.OrderID
			}

			_, err := k.do(ctx, "DELETE", path, params, nil, true)
			if err != nil && isLegacyCancelNeeded(err) && ref.ClientOrderID != "" {
				ord, ferr := k.fetchOrder(ctx, ref)
				if ferr != nil {
					return models.Order{}, err
				}
				log.Debug().Str("orderId", ord.OrderID).Msg("falling back to legacy cancel by id")
				if aerr := k.caller.Admit(ctx, k.ep("order:cancel", limiter.KindOrder, 3)); aerr != nil {
					return models.Order{}, aerr
				}
				_, err = k.do(ctx, "DELETE", "/api/v1/orders/"+ord.OrderID, nil, nil, true)
			}
			if err != nil {
				return models.Order{}, err
			}
			return k.lookupAfterWrite(ctx, ref)
		})
}

// GetAllOpenOrders lists active orders, optionally for one symbol.
func (k *KuCoin) GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order] {
	if res, ok := guard[[]models.Order](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, k.ep("order:active", limiter.KindRequest, 2),
		func(ctx context.Context) ([]models.Order, error) {
			params := url.Values{"status": {"active"}}
			if symbol != "" {
				params.Set("symbol", k.encode(symbol))
			}
			raw, err := k.do(ctx, "GET", "/api/v1/orders", params, nil, true)
			if err != nil {
				return nil, err
			}
			return normOrders(k, raw)
		})
}

// CountOpenOrders is GetAllOpenOrders reduced to its length.
func (k *KuCoin) CountOpenOrders(ctx context.Context, symbol string) models.Result[int] {
	res := k.GetAllOpenOrders(ctx, symbol)
	if !res.OK {
		return models.Fail[int](res.Reason, res.Usage, res.TimeProfile)
	}
	return models.Ok(len(res.Data), res.Usage, res.TimeProfile)
}
