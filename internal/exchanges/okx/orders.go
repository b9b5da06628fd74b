package okx

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
)

// tdMode is the trade mode the venue expects on every order.
func (o *OKX) tdMode() string {
	if o.futures() {
		return "cross"
	}
	return "cash"
}

// newClientID builds a clOrdId; the venue only accepts alphanumerics.
func newClientID() string {
	return "tg" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func isOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "51603")
}

func (o *OKX) fetchOrder(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	params := url.Values{"instId": {o.encode(ref.Symbol)}}
	if ref.ClientOrderID != "" {
		params.Set("clOrdId", ref.ClientOrderID)
	} else if ref.OrderID != "" {
		params.Set("ordId", ref.OrderID)
	}
	raw, err := o.do(ctx, "GET", "/api/v5/trade/order", params, nil, true)
	if err != nil {
		return models.Order{}, err
	}
	orders, err := normOrders(o, raw)
	if err != nil {
		return models.Order{}, err
	}
	if len(orders) == 0 {
		return models.Order{}, &models.APIError{Provider: "okx", Code: "51603", Message: "order does not exist"}
	}
	return orders[0], nil
}

func (o *OKX) lookupAfterWrite(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	ep := base.Endpoint{Name: "trade/order-get", Weight: 1}
	var lastErr error
	for i, delay := range retry.ConsistencyDelays {
		if err := o.caller.Admit(ctx, ep); err != nil {
			return models.Order{}, err
		}
		ord, err := o.fetchOrder(ctx, ref)
		if err == nil {
			return ord, nil
		}
		lastErr = err
		if !isOrderNotFound(err) {
			return models.Order{}, err
		}
		log.Debug().Str("symbol", ref.Symbol).Int("attempt", i+1).
			Msg("order not visible yet, re-reading")
		if serr := o.caller.Clk.Sleep(ctx, delay); serr != nil {
			return models.Order{}, serr
		}
	}
	return models.Order{}, lastErr
}

// OpenOrder places an order and returns its authoritative state after a
// consistency re-read.
func (o *OKX) OpenOrder(ctx context.Context, req models.OrderRequest) models.Result[models.Order] {
	if res, ok := guard[models.Order](o, false, true); !ok {
		return res
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = newClientID()
	}
	instID := o.encode(req.Symbol)

	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "trade/order", Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{
				"instId":  instID,
				"tdMode":  o.tdMode(),
				"clOrdId": clientID,
				"side":    strings.ToLower(string(req.Side)),
				"ordType": strings.ToLower(string(req.Type)),
			}
			if req.Type == models.TypeLimit {
				body["px"] = req.Price
				body["sz"] = req.Quantity
			} else if !o.futures() && req.Side == models.SideBuy && req.QuoteQuantity != "" {
				// Spot market buys default to quote sizing on this venue.
				body["sz"] = req.QuoteQuantity
				body["tgtCcy"] = "quote_ccy"
			} else {
				body["sz"] = req.Quantity
				if !o.futures() && req.Type == models.TypeMarket {
					body["tgtCcy"] = "base_ccy"
				}
			}
			if o.futures() {
				if req.ReduceOnly {
					body["reduceOnly"] = true
				}
				if req.PositionSide == models.PositionLong {
					body["posSide"] = "long"
				} else if req.PositionSide == models.PositionShort {
					body["posSide"] = "short"
				}
			}

			if _, err := o.do(ctx, "POST", "/api/v5/trade/order", nil, body, true); err != nil {
				return models.Order{}, err
			}
			return o.lookupAfterWrite(ctx, models.OrderRef{Symbol: req.Symbol, ClientOrderID: clientID})
		})
}

// GetOrder fetches an order by client id (preferred) or exchange id.
func (o *OKX) GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "trade/order-get", Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			return o.fetchOrder(ctx, ref)
		})
}

// CancelOrder cancels and returns the authoritative post-cancel state.
func (o *OKX) CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "trade/cancel-order", Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			body := map[string]any{"instId": o.encode(ref.Symbol)}
			if ref.ClientOrderID != "" {
				body["clOrdId"] = ref.ClientOrderID
			} else if ref.OrderID != "" {
				body["ordId"] = ref.OrderID
			}
			if _, err := o.do(ctx, "POST", "/api/v5/trade/cancel-order", nil, body, true); err != nil {
				return models.Order{}, err
			}
			return o.lookupAfterWrite(ctx, ref)
		})
}

// GetAllOpenOrders lists pending orders, optionally for one symbol.
func (o *OKX) GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order] {
	if res, ok := guard[[]models.Order](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "trade/orders-pending", Weight: 1},
		func(ctx context.Context) ([]models.Order, error) {
			params := url.Values{"instType": {o.instType()}}
			if symbol != "" {
				params.Set("instId", o.encode(symbol))
			}
			raw, err := o.do(ctx, "GET", "/api/v5/trade/orders-pending", params, nil, true)
			if err != nil {
				return nil, err
			}
			return normOrders(o, raw)
		})
}

// CountOpenOrders is GetAllOpenOrders reduced to its length.
func (o *OKX) CountOpenOrders(ctx context.Context, symbol string) models.Result[int] {
	res := o.GetAllOpenOrders(ctx, symbol)
	if !res.OK {
		return models.Fail[int](res.Reason, res.Usage, res.TimeProfile)
	}
	return models.Ok(len(res.Data), res.Usage, res.TimeProfile)
}
