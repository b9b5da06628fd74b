package coinbase

import (
	"context"
	"encoding/json"
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

func isOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatus == 404 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// fetchOrder resolves one order. The venue only keys lookups by its own id;
// a client-id reference costs a list-and-filter pass.
func (c *Coinbase) fetchOrder(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	if ref.OrderID != "" {
		raw, err := c.do(ctx, "GET", "/api/v3/brokerage/orders/historical/"+ref.OrderID, nil, nil)
		if err != nil {
			return models.Order{}, err
		}
		var out struct {
			Order rawOrder `json:"order"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return models.Order{}, err
		}
		return toOrder(out.Order), nil
	}

	params := url.Values{"limit": {"100"}}
	if ref.Symbol != "" {
		params.Set("product_id", ref.Symbol)
	}
	raw, err := c.do(ctx, "GET", "/api/v3/brokerage/orders/historical/batch", params, nil)
	if err != nil {
		return models.Order{}, err
	}
	var out struct {
		Orders []rawOrder `json:"orders"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Order{}, err
	}
	for _, r := range out.Orders {
		if r.ClientOrderID == ref.ClientOrderID {
			return toOrder(r), nil
		}
	}
	return models.Order{}, &models.APIError{Provider: "coinbase", HTTPStatus: 404, Message: "order not found"}
}

func (c *Coinbase) lookupAfterWrite(ctx context.Context, ref models.OrderRef) (models.Order, error) {
	ep := base.Endpoint{Name: "private/order-get", Weight: 1}
	var lastErr error
	for i, delay := range retry.ConsistencyDelays {
		if err := c.caller.Admit(ctx, ep); err != nil {
			return models.Order{}, err
		}
		ord, err := c.fetchOrder(ctx, ref)
		if err == nil {
			return ord, nil
		}
		lastErr = err
		if !isOrderNotFound(err) {
			return models.Order{}, err
		}
		log.Debug().Str("symbol", ref.Symbol).Int("attempt", i+1).
			Msg("order not visible yet, re-reading")
		if serr := c.caller.Clk.Sleep(ctx, delay); serr != nil {
			return models.Order{}, serr
		}
	}
	return models.Order{}, lastErr
}

// OpenOrder places an order. A rejected create that still carries an order id
// means the matching engine accepted it before the error; retrying would
// duplicate the order, so the id is resolved with a single follow-up read.
func (c *Coinbase) OpenOrder(ctx context.Context, o models.OrderRequest) models.Result[models.Order] {
	if res, ok := guard[models.Order](c, true); !ok {
		return res
	}
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/order-place", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			config := map[string]any{}
			if o.Type == models.TypeLimit {
				config["limit_limit_gtc"] = map[string]any{
					"base_size":   o.Quantity,
					"limit_price": o.Price,
				}
			} else if o.Side == models.SideBuy && o.QuoteQuantity != "" {
				// Market buys are sized in quote currency.
				config["market_market_ioc"] = map[string]any{"quote_size": o.QuoteQuantity}
			} else {
				config["market_market_ioc"] = map[string]any{"base_size": o.Quantity}
			}
			body := map[string]any{
				"client_order_id":     clientID,
				"product_id":          o.Symbol,
				"side":                strings.ToUpper(string(o.Side)),
				"order_configuration": config,
			}

			raw, err := c.do(ctx, "POST", "/api/v3/brokerage/orders", nil, body)
			if err != nil {
				var apiErr *models.APIError
				if errors.As(err, &apiErr) && apiErr.OrderID != "" {
					log.Warn().Str("orderId", apiErr.OrderID).Str("reason", apiErr.Message).
						Msg("create errored but order exists, recovering")
					if aerr := c.caller.Admit(ctx, base.Endpoint{Name: "private/order-get", Weight: 1}); aerr != nil {
						return models.Order{}, aerr
					}
					return c.fetchOrder(ctx, models.OrderRef{Symbol: o.Symbol, OrderID: apiErr.OrderID})
				}
				return models.Order{}, err
			}

			var out struct {
				Success         bool `json:"success"`
				SuccessResponse struct {
					OrderID string `json:"order_id"`
				} `json:"success_response"`
				ErrorResponse struct {
					Error   string `json:"error"`
					Message string `json:"message"`
				} `json:"error_response"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return models.Order{}, err
			}
			if !out.Success {
				msg := out.ErrorResponse.Message
				if msg == "" {
					msg = out.ErrorResponse.Error
				}
				return models.Order{}, &models.APIError{Provider: "coinbase", Message: msg, Body: string(raw)}
			}
			return c.lookupAfterWrite(ctx, models.OrderRef{Symbol: o.Symbol, OrderID: out.SuccessResponse.OrderID})
		})
}

// GetOrder fetches an order by exchange id (preferred) or client id.
func (c *Coinbase) GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/order-get", Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			return c.fetchOrder(ctx, ref)
		})
}

// CancelOrder cancels and returns the authoritative post-cancel state.
func (c *Coinbase) CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/order-cancel", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			id := ref.OrderID
			if id == "" {
				ord, err := c.fetchOrder(ctx, ref)
				if err != nil {
					return models.Order{}, err
				}
				id = ord.OrderID
				if aerr := c.caller.Admit(ctx, base.Endpoint{Name: "private/order-cancel", Weight: 1}); aerr != nil {
					return models.Order{}, aerr
				}
			}

			body := map[string]any{"order_ids": []string{id}}
			raw, err := c.do(ctx, "POST", "/api/v3/brokerage/orders/batch_cancel", nil, body)
			if err != nil {
				return models.Order{}, err
			}
			var out struct {
				Results []struct {
					Success       bool   `json:"success"`
					FailureReason string `json:"failure_reason"`
				} `json:"results"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return models.Order{}, err
			}
			if len(out.Results) == 0 || !out.Results[0].Success {
				reason := "cancel rejected"
				if len(out.Results) > 0 && out.Results[0].FailureReason != "" {
					reason = out.Results[0].FailureReason
				}
				return models.Order{}, &models.APIError{Provider: "coinbase", Message: reason, Body: string(raw)}
			}
			return c.lookupAfterWrite(ctx, models.OrderRef{Symbol: ref.Symbol, OrderID: id})
		})
}

// GetAllOpenOrders lists open orders, optionally for one symbol.
func (c *Coinbase) GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order] {
	if res, ok := guard[[]models.Order](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/orders-open", Weight: 1},
		func(ctx context.Context) ([]models.Order, error) {
			params := url.Values{"order_status": {"OPEN"}}
			if symbol != "" {
				params.Set("product_id", symbol)
			}
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/orders/historical/batch", params, nil)
			if err != nil {
				return nil, err
			}
			var out struct {
				Orders []rawOrder `json:"orders"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			orders := make([]models.Order, 0, len(out.Orders))
			for _, r := range out.Orders {
				orders = append(orders, toOrder(r))
			}
			return orders, nil
		})
}

// CountOpenOrders is GetAllOpenOrders reduced to its length.
func (c *Coinbase) CountOpenOrders(ctx context.Context, symbol string) models.Result[int] {
	res := c.GetAllOpenOrders(ctx, symbol)
	if !res.OK {
		return models.Fail[int](res.Reason, res.Usage, res.TimeProfile)
	}
	return models.Ok(len(res.Data), res.Usage, res.TimeProfile)
}
