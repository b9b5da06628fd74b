package binance

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

func (b *Binance) orderPath() string {
	return b.apiPath("/api/v3/order", "/fapi/v1/order", "/dapi/v1/order")
}

func (b *Binance) openOrdersPath() string {
	return b.apiPath("/api/v3/openOrders", "/fapi/v1/openOrders", "/dapi/v1/openOrders")
}

// fetchOrder issues one order lookup without its own retry wrap.
func (b *Binance) fetchOrder(ctx context.Context, ref map[string]string) (models.Order, error) {
	params := url.Values{}
	for k, v := range ref {
		params.Set(k, v)
	}
	body, err := b.do(ctx, b.client, "GET", b.orderPath(), params, true)
	if err != nil {
		return models.Order{}, err
	}
	return normOrder(body)
}

// lookupAfterWrite re-reads an order after create/cancel: most venues answer
// writes with a minimal envelope, and their read path lags the write path.
func (b *Binance) lookupAfterWrite(ctx context.Context, symbol, clientID string) (models.Order, error) {
	ep := base.Endpoint{Name: "order:lookup", Weight: 2}
	ref := map[string]string{"symbol": symbol, "origClientOrderId": clientID}
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
		log.Debug().Str("symbol", symbol).Str("clientOrderId", clientID).
			Int("attempt", i+1).Msg("order not visible yet, re-reading")
		if serr := b.caller.Clk.Sleep(ctx, delay); serr != nil {
			return models.Order{}, serr
		}
	}
	return models.Order{}, lastErr
}

func isOrderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "order cannot be found") ||
		strings.Contains(msg, "unknown order")
}

// OpenOrder places an order and returns its authoritative state after a
// consistency re-read.
func (b *Binance) OpenOrder(ctx context.Context, o models.OrderRequest) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = "tg-" + uuid.NewString()[:18]
	}

	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:open", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			params := url.Values{
				"symbol":           {o.Symbol},
				"side":             {string(o.Side)},
				"type":             {string(o.Type)},
				"newClientOrderId": {clientID},
			}
			if o.Quantity != "" {
				params.Set("quantity", o.Quantity)
			}
			if o.QuoteQuantity != "" && !b.futures() {
				params.Set("quoteOrderQty", o.QuoteQuantity)
			}
			if o.Type == models.TypeLimit {
				params.Set("price", o.Price)
				params.Set("timeInForce", "GTC")
			}
			if b.futures() {
				if o.PositionSide != "" {
					params.Set("positionSide", string(o.PositionSide))
				}
				if o.ReduceOnly && o.PositionSide != models.PositionLong && o.PositionSide != models.PositionShort {
					params.Set("reduceOnly", "true")
				}
			}

			body, err := b.do(ctx, b.client, "POST", b.orderPath(), params, true)
			if err != nil {
				return models.Order{}, err
			}
			placed, err := normOrder(body)
			if err != nil {
				return models.Order{}, err
			}
			final, err := b.lookupAfterWrite(ctx, o.Symbol, clientID)
			if err != nil {
				// The write went through; surface what we have.
				log.Warn().Err(err).Str("symbol", o.Symbol).
					Msg("post-create lookup failed, returning placement envelope")
				return placed, nil
			}
			return final, nil
		})
}

func refParams(ref models.OrderRef) map[string]string {
	params := map[string]string{"symbol": ref.Symbol}
	if ref.ClientOrderID != "" {
		params["origClientOrderId"] = ref.ClientOrderID
	} else if ref.OrderID != "" {
		params["orderId"] = ref.OrderID
	}
	return params
}

// GetOrder fetches an order by client id (preferred) or exchange id.
func (b *Binance) GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:get", Weight: 2},
		func(ctx context.Context) (models.Order, error) {
			return b.fetchOrder(ctx, refParams(ref))
		})
}

// CancelOrder cancels by whichever id the ref carries and returns the
// authoritative post-cancel state.
func (b *Binance) CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order] {
	if res, ok := guard[models.Order](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:cancel", Kind: limiter.KindOrder, Weight: 1},
		func(ctx context.Context) (models.Order, error) {
			params := url.Values{}
			for k, v := range refParams(ref) {
				params.Set(k, v)
			}
			body, err := b.do(ctx, b.client, "DELETE", b.orderPath(), params, true)
			if err != nil {
				return models.Order{}, err
			}
			canceled, err := normOrder(body)
			if err != nil {
				return models.Order{}, err
			}
			lookupID := ref.ClientOrderID
			if lookupID == "" {
				lookupID = canceled.ClientOrderID
			}
			final, err := b.lookupAfterWrite(ctx, ref.Symbol, lookupID)
			if err != nil {
				log.Warn().Err(err).Str("symbol", ref.Symbol).
					Msg("post-cancel lookup failed, returning cancel envelope")
				return canceled, nil
			}
			return final, nil
		})
}

// GetAllOpenOrders lists open orders; empty symbol means all symbols at a
// heavier weight.
func (b *Binance) GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order] {
	if res, ok := guard[[]models.Order](b, false, true); !ok {
		return res
	}
	weight := 6
	if symbol == "" {
		weight = 80
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "order:open-list", Weight: weight},
		func(ctx context.Context) ([]models.Order, error) {
			params := url.Values{}
			if symbol != "" {
				params.Set("symbol", symbol)
			}
			body, err := b.do(ctx, b.client, "GET", b.openOrdersPath(), params, true)
			if err != nil {
				return nil, err
			}
			return normOrders(body)
		})
}

// CountOpenOrders is GetAllOpenOrders reduced to its length.
func (b *Binance) CountOpenOrders(ctx context.Context, symbol string) models.Result[int] {
	res := b.GetAllOpenOrders(ctx, symbol)
	if !res.OK {
		return models.Fail[int](res.Reason, res.Usage, res.TimeProfile)
	}
	return models.Ok(len(res.Data), res.Usage, res.TimeProfile)
}
