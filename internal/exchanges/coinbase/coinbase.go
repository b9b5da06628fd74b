// Package coinbase implements the connector facade over Coinbase's Advanced
// Trade API. The venue is spot-only; derivatives calls fail fast. Instances
// built without keys fall back to the shared keys from the environment, which
// unlock market data but never trading.
package coinbase

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
	"github.com/sawpanic/tradegate/internal/transport"
)

const host = "https://api.coinbase.com"

// Coinbase is one credentialed facade instance.
type Coinbase struct {
	caller *base.Caller
	opts   base.Options
	gov    *limiter.Coinbase
	client *transport.Client
	// defaultKeys marks instances running on the shared environment keys;
	// they may read market data but never touch the account.
	defaultKeys bool
}

func New(opts base.Options) *Coinbase {
	h := host
	if opts.Host != "" {
		h = opts.Host
	}
	defaultKeys := false
	if opts.Key == "" && opts.Secret == "" {
		opts.Key = os.Getenv("COINBASEKEY")
		opts.Secret = os.Getenv("COINBASESECRET")
		defaultKeys = opts.HasKeys()
	}

	gov := opts.Reg().Coinbase()
	c := &Coinbase{
		opts:        opts,
		gov:         gov,
		defaultKeys: defaultKeys,
		caller: &base.Caller{
			Provider: "coinbase",
			Clk:      opts.Clk(),
			Gov:      gov,
			Rules:    retry.CoinbaseRules(),
			Timeout:  opts.Timeout,
		},
	}
	if opts.HasKeys() {
		c.client = transport.New("coinbase", h, opts.Timeout)
	}
	return c
}

// do issues one attempt; the prehash is unix-ts+method+path+body (query
// excluded) with hex HMAC.
func (c *Coinbase) do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	ts := strconv.FormatInt(c.caller.Clk.Now().Unix(), 10)
	headers := map[string]string{
		"Content-Type":        "application/json",
		"CB-ACCESS-KEY":       c.opts.Key,
		"CB-ACCESS-SIGN":      transport.HMACSHA256Hex(c.opts.Secret, ts+method+path+string(payload)),
		"CB-ACCESS-TIMESTAMP": ts,
	}

	resp, err := c.client.Do(ctx, method, path, params, payload, headers)
	if err != nil {
		if resp != nil {
			return nil, c.apiErr(resp.Status, resp.Body)
		}
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, c.apiErr(resp.Status, resp.Body)
	}
	return resp.Body, nil
}

// apiErr maps a failed response. Some rejected creates still carry the id of
// an order the matching engine accepted; that id rides along so the caller
// can recover the order instead of retrying the create.
func (c *Coinbase) apiErr(status int, body []byte) *models.APIError {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		OrderID string `json:"order_id"`
		Errors  []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		} `json:"errors"`
		ErrorResponse struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"error_response"`
	}
	_ = json.Unmarshal(body, &parsed)

	e := &models.APIError{
		Provider:   "coinbase",
		HTTPStatus: status,
		Code:       strconv.Itoa(status),
		Message:    parsed.Message,
		Body:       string(body),
		OrderID:    parsed.OrderID,
	}
	if e.Message == "" && len(parsed.Errors) > 0 {
		e.Message = parsed.Errors[0].Message
	}
	if e.Message == "" {
		e.Message = parsed.ErrorResponse.Message
	}
	if e.Message == "" {
		e.Message = parsed.Error
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	return e
}

// guard gates an operation; trading and account reads additionally require
// the caller's own keys rather than the shared defaults.
func guard[T any](c *Coinbase, needOwnKeys bool) (models.Result[T], bool) {
	if c.client == nil {
		return base.FailFast[T](c.caller, base.CannotConnect("coinbase")), false
	}
	if needOwnKeys && c.defaultKeys {
		return base.FailFast[T](c.caller, base.CannotConnect("coinbase")), false
	}
	var zero models.Result[T]
	return zero, true
}

// GetBalance lists account balances.
func (c *Coinbase) GetBalance(ctx context.Context) models.Result[[]models.FreeAsset] {
	if res, ok := guard[[]models.FreeAsset](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/accounts", Weight: 1},
		func(ctx context.Context) ([]models.FreeAsset, error) {
			params := url.Values{"limit": {"250"}}
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/accounts", params, nil)
			if err != nil {
				return nil, err
			}
			return normBalances(raw)
		})
}

// GetAPIPermission reports whether the key can trade.
func (c *Coinbase) GetAPIPermission(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/key-permissions", Weight: 1},
		func(ctx context.Context) (bool, error) {
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/key_permissions", nil, nil)
			if err != nil {
				return false, err
			}
			var out struct {
				CanTrade bool `json:"can_trade"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return false, err
			}
			return out.CanTrade, nil
		})
}

// GetUID returns the key's portfolio id; the venue exposes no numeric uid.
func (c *Coinbase) GetUID(ctx context.Context) models.Result[string] {
	if res, ok := guard[string](c, true); !ok {
		return res
	}
	return base.Invoke(ctx, c.caller, base.Endpoint{Name: "private/key-permissions:uid", Weight: 1},
		func(ctx context.Context) (string, error) {
			raw, err := c.do(ctx, "GET", "/api/v3/brokerage/key_permissions", nil, nil)
			if err != nil {
				return "", err
			}
			var out struct {
				PortfolioUUID string `json:"portfolio_uuid"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return "", err
			}
			return out.PortfolioUUID, nil
		})
}

// GetAffiliate is unavailable: the venue has no referral lookup.
func (c *Coinbase) GetAffiliate(ctx context.Context, uid string) models.Result[bool] {
	return base.FailFast[bool](c.caller, "affiliate lookup is not supported")
}

// The venue lists no derivatives; every futures operation fails fast.

func (c *Coinbase) FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool] {
	return base.FailFast[bool](c.caller, base.FuturesMissed)
}

func (c *Coinbase) FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool] {
	return base.FailFast[bool](c.caller, base.FuturesMissed)
}

func (c *Coinbase) FuturesGetHedge(ctx context.Context) models.Result[bool] {
	return base.FailFast[bool](c.caller, base.FuturesMissed)
}

func (c *Coinbase) FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool] {
	return base.FailFast[bool](c.caller, base.FuturesMissed)
}

func (c *Coinbase) FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position] {
	return base.FailFast[[]models.Position](c.caller, base.FuturesMissed)
}

func (c *Coinbase) FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket] {
	return base.FailFast[[]models.LeverageBracket](c.caller, base.FuturesMissed)
}
