// Package bitget implements the connector facade over Bitget's v2 API. Spot
// and mix (derivatives) share one host; derivatives requests additionally
// carry a product type derived from the symbol's settle currency, with
// S-prefixed variants in demo mode.
package bitget

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
	"github.com/sawpanic/tradegate/internal/transport"
)

const host = "https://api.bitget.com"

const codeOK = "00000"

// Bitget is one credentialed facade instance.
type Bitget struct {
	caller *base.Caller
	opts   base.Options
	gov    *limiter.Bitget
	client *transport.Client
	demo   bool
}

// New constructs the facade. Demo trading is enabled by the Demo option or
// BITGETENV=demo.
func New(opts base.Options) *Bitget {
	demo := opts.Demo || strings.EqualFold(os.Getenv("BITGETENV"), "demo")
	h := host
	if opts.Host != "" {
		h = opts.Host
	}

	gov := opts.Reg().Bitget()
	b := &Bitget{
		opts: opts,
		gov:  gov,
		demo: demo,
		caller: &base.Caller{
			Provider: "bitget",
			Clk:      opts.Clk(),
			Gov:      gov,
			Rules:    retry.BitgetRules(),
			Timeout:  opts.Timeout,
		},
	}
	if opts.HasKeys() || (opts.Key == "" && opts.Secret == "") {
		b.client = transport.New("bitget", h, opts.Timeout)
	}
	return b
}

func (b *Bitget) futures() bool { return b.opts.Futures != models.ModeSpot }

// productType derives the mix product from the symbol's settle suffix; demo
// products carry an S prefix.
func (b *Bitget) productType(symbol string) string {
	var pt string
	switch {
	case strings.HasSuffix(symbol, "USDT"):
		pt = "USDT-FUTURES"
	case strings.HasSuffix(symbol, "USDC"):
		pt = "USDC-FUTURES"
	default:
		pt = "COIN-FUTURES"
	}
	if b.demo {
		pt = "S" + pt
	}
	return pt
}

// marginCoin is the settle currency for mix account mutations.
func (b *Bitget) marginCoin(symbol string) string {
	var coin string
	switch {
	case strings.HasSuffix(symbol, "USDT"):
		coin = "USDT"
	case strings.HasSuffix(symbol, "USDC"):
		coin = "USDC"
	default:
		// Coin-margined contracts settle in the base currency.
		coin = strings.TrimSuffix(symbol, "USD")
	}
	if b.demo {
		coin = "S" + coin
	}
	return coin
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do issues one attempt, signing over the v2 prehash
// timestamp+method+path(+query)+body with base64 HMAC.
func (b *Bitget) do(ctx context.Context, method, path string, params url.Values, body map[string]any, signed bool) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{"Content-Type": "application/json", "locale": "en-US"}
	if signed {
		ts := strconv.FormatInt(b.caller.Clk.Now().UnixMilli(), 10)
		prehash := ts + method + path
		if len(params) > 0 {
			prehash += "?" + params.Encode()
		}
		prehash += string(payload)
		headers["ACCESS-KEY"] = b.opts.Key
		headers["ACCESS-SIGN"] = transport.HMACSHA256Base64(b.opts.Secret, prehash)
		headers["ACCESS-TIMESTAMP"] = ts
		headers["ACCESS-PASSPHRASE"] = b.opts.Passphrase
	}
	if b.demo {
		headers["paptrading"] = "1"
	}

	resp, err := b.client.Do(ctx, method, path, params, payload, headers)
	if err != nil {
		if resp != nil {
			return nil, b.apiErr(resp.Status, resp.Body)
		}
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, b.apiErr(resp.Status, resp.Body)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &models.APIError{Provider: "bitget", HTTPStatus: resp.Status, Message: err.Error(), Body: string(resp.Body)}
	}
	if env.Code != codeOK && env.Code != "" {
		return nil, &models.APIError{Provider: "bitget", Code: env.Code, Message: env.Msg, Body: string(resp.Body)}
	}
	return env.Data, nil
}

func (b *Bitget) apiErr(status int, body []byte) *models.APIError {
	var env envelope
	_ = json.Unmarshal(body, &env)
	e := &models.APIError{
		Provider:   "bitget",
		HTTPStatus: status,
		Message:    env.Msg,
		Body:       string(body),
	}
	if env.Code != "" && env.Code != codeOK {
		e.Code = env.Code
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	return e
}

func guard[T any](b *Bitget, needFutures, needKeys bool) (models.Result[T], bool) {
	if b.client == nil {
		return base.FailFast[T](b.caller, base.CannotConnect("bitget")), false
	}
	if needKeys && !b.opts.HasKeys() {
		return base.FailFast[T](b.caller, base.CannotConnect("bitget")), false
	}
	if needFutures && !b.futures() {
		return base.FailFast[T](b.caller, base.FuturesMissed), false
	}
	var zero models.Result[T]
	return zero, true
}

// GetBalance lists non-zero balances for the configured product.
func (b *Bitget) GetBalance(ctx context.Context) models.Result[[]models.FreeAsset] {
	if res, ok := guard[[]models.FreeAsset](b, false, true); !ok {
		return res
	}
	if b.futures() {
		return base.Invoke(ctx, b.caller, base.Endpoint{Name: "mix/account/accounts", Weight: 4},
			func(ctx context.Context) ([]models.FreeAsset, error) {
				params := url.Values{"productType": {b.productType("USDT")}}
				raw, err := b.do(ctx, "GET", "/api/v2/mix/account/accounts", params, nil, true)
				if err != nil {
					return nil, err
				}
				return normMixBalances(raw)
			})
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "spot/account/assets", Weight: 4},
		func(ctx context.Context) ([]models.FreeAsset, error) {
			raw, err := b.do(ctx, "GET", "/api/v2/spot/account/assets", nil, nil, true)
			if err != nil {
				return nil, err
			}
			return normSpotBalances(raw)
		})
}

// GetAPIPermission verifies the key answers authenticated reads.
func (b *Bitget) GetAPIPermission(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "spot/account/info", Weight: 1},
		func(ctx context.Context) (bool, error) {
			raw, err := b.do(ctx, "GET", "/api/v2/spot/account/info", nil, nil, true)
			if err != nil {
				return false, err
			}
			var info struct {
				Authorities []string `json:"authorities"`
			}
			if err := json.Unmarshal(raw, &info); err != nil {
				return false, err
			}
			for _, a := range info.Authorities {
				if strings.Contains(strings.ToLower(a), "trade") {
					return true, nil
				}
			}
			// Older accounts omit the authority list; a successful signed
			// read is the best signal available.
			return len(info.Authorities) == 0, nil
		})
}

// GetUID returns the account's user id.
func (b *Bitget) GetUID(ctx context.Context) models.Result[string] {
	if res, ok := guard[string](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "spot/account/info:uid", Weight: 1},
		func(ctx context.Context) (string, error) {
			raw, err := b.do(ctx, "GET", "/api/v2/spot/account/info", nil, nil, true)
			if err != nil {
				return "", err
			}
			var info struct {
				UserID string `json:"userId"`
			}
			if err := json.Unmarshal(raw, &info); err != nil {
				return "", err
			}
			return info.UserID, nil
		})
}

// GetAffiliate reports whether the account was referred through our channel.
func (b *Bitget) GetAffiliate(ctx context.Context, uid string) models.Result[bool] {
	if res, ok := guard[bool](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "spot/account/info:affiliate", Weight: 1},
		func(ctx context.Context) (bool, error) {
			raw, err := b.do(ctx, "GET", "/api/v2/spot/account/info", nil, nil, true)
			if err != nil {
				return false, err
			}
			var info struct {
				UserID    string `json:"userId"`
				InviterID string `json:"inviterId"`
			}
			if err := json.Unmarshal(raw, &info); err != nil {
				return false, err
			}
			if uid != "" && info.UserID != uid {
				return false, nil
			}
			return info.InviterID != "", nil
		})
}
