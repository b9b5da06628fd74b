// Package kucoin implements the connector facade over KuCoin's spot and
// futures APIs. The two products live on different hosts with different
// symbol alphabets; the facade translates symbols at the boundary so callers
// only ever see the canonical form.
package kucoin

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
	"github.com/sawpanic/tradegate/internal/transport"
)

const (
	hostSpot    = "https://api.kucoin.com"
	hostFutures = "https://api-futures.kucoin.com"

	codeOK = "200000"
)

// KuCoin is one credentialed facade instance.
type KuCoin struct {
	caller *base.Caller
	opts   base.Options
	gov    *limiter.KuCoin
	client *transport.Client
}

// New constructs the facade; the futures mode selects the host.
func New(opts base.Options) *KuCoin {
	host := hostSpot
	if opts.Futures != models.ModeSpot {
		host = hostFutures
	}
	if opts.Host != "" {
		host = opts.Host
	}

	gov := opts.Reg().KuCoin()
	k := &KuCoin{
		opts: opts,
		gov:  gov,
		caller: &base.Caller{
			Provider: "kucoin",
			Clk:      opts.Clk(),
			Gov:      gov,
			Rules:    retry.KuCoinRules(),
			Timeout:  opts.Timeout,
		},
	}
	if opts.HasKeys() || (opts.Key == "" && opts.Secret == "") {
		k.client = transport.New("kucoin", host, opts.Timeout)
	}
	return k
}

func (k *KuCoin) futures() bool { return k.opts.Futures != models.ModeSpot }

// inverse reports whether the instance trades coin-margined contracts, whose
// fill value is denominated in the base currency.
func (k *KuCoin) inverse() bool { return k.opts.Futures == models.ModeCoinM }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do issues one attempt, signing the v2 prehash ts+method+path(+query)+body
// with base64 HMAC; the passphrase itself is HMAC-wrapped per key version 2.
func (k *KuCoin) do(ctx context.Context, method, path string, params url.Values, body map[string]any, signed bool) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if signed {
		ts := strconv.FormatInt(k.caller.Clk.Now().UnixMilli(), 10)
		signPath := path
		if len(params) > 0 {
			signPath += "?" + params.Encode()
		}
		prehash := ts + method + signPath + string(payload)
		headers["KC-API-KEY"] = k.opts.Key
		headers["KC-API-SIGN"] = transport.HMACSHA256Base64(k.opts.Secret, prehash)
		headers["KC-API-TIMESTAMP"] = ts
		headers["KC-API-PASSPHRASE"] = transport.HMACSHA256Base64(k.opts.Secret, k.opts.Passphrase)
		headers["KC-API-KEY-VERSION"] = "2"
	}

	resp, err := k.client.Do(ctx, method, path, params, payload, headers)
	if err != nil {
		if resp != nil {
			return nil, k.apiErr(resp.Status, resp.Body)
		}
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, k.apiErr(resp.Status, resp.Body)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &models.APIError{Provider: "kucoin", HTTPStatus: resp.Status, Message: err.Error(), Body: string(resp.Body)}
	}
	if env.Code != codeOK && env.Code != "" {
		return nil, &models.APIError{Provider: "kucoin", Code: env.Code, Message: env.Msg, Body: string(resp.Body)}
	}
	return env.Data, nil
}

func (k *KuCoin) apiErr(status int, body []byte) *models.APIError {
	var env envelope
	_ = json.Unmarshal(body, &env)
	e := &models.APIError{
		Provider:   "kucoin",
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

func guard[T any](k *KuCoin, needFutures, needKeys bool) (models.Result[T], bool) {
	if k.client == nil {
		return base.FailFast[T](k.caller, base.CannotConnect("kucoin")), false
	}
	if needKeys && !k.opts.HasKeys() {
		return base.FailFast[T](k.caller, base.CannotConnect("kucoin")), false
	}
	if needFutures && !k.futures() {
		return base.FailFast[T](k.caller, base.FuturesMissed), false
	}
	var zero models.Result[T]
	return zero, true
}

// GetBalance lists balances: trade accounts on spot, the margin overview on
// futures.
func (k *KuCoin) GetBalance(ctx context.Context) models.Result[[]models.FreeAsset] {
	if res, ok := guard[[]models.FreeAsset](k, false, true); !ok {
		return res
	}
	if k.futures() {
		return base.Invoke(ctx, k.caller, base.Endpoint{Name: "futures/account-overview", Weight: 5},
			func(ctx context.Context) ([]models.FreeAsset, error) {
				currency := "USDT"
				if k.inverse() {
					currency = "XBT"
				}
				params := url.Values{"currency": {currency}}
				raw, err := k.do(ctx, "GET", "/api/v1/account-overview", params, nil, true)
				if err != nil {
					return nil, err
				}
				var out struct {
					Currency         string  `json:"currency"`
					AvailableBalance float64 `json:"availableBalance"`
					FrozenFunds      float64 `json:"frozenFunds"`
				}
				if err := json.Unmarshal(raw, &out); err != nil {
					return nil, err
				}
				return []models.FreeAsset{{
					Asset:  decodeCurrency(out.Currency),
					Free:   strconv.FormatFloat(out.AvailableBalance, 'f', -1, 64),
					Locked: strconv.FormatFloat(out.FrozenFunds, 'f', -1, 64),
				}}, nil
			})
	}
	return base.Invoke(ctx, k.caller, base.Endpoint{Name: "accounts", Weight: 5},
		func(ctx context.Context) ([]models.FreeAsset, error) {
			params := url.Values{"type": {"trade"}}
			raw, err := k.do(ctx, "GET", "/api/v1/accounts", params, nil, true)
			if err != nil {
				return nil, err
			}
			return normBalances(raw)
		})
}

// GetAPIPermission reports whether the key carries trade permission.
func (k *KuCoin) GetAPIPermission(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, base.Endpoint{Name: "management/api-key", Weight: 1},
		func(ctx context.Context) (bool, error) {
			raw, err := k.do(ctx, "GET", "/api/v1/user/api-key", nil, nil, true)
			if err != nil {
				return false, err
			}
			var out struct {
				Permission string `json:"permission"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return false, err
			}
			return containsFold(out.Permission, "Trade"), nil
		})
}

// GetUID returns the key owner's account uid.
func (k *KuCoin) GetUID(ctx context.Context) models.Result[string] {
	if res, ok := guard[string](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, base.Endpoint{Name: "management/api-key:uid", Weight: 1},
		func(ctx context.Context) (string, error) {
			raw, err := k.do(ctx, "GET", "/api/v1/user/api-key", nil, nil, true)
			if err != nil {
				return "", err
			}
			var out struct {
				UID int64 `json:"uid"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return "", err
			}
			return strconv.FormatInt(out.UID, 10), nil
		})
}

// GetAffiliate reports whether uid signed up through our referral.
func (k *KuCoin) GetAffiliate(ctx context.Context, uid string) models.Result[bool] {
	if res, ok := guard[bool](k, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, k.caller, base.Endpoint{Name: "management/affiliate", Weight: 1},
		func(ctx context.Context) (bool, error) {
			raw, err := k.do(ctx, "GET", "/api/v2/affiliate/inviter/statistics", nil, nil, true)
			if err != nil {
				return false, err
			}
			return len(raw) > 0 && string(raw) != "null", nil
		})
}
