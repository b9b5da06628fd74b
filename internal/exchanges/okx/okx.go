// Package okx implements the connector facade over OKX's unified v5 API.
// Spot and swap share one host and one endpoint set; the product only shows
// up as the instType parameter and the -SWAP instrument suffix.
package okx

import (
	"context"
	"encoding/json"
	"net/url"
	"os"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
	"github.com/sawpanic/tradegate/internal/transport"
)

const (
	host   = "https://www.okx.com"
	codeOK = "0"

	tsLayout = "2006-01-02T15:04:05.000Z"
)

// OKX is one credentialed facade instance.
type OKX struct {
	caller *base.Caller
	opts   base.Options
	gov    *limiter.OKX
	client *transport.Client
	demo   bool
}

func New(opts base.Options) *OKX {
	h := host
	if opts.Host != "" {
		h = opts.Host
	}
	gov := opts.Reg().OKX()
	o := &OKX{
		opts: opts,
		gov:  gov,
		demo: opts.Demo || os.Getenv("OKXENV") == "demo",
		caller: &base.Caller{
			Provider: "okx",
			Clk:      opts.Clk(),
			Gov:      gov,
			Rules:    retry.OKXRules(),
			Timeout:  opts.Timeout,
		},
	}
	if opts.HasKeys() || (opts.Key == "" && opts.Secret == "") {
		o.client = transport.New("okx", h, opts.Timeout)
	}
	return o
}

func (o *OKX) futures() bool { return o.opts.Futures != models.ModeSpot }

func (o *OKX) instType() string {
	if o.futures() {
		return "SWAP"
	}
	return "SPOT"
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do issues one attempt; the prehash is iso-ts+method+path(+query)+body with
// base64 HMAC, and demo accounts add the simulated-trading header.
func (o *OKX) do(ctx context.Context, method, path string, params url.Values, body any, signed bool) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if o.demo {
		headers["x-simulated-trading"] = "1"
	}
	if signed {
		ts := o.caller.Clk.Now().UTC().Format(tsLayout)
		signPath := path
		if len(params) > 0 {
			signPath += "?" + params.Encode()
		}
		prehash := ts + method + signPath + string(payload)
		headers["OK-ACCESS-KEY"] = o.opts.Key
		headers["OK-ACCESS-SIGN"] = transport.HMACSHA256Base64(o.opts.Secret, prehash)
		headers["OK-ACCESS-TIMESTAMP"] = ts
		headers["OK-ACCESS-PASSPHRASE"] = o.opts.Passphrase
	}

	resp, err := o.client.Do(ctx, method, path, params, payload, headers)
	if err != nil {
		if resp != nil {
			return nil, o.apiErr(resp.Status, resp.Body)
		}
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, o.apiErr(resp.Status, resp.Body)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &models.APIError{Provider: "okx", HTTPStatus: resp.Status, Message: err.Error(), Body: string(resp.Body)}
	}
	if env.Code != codeOK {
		msg := env.Msg
		// Batch-shaped endpoints tuck the real rejection into data[0].
		var rows []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		code := env.Code
		if json.Unmarshal(env.Data, &rows) == nil && len(rows) > 0 && rows[0].SCode != "" && rows[0].SCode != codeOK {
			code = rows[0].SCode
			if rows[0].SMsg != "" {
				msg = rows[0].SMsg
			}
		}
		return nil, &models.APIError{Provider: "okx", Code: code, Message: msg, Body: string(resp.Body)}
	}
	return env.Data, nil
}

func (o *OKX) apiErr(status int, body []byte) *models.APIError {
	var env envelope
	_ = json.Unmarshal(body, &env)
	e := &models.APIError{
		Provider:   "okx",
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

func guard[T any](o *OKX, needFutures, needKeys bool) (models.Result[T], bool) {
	if o.client == nil {
		return base.FailFast[T](o.caller, base.CannotConnect("okx")), false
	}
	if needKeys && !o.opts.HasKeys() {
		return base.FailFast[T](o.caller, base.CannotConnect("okx")), false
	}
	if needFutures && !o.futures() {
		return base.FailFast[T](o.caller, base.FuturesMissed), false
	}
	var zero models.Result[T]
	return zero, true
}

// accountConfig is shared by the permission, uid and hedge lookups.
type accountConfig struct {
	UID     string `json:"uid"`
	Perm    string `json:"perm"`
	PosMode string `json:"posMode"`
}

func (o *OKX) fetchConfig(ctx context.Context) (accountConfig, error) {
	raw, err := o.do(ctx, "GET", "/api/v5/account/config", nil, nil, true)
	if err != nil {
		return accountConfig{}, err
	}
	var rows []accountConfig
	if err := json.Unmarshal(raw, &rows); err != nil {
		return accountConfig{}, err
	}
	if len(rows) == 0 {
		return accountConfig{}, &models.APIError{Provider: "okx", Message: "empty account config"}
	}
	return rows[0], nil
}

// GetBalance lists trading-account balances.
func (o *OKX) GetBalance(ctx context.Context) models.Result[[]models.FreeAsset] {
	if res, ok := guard[[]models.FreeAsset](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/balance", Weight: 1},
		func(ctx context.Context) ([]models.FreeAsset, error) {
			raw, err := o.do(ctx, "GET", "/api/v5/account/balance", nil, nil, true)
			if err != nil {
				return nil, err
			}
			return normBalances(raw)
		})
}

// GetAPIPermission reports whether the key carries trade permission.
func (o *OKX) GetAPIPermission(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/config", Weight: 1},
		func(ctx context.Context) (bool, error) {
			cfg, err := o.fetchConfig(ctx)
			if err != nil {
				return false, err
			}
			return containsFold(cfg.Perm, "trade"), nil
		})
}

// GetUID returns the key owner's account uid.
func (o *OKX) GetUID(ctx context.Context) models.Result[string] {
	if res, ok := guard[string](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "account/config:uid", Weight: 1},
		func(ctx context.Context) (string, error) {
			cfg, err := o.fetchConfig(ctx)
			if err != nil {
				return "", err
			}
			return cfg.UID, nil
		})
}

// GetAffiliate reports whether uid signed up through our referral.
func (o *OKX) GetAffiliate(ctx context.Context, uid string) models.Result[bool] {
	if res, ok := guard[bool](o, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, o.caller, base.Endpoint{Name: "affiliate/invitee", Weight: 1},
		func(ctx context.Context) (bool, error) {
			params := url.Values{"uid": {uid}}
			raw, err := o.do(ctx, "GET", "/api/v5/affiliate/invitee/detail", params, nil, true)
			if err != nil {
				return false, err
			}
			var rows []json.RawMessage
			if err := json.Unmarshal(raw, &rows); err != nil {
				return false, err
			}
			return len(rows) > 0, nil
		})
}
