// Package bybit implements the connector facade over Bybit's v5 API. One
// host serves spot and derivatives; the product fork is just the category
// parameter, fixed at construction.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/exchanges/base"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
	"github.com/sawpanic/tradegate/internal/retry"
	"github.com/sawpanic/tradegate/internal/transport"
)

const (
	hostLive = "https://api.bybit.com"
	hostDemo = "https://api-demo.bybit.com"

	recvWindow = "5000"
)

// Bybit is one credentialed facade instance.
type Bybit struct {
	caller *base.Caller
	opts   base.Options
	gov    *limiter.Bybit
	client *transport.Client

	// account metadata, resolved once per instance
	metaOnce    sync.Once
	accountType string
	marginMode  string
}

// New constructs the facade. Demo instances honor PAPER_TRADING_API_URL.
func New(opts base.Options) *Bybit {
	host := hostLive
	if opts.Demo {
		host = hostDemo
		if u := os.Getenv("PAPER_TRADING_API_URL"); u != "" {
			host = u
		}
	}
	if opts.Host != "" {
		host = opts.Host
	}

	gov := opts.Reg().Bybit()
	b := &Bybit{
		opts: opts,
		gov:  gov,
		caller: &base.Caller{
			Provider: "bybit",
			Clk:      opts.Clk(),
			Gov:      gov,
			Rules:    retry.BybitRules(),
			Timeout:  opts.Timeout,
		},
	}
	if opts.HasKeys() || (opts.Key == "" && opts.Secret == "") {
		b.client = transport.New("bybit", host, opts.Timeout)
	}
	return b
}

// category is Bybit's product discriminator.
func (b *Bybit) category() string {
	switch b.opts.Futures {
	case models.ModeUSDM:
		return "linear"
	case models.ModeCoinM:
		return "inverse"
	default:
		return "spot"
	}
}

func (b *Bybit) futures() bool { return b.opts.Futures != models.ModeSpot }

// envelope is the uniform v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// do issues one attempt: GET parameters ride the query string, POST bodies
// are JSON, both signed over the v5 prehash.
func (b *Bybit) do(ctx context.Context, method, path string, params url.Values, body map[string]any, signed bool) (json.RawMessage, error) {
	var payload []byte
	var query url.Values
	if method == "GET" {
		query = params
	} else if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if signed {
		ts := strconv.FormatInt(b.caller.Clk.Now().UnixMilli(), 10)
		prehash := ts + b.opts.Key + recvWindow
		if method == "GET" {
			prehash += query.Encode()
		} else {
			prehash += string(payload)
		}
		headers["X-BAPI-API-KEY"] = b.opts.Key
		headers["X-BAPI-TIMESTAMP"] = ts
		headers["X-BAPI-RECV-WINDOW"] = recvWindow
		headers["X-BAPI-SIGN"] = transport.HMACSHA256Hex(b.opts.Secret, prehash)
	}

	resp, err := b.client.Do(ctx, method, path, query, payload, headers)
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
		return nil, &models.APIError{Provider: "bybit", HTTPStatus: resp.Status, Message: err.Error(), Body: string(resp.Body)}
	}
	if env.RetCode != 0 {
		return nil, &models.APIError{
			Provider: "bybit",
			Code:     strconv.Itoa(env.RetCode),
			Message:  env.RetMsg,
			Body:     string(resp.Body),
		}
	}
	return env.Result, nil
}

func (b *Bybit) apiErr(status int, body []byte) *models.APIError {
	var env envelope
	_ = json.Unmarshal(body, &env)
	e := &models.APIError{
		Provider:   "bybit",
		HTTPStatus: status,
		Message:    env.RetMsg,
		Body:       string(body),
	}
	if env.RetCode != 0 {
		e.Code = strconv.Itoa(env.RetCode)
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	return e
}

func guard[T any](b *Bybit, needFutures, needKeys bool) (models.Result[T], bool) {
	if b.client == nil {
		return base.FailFast[T](b.caller, base.CannotConnect("bybit")), false
	}
	if needKeys && !b.opts.HasKeys() {
		return base.FailFast[T](b.caller, base.CannotConnect("bybit")), false
	}
	if needFutures && !b.futures() {
		return base.FailFast[T](b.caller, base.FuturesMissed), false
	}
	var zero models.Result[T]
	return zero, true
}

// resolveMeta queries account classification once per instance: unified
// accounts route balance and position queries differently from classic ones.
func (b *Bybit) resolveMeta(ctx context.Context) (string, string) {
	b.metaOnce.Do(func() {
		b.accountType = "UNIFIED"
		b.marginMode = "REGULAR_MARGIN"
		if err := b.caller.Admit(ctx, base.Endpoint{Name: "account:info", Weight: 1}); err != nil {
			return
		}
		raw, err := b.do(ctx, "GET", "/v5/account/info", nil, nil, true)
		if err != nil {
			log.Debug().Err(err).Msg("bybit account classification failed, assuming unified")
			return
		}
		var info struct {
			MarginMode          string `json:"marginMode"`
			UnifiedMarginStatus int    `json:"unifiedMarginStatus"`
		}
		if err := json.Unmarshal(raw, &info); err != nil {
			return
		}
		if info.MarginMode != "" {
			b.marginMode = info.MarginMode
		}
		if info.UnifiedMarginStatus == 1 {
			// Classic account: spot balances live under SPOT, contracts
			// under CONTRACT.
			if b.futures() {
				b.accountType = "CONTRACT"
			} else {
				b.accountType = "SPOT"
			}
		}
	})
	return b.accountType, b.marginMode
}

// GetBalance lists wallet balances for the resolved account type.
func (b *Bybit) GetBalance(ctx context.Context) models.Result[[]models.FreeAsset] {
	if res, ok := guard[[]models.FreeAsset](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "account:wallet-balance", Weight: 1},
		func(ctx context.Context) ([]models.FreeAsset, error) {
			acctType, _ := b.resolveMeta(ctx)
			params := url.Values{"accountType": {acctType}}
			raw, err := b.do(ctx, "GET", "/v5/account/wallet-balance", params, nil, true)
			if err != nil {
				return nil, err
			}
			return normBalances(raw)
		})
}

// GetAPIPermission reports whether the key may trade the configured product.
func (b *Bybit) GetAPIPermission(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "user:query-api", Weight: 1},
		func(ctx context.Context) (bool, error) {
			raw, err := b.do(ctx, "GET", "/v5/user/query-api", nil, nil, true)
			if err != nil {
				return false, err
			}
			var out struct {
				ReadOnly    int `json:"readOnly"`
				Permissions struct {
					Spot          []string `json:"Spot"`
					ContractTrade []string `json:"ContractTrade"`
					Derivatives   []string `json:"Derivatives"`
				} `json:"permissions"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return false, err
			}
			if out.ReadOnly != 0 {
				return false, nil
			}
			if b.futures() {
				return len(out.Permissions.ContractTrade) > 0 || len(out.Permissions.Derivatives) > 0, nil
			}
			return len(out.Permissions.Spot) > 0, nil
		})
}

// GetUID returns the key owner's user id.
func (b *Bybit) GetUID(ctx context.Context) models.Result[string] {
	if res, ok := guard[string](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "user:query-api:uid", Weight: 1},
		func(ctx context.Context) (string, error) {
			raw, err := b.do(ctx, "GET", "/v5/user/query-api", nil, nil, true)
			if err != nil {
				return "", err
			}
			var out struct {
				UserID int64 `json:"userID"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return "", err
			}
			return strconv.FormatInt(out.UserID, 10), nil
		})
}

// GetAffiliate reports whether uid is registered under our affiliate link.
func (b *Bybit) GetAffiliate(ctx context.Context, uid string) models.Result[bool] {
	if res, ok := guard[bool](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "user:aff-customer-info", Weight: 1},
		func(ctx context.Context) (bool, error) {
			params := url.Values{"uid": {uid}}
			_, err := b.do(ctx, "GET", "/v5/user/aff-customer-info", params, nil, true)
			if err != nil {
				var apiErr *models.APIError
				if errors.As(err, &apiErr) && apiErr.HTTPStatus == 0 {
					// Business rejection: not one of ours.
					return false, nil
				}
				return false, err
			}
			return true, nil
		})
}
