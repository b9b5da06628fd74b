// Package binance implements the connector facade for Binance spot
// (binance.com and binance.us) and the USDT- and coin-margined futures
// products. One facade serves both spot and futures paths; the fork is fixed
// at construction by the futures mode and callers never see it.
package binance

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

const (
	hostCom  = "https://api.binance.com"
	hostUS   = "https://api.binance.us"
	hostUSDM = "https://fapi.binance.com"
	hostCoin = "https://dapi.binance.com"

	recvWindow = "5000"
)

// Binance is one credentialed facade instance.
type Binance struct {
	caller  *base.Caller
	opts    base.Options
	product limiter.BinanceProduct
	gov     *limiter.Binance

	client *transport.Client // product host (spot, fapi or dapi)
	sapi   *transport.Client // always the spot host, for sapi endpoints
	us     bool
}

// New constructs the facade. The spot domain honors BINANCE_DOMAIN ("us"
// selects binance.us); futures modes pin the fapi/dapi hosts.
func New(opts base.Options) *Binance {
	us := strings.EqualFold(os.Getenv("BINANCE_DOMAIN"), "us")

	var product limiter.BinanceProduct
	var host string
	switch opts.Futures {
	case models.ModeUSDM:
		product, host = limiter.BinanceUSDM, hostUSDM
	case models.ModeCoinM:
		product, host = limiter.BinanceCoinM, hostCoin
	default:
		if us {
			product, host = limiter.BinanceSpotUS, hostUS
		} else {
			product, host = limiter.BinanceSpotCom, hostCom
		}
	}
	if opts.Host != "" {
		host = opts.Host
	}

	spotHost := hostCom
	if us {
		spotHost = hostUS
	}
	if opts.Host != "" {
		spotHost = opts.Host
	}

	gov := opts.Reg().Binance(product, opts.Key)
	b := &Binance{
		opts:    opts,
		product: product,
		gov:     gov,
		us:      us,
		caller: &base.Caller{
			Provider: string(product),
			Clk:      opts.Clk(),
			Gov:      gov,
			Rules:    retry.BinanceRules(string(product), opts.Futures == models.ModeCoinM),
			Timeout:  opts.Timeout,
		},
	}
	if opts.HasKeys() || isPublicOK(opts) {
		b.client = transport.New(string(product), host, opts.Timeout)
		b.sapi = transport.New(string(product)+"-sapi", spotHost, opts.Timeout)
	}
	return b
}

func isPublicOK(opts base.Options) bool {
	// Market-data-only instances are allowed without credentials.
	return opts.Key == "" && opts.Secret == ""
}

func (b *Binance) futures() bool { return b.opts.Futures != models.ModeSpot }

// apiErr shapes a Binance error envelope into the classifier's error type.
func (b *Binance) apiErr(status int, body []byte) *models.APIError {
	var env struct {
		Code int64  `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &env)
	e := &models.APIError{
		Provider:   string(b.product),
		HTTPStatus: status,
		Message:    env.Msg,
		Body:       string(body),
	}
	if env.Code != 0 {
		e.Code = strconv.FormatInt(env.Code, 10)
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	return e
}

// do issues one attempt against the product host, handling the weight-header
// sync and error envelope.
func (b *Binance) do(ctx context.Context, c *transport.Client, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		var err error
		params, err = b.signQuery(params)
		if err != nil {
			return nil, &models.APIError{Provider: string(b.product), Message: err.Error()}
		}
	}
	headers := map[string]string{}
	if b.opts.Key != "" {
		headers["X-MBX-APIKEY"] = b.opts.Key
	}

	b.gov.BeginWeightSync()
	resp, err := c.Do(ctx, method, path, params, nil, headers)
	if resp != nil {
		b.syncCounters(resp)
	}
	if err != nil {
		if resp != nil {
			// 5xx with a Binance envelope: prefer the envelope's code.
			return nil, b.apiErr(resp.Status, resp.Body)
		}
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, b.apiErr(resp.Status, resp.Body)
	}
	return resp.Body, nil
}

// signQuery appends timestamp, recvWindow and the signature. RSA keys (PEM
// material in the secret) sign base64; everything else is HMAC hex.
func (b *Binance) signQuery(params url.Values) (url.Values, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("recvWindow", recvWindow)
	params.Set("timestamp", strconv.FormatInt(b.caller.Clk.Now().UnixMilli(), 10))
	payload := params.Encode()
	var sig string
	if strings.Contains(b.opts.Secret, "PRIVATE KEY") {
		var err error
		sig, err = transport.RSASHA256Base64(b.opts.Secret, payload)
		if err != nil {
			return nil, err
		}
	} else {
		sig = transport.HMACSHA256Hex(b.opts.Secret, payload)
	}
	params.Set("signature", sig)
	return params, nil
}

// syncCounters overwrites the governor's ledgers from the server's own
// counters whenever it reports them.
func (b *Binance) syncCounters(resp *transport.Response) {
	for _, h := range []string{"X-Mbx-Used-Weight-1m", "X-MBX-USED-WEIGHT-1M"} {
		if v := resp.Headers.Get(h); v != "" {
			if used, err := strconv.Atoi(v); err == nil {
				b.gov.SyncWeight(used)
				break
			}
		}
	}
	for _, h := range []string{"X-Mbx-Order-Count-10s", "X-MBX-ORDER-COUNT-10S", "X-Mbx-Order-Count-1m"} {
		if v := resp.Headers.Get(h); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				b.gov.SyncOrderCount(n)
				break
			}
		}
	}
}

// guard returns a terminal result when the facade cannot dispatch at all.
func guard[T any](b *Binance, needFutures, needKeys bool) (models.Result[T], bool) {
	if b.client == nil {
		return base.FailFast[T](b.caller, base.CannotConnect("binance")), false
	}
	if needKeys && !b.opts.HasKeys() {
		return base.FailFast[T](b.caller, base.CannotConnect("binance")), false
	}
	if needFutures && !b.futures() {
		return base.FailFast[T](b.caller, base.FuturesMissed), false
	}
	var zero models.Result[T]
	return zero, true
}

// apiPath prefixes the product's REST root.
func (b *Binance) apiPath(spot, usdm, coinm string) string {
	switch b.opts.Futures {
	case models.ModeUSDM:
		return usdm
	case models.ModeCoinM:
		return coinm
	default:
		return spot
	}
}

// GetBalance lists non-zero balances for the configured product.
func (b *Binance) GetBalance(ctx context.Context) models.Result[[]models.FreeAsset] {
	if res, ok := guard[[]models.FreeAsset](b, false, true); !ok {
		return res
	}
	switch b.opts.Futures {
	case models.ModeUSDM:
		return base.Invoke(ctx, b.caller, base.Endpoint{Name: "fapi/v2/balance", Weight: 5},
			func(ctx context.Context) ([]models.FreeAsset, error) {
				body, err := b.do(ctx, b.client, "GET", "/fapi/v2/balance", nil, true)
				if err != nil {
					return nil, err
				}
				return normFuturesBalances(body)
			})
	case models.ModeCoinM:
		return base.Invoke(ctx, b.caller, base.Endpoint{Name: "dapi/v1/balance", Weight: 1},
			func(ctx context.Context) ([]models.FreeAsset, error) {
				body, err := b.do(ctx, b.client, "GET", "/dapi/v1/balance", nil, true)
				if err != nil {
					return nil, err
				}
				return normFuturesBalances(body)
			})
	default:
		return base.Invoke(ctx, b.caller, base.Endpoint{Name: "api/v3/account", Weight: 20},
			func(ctx context.Context) ([]models.FreeAsset, error) {
				body, err := b.do(ctx, b.client, "GET", "/api/v3/account", nil, true)
				if err != nil {
					return nil, err
				}
				return normSpotBalances(body)
			})
	}
}

// GetAPIPermission reports whether the key may trade.
func (b *Binance) GetAPIPermission(ctx context.Context) models.Result[bool] {
	if res, ok := guard[bool](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "sapi/v1/account/apiRestrictions", Weight: 1},
		func(ctx context.Context) (bool, error) {
			body, err := b.do(ctx, b.sapi, "GET", "/sapi/v1/account/apiRestrictions", nil, true)
			if err != nil {
				return false, err
			}
			var out struct {
				EnableSpotAndMarginTrading bool `json:"enableSpotAndMarginTrading"`
				EnableFutures              bool `json:"enableFutures"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return false, err
			}
			if b.futures() {
				return out.EnableFutures, nil
			}
			return out.EnableSpotAndMarginTrading, nil
		})
}

// GetUID returns the account's numeric uid as a string.
func (b *Binance) GetUID(ctx context.Context) models.Result[string] {
	if res, ok := guard[string](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "api/v3/account:uid", Weight: 20},
		func(ctx context.Context) (string, error) {
			body, err := b.do(ctx, b.sapi, "GET", "/api/v3/account", nil, true)
			if err != nil {
				return "", err
			}
			var out struct {
				UID int64 `json:"uid"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return "", err
			}
			return strconv.FormatInt(out.UID, 10), nil
		})
}

// GetAffiliate reports whether uid signed up under our referral code.
func (b *Binance) GetAffiliate(ctx context.Context, uid string) models.Result[bool] {
	if res, ok := guard[bool](b, false, true); !ok {
		return res
	}
	return base.Invoke(ctx, b.caller, base.Endpoint{Name: "sapi/v1/apiReferral/ifNewUser", Weight: 1},
		func(ctx context.Context) (bool, error) {
			params := url.Values{"subAccountId": {uid}}
			body, err := b.do(ctx, b.sapi, "GET", "/sapi/v1/apiReferral/ifNewUser", params, true)
			if err != nil {
				return false, err
			}
			var out struct {
				IfNewUser bool `json:"ifNewUser"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return false, err
			}
			return !out.IfNewUser, nil
		})
}

func floatOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func fmtQty(q string) string {
	if q == "" {
		return "0"
	}
	return q
}
