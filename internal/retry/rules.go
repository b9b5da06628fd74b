package retry

import (
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/models"
)

func codeSet(codes ...string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

// BinanceRules covers all four Binance products; coinm stretches the
// too-many-orders sleep past its 60 s order window.
func BinanceRules(product string, coinm bool) *Rules {
	return &Rules{
		Provider:   product,
		RetryCodes: codeSet("-1021", "-1000", "-1001", "-1003", "-1004", "-1006", "-1007", "-1008", "-1015", "-1099", "502"),
		DelayFor: func(e *models.APIError, attempt int) time.Duration {
			switch e.Code {
			case "-1015":
				if coinm {
					return 61 * time.Second
				}
				return 11 * time.Second
			}
			if strings.Contains(strings.ToLower(e.Message), "request throttled") {
				return 10 * time.Second
			}
			return 0
		},
		Special: func(e *models.APIError, attempt int, now time.Time) (Decision, bool) {
			if e.Code != "-1008" {
				return Decision{}, false
			}
			d := Decision{Retry: true, Saturate: true, Delay: 30 * time.Second}
			if until, ok := parseBanEpoch(e.Message); ok {
				d.BanUntil = until
				if sleep := until.Sub(now) + time.Millisecond; sleep > 0 {
					d.Delay = sleep
				}
			}
			return d, true
		},
	}
}

func BybitRules() *Rules {
	return &Rules{
		Provider:   "bybit",
		RetryCodes: codeSet("10006", "12816", "12146", "12147", "5004", "10000", "10016", "502", "12149"),
		RetryExtra: []string{"can not cancel order", "position idx not match position mode"},
		DelayFor: func(e *models.APIError, attempt int) time.Duration {
			// Position-slot resubmits carry corrected parameters; no reason
			// to back off.
			if strings.Contains(strings.ToLower(e.Message), "position idx not match position mode") {
				return 100 * time.Millisecond
			}
			return 0
		},
	}
}

func BitgetRules() *Rules {
	return &Rules{
		Provider:   "bitget",
		RetryCodes: codeSet("10006", "12816", "12146", "12147", "5004", "10000", "10016", "502", "12149", "429"),
		RetryExtra: []string{"rest api trading is not enabled"},
	}
}

func KuCoinRules() *Rules {
	return &Rules{
		Provider: "kucoin",
		RetryCodes: codeSet("429", "403", "500", "502", "503", "504", "524",
			"1015", "520", "530", "429000", "200004", "400000", "500000"),
		DelayFor: func(e *models.APIError, attempt int) time.Duration {
			switch e.Code {
			case "429", "530", "429000":
				return 30 * time.Second
			case "1015":
				return 50 * time.Second
			case "524", "520", "502":
				return 10 * time.Second
			}
			switch e.HTTPStatus {
			case 429, 530:
				return 30 * time.Second
			case 524, 520, 502:
				return 10 * time.Second
			}
			return 0
		},
	}
}

func OKXRules() *Rules {
	return &Rules{
		Provider:   "okx",
		RetryCodes: codeSet("1", "50001", "50004", "50005", "50011", "50013", "50026", "50057", "50102"),
		DelayFor: func(e *models.APIError, attempt int) time.Duration {
			if e.Code == "50011" {
				return time.Duration(attempt+1) * 10 * time.Second
			}
			return 0
		},
	}
}

func CoinbaseRules() *Rules {
	return &Rules{
		Provider:   "coinbase",
		RetryCodes: codeSet("429", "500", "502", "503", "504", "520", "521", "522"),
		RetryExtra: []string{"missing required scopes"},
		DelayFor: func(e *models.APIError, attempt int) time.Duration {
			text := strings.ToLower(e.Message + " " + e.Body)
			if strings.Contains(text, "socket hang up") {
				d := time.Duration(1<<uint(attempt+1)) * time.Second
				if d > 10*time.Second {
					d = 10 * time.Second
				}
				if d < 2*time.Second {
					d = 2 * time.Second
				}
				return d
			}
			if strings.Contains(text, "service unavailable") {
				return 5 * time.Second
			}
			if e.Code != "" && CoinbaseRetryable(e.Code) {
				return 10 * time.Second
			}
			return 0
		},
	}
}

// CoinbaseRetryable reports whether a Coinbase status code is in the retry set.
func CoinbaseRetryable(code string) bool {
	return codeSet("429", "500", "502", "503", "504", "520", "521", "522")[code]
}

// ConsistencyDelays is the bounded wait ladder for order-not-found-yet
// lookups right after create or cancel: exchanges acknowledge writes before
// their read path sees them.
var ConsistencyDelays = []time.Duration{
	500 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	3000 * time.Millisecond,
	5000 * time.Millisecond,
}
