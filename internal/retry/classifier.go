// Package retry classifies failed exchange responses and owns the retry
// loop around every facade operation. A classification is one of: retry
// after a prescribed sleep (possibly mutating the governor first), or fail
// terminally with the exchange's message preserved.
package retry

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/models"
)

// DefaultMaxAttempts bounds the retry budget per call.
const DefaultMaxAttempts = 10

// Decision is the classifier's verdict for one failed attempt.
type Decision struct {
	Retry    bool
	Delay    time.Duration
	Reason   string    // terminal message when !Retry
	Saturate bool      // slam the governor's window shut
	BanUntil time.Time // non-zero: record a server-declared ban
}

// networkSubstrings are retryable on every provider: transport faults the
// exchange never saw or answered with boilerplate.
var networkSubstrings = []string{
	"fetch failed",
	"etimedout",
	"econnreset",
	"eai_again",
	"socket hang up",
	"getaddrinfo",
	"tls handshake",
	"gateway timeout",
	"gateway time-out",
	"context deadline exceeded",
	"connection refused",
	"unexpected eof",
}

// saturationSubstrings signal server-side overload; they retry and also
// command the governor to saturate so concurrent callers back off.
var saturationSubstrings = []string{
	"internal system error",
	"server error",
	"server timeout",
	"too many visits",
	"too many requests",
	"possible ip block",
	"unknown error",
	"<html",
	"request throttled by system-level protection",
	"system busy",
	"service unavailable",
}

// clockSkewSubstrings indicate the request timestamp fell outside the
// server's acceptance window; retried with linear backoff and, on KuCoin, a
// doubled budget.
var clockSkewSubstrings = []string{
	"outside of the recvwindow",
	"recv_window",
	"kc-api-timestamp",
	"request timestamp expired",
	"timestamp for this request",
}

var banEpochRe = regexp.MustCompile(`\b(\d{13})\b`)

// Rules is one provider's classification table.
type Rules struct {
	Provider    string
	RetryCodes  map[string]bool
	RetryExtra  []string // provider-idiosyncratic retryable substrings
	FatalExtra  []string // substrings that fail fast even when the code retries
	MaxAttempts int
	// DelayFor overrides the class delay for provider-specific codes; a zero
	// return falls through to the generic class delays.
	DelayFor func(e *models.APIError, attempt int) time.Duration
	// Special intercepts codes needing more than a delay (Binance bans).
	Special func(e *models.APIError, attempt int, now time.Time) (Decision, bool)
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (r *Rules) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Rules) maxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

func containsAny(haystack string, needles []string) string {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n
		}
	}
	return ""
}

// Classify inspects one failed attempt. attempt is zero-based.
func (r *Rules) Classify(err error, attempt int) Decision {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		apiErr = &models.APIError{Provider: r.Provider, Message: err.Error()}
	}
	text := strings.ToLower(apiErr.Message + " " + apiErr.Body)

	if s := containsAny(text, r.FatalExtra); s != "" {
		return Decision{Reason: apiErr.Message}
	}

	// Binance 403 means a suspected IP block: terminal, and concurrent
	// callers should stop hammering.
	if strings.HasPrefix(r.Provider, "binance") && apiErr.HTTPStatus == 403 {
		return Decision{Reason: apiErr.Message, Saturate: true}
	}
	if r.Provider == "coinbase" && (apiErr.HTTPStatus == 401 || strings.Contains(text, "unauthorized")) {
		return Decision{Reason: apiErr.Message}
	}

	skew := containsAny(text, clockSkewSubstrings) != ""
	budget := r.maxAttempts()
	if skew && r.Provider == "kucoin" {
		budget *= 2
	}

	if r.Special != nil {
		if d, ok := r.Special(apiErr, attempt, r.now()); ok {
			if d.Retry && attempt+1 >= budget {
				return Decision{
					Reason:   models.ExchangeProblemsPrefix + apiErr.Message,
					Saturate: d.Saturate,
					BanUntil: d.BanUntil,
				}
			}
			return d
		}
	}

	retryable := r.RetryCodes[apiErr.Code] ||
		(apiErr.HTTPStatus != 0 && r.RetryCodes[strconv.Itoa(apiErr.HTTPStatus)]) ||
		containsAny(text, networkSubstrings) != "" ||
		containsAny(text, saturationSubstrings) != "" ||
		containsAny(text, r.RetryExtra) != "" ||
		skew

	if !retryable {
		return Decision{Reason: apiErr.Message}
	}
	if attempt+1 >= budget {
		return Decision{Reason: models.ExchangeProblemsPrefix + apiErr.Message}
	}

	d := Decision{Retry: true}
	if r.DelayFor != nil {
		if delay := r.DelayFor(apiErr, attempt); delay > 0 {
			d.Delay = delay
			d.Saturate = containsAny(text, saturationSubstrings) != ""
			return d
		}
	}

	switch {
	case skew:
		d.Delay = time.Duration(attempt) * 2 * time.Second
		if d.Delay == 0 {
			d.Delay = 2 * time.Second
		}
	case strings.Contains(text, "socket hang up"):
		d.Delay = time.Duration(2+attempt) * time.Second
	case strings.Contains(text, "gateway time"):
		d.Delay = 5 * time.Second
	case containsAny(text, saturationSubstrings) != "":
		d.Delay = 10 * time.Second
		d.Saturate = true
	default:
		d.Delay = 5 * time.Second
	}
	return d
}

// parseBanEpoch extracts a 13-digit unix-ms timestamp from a ban message.
func parseBanEpoch(msg string) (time.Time, bool) {
	m := banEpochRe.FindStringSubmatch(msg)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
