// Package transport is the HTTP boundary. It owns connection pooling,
// per-attempt timeouts, request signing hooks, response-header capture and a
// circuit breaker per client. Everything that comes back abnormal is shaped
// into *models.APIError so the retry classifier sees one error type.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/tradegate/internal/models"
)

// DefaultTimeout is the per-attempt HTTP ceiling; Coinbase documents a
// 5-minute server-side maximum and the rest are far below it.
const DefaultTimeout = 5 * time.Minute

const userAgent = "github.com/sawpanic/tradegate/1.0 (Exchange-Native)"

// Response is one completed HTTP exchange. Non-2xx responses are returned
// here, not as errors: each exchange package decides what its error envelope
// looks like.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// SignFunc mutates an outgoing request with authentication material.
type SignFunc func(req *http.Request, body []byte) error

// Client is one provider host's transport handle. Handles are per facade
// instance so credentials and base URLs stay isolated.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	sign     SignFunc
}

// New builds a transport client for a provider host.
func New(provider, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &Client{
		provider: provider,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// SetSign installs the authentication hook applied to every request.
func (c *Client) SetSign(fn SignFunc) { c.sign = fn }

// BaseURL reports the configured host.
func (c *Client) BaseURL() string { return c.baseURL }

// BreakerState reports the circuit state for the ops endpoint.
func (c *Client) BreakerState() string { return c.breaker.State().String() }

// Get issues a GET with query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, headers)
}

// Post issues a POST with a raw body.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body []byte, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, query, body, headers)
}

// Delete issues a DELETE with query parameters.
func (c *Client) Delete(ctx context.Context, path string, query url.Values, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, query, nil, headers)
}

// Do issues one attempt. Network faults and an open circuit come back as
// *models.APIError; completed HTTP exchanges come back as *Response whatever
// their status. Server-class statuses count against the breaker.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte, headers map[string]string) (*Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.sign != nil {
			if err := c.sign(req, body); err != nil {
				return nil, err
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		r := &Response{Status: resp.StatusCode, Body: raw, Headers: resp.Header}
		if resp.StatusCode >= 500 {
			// Fail the breaker but hand the payload back: callers still
			// need the body for classification.
			return r, &models.APIError{
				Provider:   c.provider,
				HTTPStatus: resp.StatusCode,
				Message:    http.StatusText(resp.StatusCode),
				Body:       string(raw),
			}
		}
		return r, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &models.APIError{
				Provider: c.provider,
				Message:  "service unavailable: circuit breaker open",
			}
		}
		if apiErr, ok := err.(*models.APIError); ok {
			if r, ok := out.(*Response); ok && r != nil {
				return r, apiErr
			}
			return nil, apiErr
		}
		return nil, &models.APIError{Provider: c.provider, Message: err.Error()}
	}
	return out.(*Response), nil
}
