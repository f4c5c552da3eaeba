// Package upstream holds the HTTP plumbing shared by the ticketing backend
// and hosted payment page clients.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// APIError is returned when an upstream answers with a non-2xx status.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api status %d: %s", e.Service, e.StatusCode, e.Body)
}

// TransportError wraps failures that happen before a response is received:
// dial, DNS, TLS, timeouts and cancelled contexts.
type TransportError struct {
	Service string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err was produced before any upstream response.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Doer executes a prepared request, enforcing an optional rate limit and
// turning non-2xx answers into *APIError.
type Doer struct {
	Service string
	Client  *http.Client
	Limiter *rate.Limiter
}

// Do sends req and returns the full response body. The body is returned
// alongside *APIError so callers can echo it back.
func (d *Doer) Do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return nil, 0, &TransportError{Service: d.Service, Op: "rate limit", Err: err}
		}
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Service: d.Service, Op: req.Method + " " + req.URL.Path, Err: redactURL(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Service: d.Service, Op: "read body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, &APIError{Service: d.Service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, resp.StatusCode, nil
}

// NewLimiter returns a token bucket limiter, or nil when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// redactURL drops the query string from *url.Error messages; the backend
// login call carries credentials there.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	if idx := strings.IndexByte(urlErr.URL, '?'); idx >= 0 {
		redacted := *urlErr
		redacted.URL = urlErr.URL[:idx]
		return &redacted
	}
	return err
}
