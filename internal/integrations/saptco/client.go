package saptco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"qrfare/backend/internal/integrations/upstream"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	ActionTypeQRPurchase = "QR_PURCHASE"
	DefaultQRFormat      = "V8"

	loginPath   = "/login"
	checkPath   = "/api/v1/payments/3ds/check"
	confirmPath = "/api/v1/payments/3ds/confirm"

	userAgent = "QRFareBackend/1.0"
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	QRFormat string
	Timeout  time.Duration
}

// Client talks to the ticketing backend. Login stores the backend session
// cookie in the client's jar; every later call reuses it.
type Client struct {
	baseURL  string
	username string
	password string
	qrFormat string
	doer     *upstream.Doer
	logger   *slog.Logger
}

type ThreeDSRequest struct {
	FareID     string
	SuccessURL string
	FailURL    string
}

type threeDSCheckPayload struct {
	URL           string        `json:"url"`
	FailURL       string        `json:"failUrl"`
	Event         threeDSEvent  `json:"event"`
	ActionType    string        `json:"actionType"`
	PaymentParams paymentParams `json:"paymentParams"`
}

type threeDSEvent struct {
	FareID string `json:"fareId"`
}

type paymentParams struct {
	QRFormat string `json:"qrFormat"`
}

type threeDSCheckResponse struct {
	URL string `json:"url"`
}

type confirmPayload struct {
	OrderNumber string `json:"ordernumber"`
}

// NewClient builds a backend client. httpClient may be nil; when given, its
// cookie jar is replaced only if it has none.
func NewClient(cfg Config, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) (*Client, error) {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if httpClient.Jar == nil {
		jar, err := newCookieJar()
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("saptco base url is required")
	}
	qrFormat := strings.TrimSpace(cfg.QRFormat)
	if qrFormat == "" {
		qrFormat = DefaultQRFormat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Password,
		qrFormat: qrFormat,
		doer:     &upstream.Doer{Service: "saptco", Client: httpClient, Limiter: limiter},
		logger:   logger,
	}, nil
}

// NewSession returns a copy of the client with an empty cookie jar, so one
// purchase or callback flow cannot see or replace another flow's backend
// session. Transport, rate limiter and credentials stay shared.
func (c *Client) NewSession() (*Client, error) {
	jar, err := newCookieJar()
	if err != nil {
		return nil, err
	}
	base := c.doer.Client
	session := *c
	session.doer = &upstream.Doer{
		Service: c.doer.Service,
		Client: &http.Client{
			Transport:     base.Transport,
			CheckRedirect: base.CheckRedirect,
			Timeout:       base.Timeout,
			Jar:           jar,
		},
		Limiter: c.doer.Limiter,
	}
	return &session, nil
}

func newCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// Login opens a backend session with the configured credentials.
func (c *Client) Login(ctx context.Context) error {
	if strings.TrimSpace(c.username) == "" || c.password == "" {
		return fmt.Errorf("saptco credentials are required")
	}
	query := url.Values{}
	query.Set("username", c.username)
	query.Set("password", c.password)

	req, err := c.newRequest(ctx, http.MethodPost, loginPath+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	_, status, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	c.logger.Debug("saptco_api_response", "path", loginPath, "status", status)
	return nil
}

// Initiate3DS starts a 3-D Secure purchase for one fare and returns the URL of
// the hosted payment script the browser must load.
func (c *Client) Initiate3DS(ctx context.Context, in ThreeDSRequest) (string, []byte, error) {
	if strings.TrimSpace(in.FareID) == "" {
		return "", nil, fmt.Errorf("fare id is required")
	}
	payload, err := json.Marshal(threeDSCheckPayload{
		URL:           strings.TrimSpace(in.SuccessURL),
		FailURL:       strings.TrimSpace(in.FailURL),
		Event:         threeDSEvent{FareID: strings.TrimSpace(in.FareID)},
		ActionType:    ActionTypeQRPurchase,
		PaymentParams: paymentParams{QRFormat: c.qrFormat},
	})
	if err != nil {
		return "", nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, checkPath, payload)
	if err != nil {
		return "", nil, err
	}
	body, status, err := c.doer.Do(ctx, req)
	if err != nil {
		return "", body, err
	}
	c.logger.Debug("saptco_api_response", "path", checkPath, "status", status)

	var resp threeDSCheckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", body, fmt.Errorf("decode 3ds check response: %w", err)
	}
	scriptURL := strings.TrimSpace(resp.URL)
	if scriptURL == "" {
		return "", body, fmt.Errorf("3ds check response missing url")
	}
	return scriptURL, body, nil
}

// Confirm asks the backend to settle the sale identified by orderNumber and
// returns the raw response body for interpretation.
func (c *Client) Confirm(ctx context.Context, orderNumber string) ([]byte, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, fmt.Errorf("ordernumber is required")
	}
	payload, err := json.Marshal(confirmPayload{OrderNumber: orderNumber})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, confirmPath, payload)
	if err != nil {
		return nil, err
	}
	body, status, err := c.doer.Do(ctx, req)
	if err != nil {
		return body, err
	}
	c.logger.Debug("saptco_api_response", "path", confirmPath, "status", status, "ordernumber", orderNumber)
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, pathAndQuery string, payload []byte) (*http.Request, error) {
	var req *http.Request
	var err error
	if len(payload) > 0 {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, bytes.NewReader(payload))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", userAgent)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
