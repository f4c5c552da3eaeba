package oppwa

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qrfare/backend/internal/integrations/upstream"

	"golang.org/x/time/rate"
)

type Config struct {
	Host        string
	EntityID    string
	AccessToken string
	Timeout     time.Duration
}

// Client verifies hosted checkout payments on the OPPWA gateway.
type Client struct {
	host        string
	entityID    string
	accessToken string
	doer        *upstream.Doer
	logger      *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = "https://test.oppwa.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:        host,
		entityID:    strings.TrimSpace(cfg.EntityID),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		doer:        &upstream.Doer{Service: "oppwa", Client: httpClient, Limiter: limiter},
		logger:      logger,
	}
}

// VerifyHostedPayment fetches the payment status behind a callback
// resourcePath. The path arrives URL-encoded from the browser redirect.
func (c *Client) VerifyHostedPayment(ctx context.Context, resourcePath string) ([]byte, error) {
	target, err := c.verifyURL(resourcePath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	body, status, err := c.doer.Do(ctx, req)
	if err != nil {
		return body, err
	}
	c.logger.Debug("oppwa_api_response", "path", strings.SplitN(resourcePath, "?", 2)[0], "status", status)
	return body, nil
}

func (c *Client) verifyURL(resourcePath string) (string, error) {
	decoded, err := url.QueryUnescape(strings.TrimSpace(resourcePath))
	if err != nil {
		return "", fmt.Errorf("decode resourcePath: %w", err)
	}
	if decoded == "" {
		return "", fmt.Errorf("resourcePath is required")
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	target, err := url.Parse(c.host + decoded)
	if err != nil {
		return "", fmt.Errorf("build verify url: %w", err)
	}
	if c.entityID != "" {
		query := target.Query()
		if query.Get("entityId") == "" {
			query.Set("entityId", c.entityID)
			target.RawQuery = query.Encode()
		}
	}
	return target.String(), nil
}
