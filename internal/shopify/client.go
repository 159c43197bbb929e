// Package shopify is a minimal Shopify Admin REST client shared by the record store and promo adapters.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultAPIVersion is the Admin API version used when none is configured.
const DefaultAPIVersion = "2023-10"

// Config holds shop credentials. It is passed in at construction; nothing is read from globals.
type Config struct {
	ShopName          string
	AccessToken       string
	APIVersion        string
	RequestsPerSecond float64
	Burst             int
	// BaseURL overrides https://{shop}.myshopify.com (tests).
	BaseURL    string
	HTTPClient *http.Client
}

// StatusError is a non-2xx Admin API response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shopify %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Transient reports whether the request may succeed if retried.
func (e *StatusError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client performs authenticated, throttled Admin API calls.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates an Admin API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.myshopify.com", cfg.ShopName)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/") + "/admin/api/" + version,
		token:   cfg.AccessToken,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
// Non-2xx responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shopify %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("shopify request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// NumericID returns the trailing segment of a Shopify GID (gid://shopify/Customer/123 -> 123).
// Other ids are returned trimmed.
func NumericID(id string) string {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "gid://") {
		return id
	}
	return id[strings.LastIndex(id, "/")+1:]
}
