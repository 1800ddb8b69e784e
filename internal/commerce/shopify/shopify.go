package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/ratelimit"
)

const (
	// MaxPageLimit is the largest page size the order listing endpoint accepts.
	MaxPageLimit = 150

	accessTokenHeader = "X-Shopify-Access-Token"
	callLimitHeader   = "X-Shopify-Shop-Api-Call-Limit"
)

// Config holds upstream client configuration.
type Config struct {
	// BaseURL overrides https://{shop_domain}; used for proxies and tests.
	BaseURL            string        `mapstructure:"base_url"`
	APIVersion         string        `mapstructure:"api_version"`
	PageLimit          int           `mapstructure:"page_limit"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	RateLimitDelay     time.Duration `mapstructure:"rate_limit_delay"`
	MaxRateLimitRetry  int           `mapstructure:"max_rate_limit_retries"`
	// MaxCursorRestarts of 0 uses the default; a negative value fails the
	// window on the first stale cursor.
	MaxCursorRestarts  int           `mapstructure:"max_cursor_restarts"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		APIVersion:         "2024-01",
		PageLimit:          MaxPageLimit,
		HTTPTimeout:        30 * time.Second,
		MinRequestInterval: time.Second,
		RateLimitDelay:     5 * time.Second,
		MaxCursorRestarts:  3,
	}
}

// RetryPolicy returns the retry policy described by the config.
func (c *Config) RetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if c.RateLimitDelay > 0 {
		p.RateLimitDelay = c.RateLimitDelay
	}
	if c.MaxRateLimitRetry > 0 {
		p.MaxRateLimitRetries = c.MaxRateLimitRetry
	}
	switch {
	case c.MaxCursorRestarts > 0:
		p.MaxCursorRestarts = c.MaxCursorRestarts
	case c.MaxCursorRestarts < 0:
		p.MaxCursorRestarts = 0
	}
	return p
}

// Client lists orders from the upstream commerce API.
type Client struct {
	c     *Config
	cli   *resty.Client
	pacer *ratelimit.Pacer
	retry RetryPolicy
}

// New creates a client. All requests for one account go through pacer.
func New(c *Config, pacer *ratelimit.Pacer, retry RetryPolicy) *Client {
	if c == nil {
		dc := DefaultConfig()
		c = &dc
	}
	if c.APIVersion == "" {
		c.APIVersion = "2024-01"
	}
	if c.PageLimit <= 0 || c.PageLimit > MaxPageLimit {
		c.PageLimit = MaxPageLimit
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if pacer == nil {
		pacer = ratelimit.NewPacer(c.MinRequestInterval)
	}
	if retry.RetryableStatus == nil {
		retry.RetryableStatus = DefaultRetryPolicy().RetryableStatus
	}

	cli := resty.New()
	cli.SetTimeout(c.HTTPTimeout)
	cli.SetHeader("Accept", "application/json")

	return &Client{
		c:     c,
		cli:   cli,
		pacer: pacer,
		retry: retry,
	}
}

// ListOrders returns every order, of any status, created inside w.
// A stale cursor restarts the window from the first page and discards what
// was collected so far; at most RetryPolicy.MaxCursorRestarts restarts are made.
func (c *Client) ListOrders(ctx context.Context, acc *entity.Account, w entity.FetchWindow) ([]entity.Order, error) {
	for restarts := 0; ; restarts++ {
		orders, err := c.collect(ctx, acc, w)
		if err == nil {
			return orders, nil
		}
		if !errors.Is(err, ErrStaleCursor) {
			return nil, err
		}
		if restarts >= c.retry.MaxCursorRestarts {
			return nil, fmt.Errorf("pagination restarted %d times: %w", restarts, err)
		}
		slog.Default().WarnContext(ctx, "stale pagination cursor, restarting window",
			slog.String("account_id", acc.Id),
			slog.Time("window_start", w.Start),
			slog.Int("restart", restarts+1),
		)
	}
}

func (c *Client) collect(ctx context.Context, acc *entity.Account, w entity.FetchWindow) ([]entity.Order, error) {
	var orders []entity.Order
	pager := c.Pages(acc, w)
	for pager.Next(ctx) {
		orders = append(orders, pager.Page().Orders...)
	}
	if err := pager.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// ShopTimezone returns the IANA timezone configured for the shop.
func (c *Client) ShopTimezone(ctx context.Context, acc *entity.Account) (string, error) {
	resp, err := c.get(ctx, acc, "shop.json", nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newStatusError(resp)
	}

	var res struct {
		Shop *struct {
			IanaTimezone string `json:"iana_timezone"`
		} `json:"shop"`
	}
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return "", &MalformedResponseError{URL: resp.Request.URL, Err: err}
	}
	if res.Shop == nil || res.Shop.IanaTimezone == "" {
		return "", &MalformedResponseError{URL: resp.Request.URL, Err: errors.New("missing shop.iana_timezone")}
	}
	return res.Shop.IanaTimezone, nil
}

func (c *Client) endpoint(acc *entity.Account, resource string) string {
	base := c.c.BaseURL
	if base == "" {
		base = "https://" + acc.ShopDomain
	}
	return fmt.Sprintf("%s/admin/api/%s/%s", strings.TrimRight(base, "/"), c.c.APIVersion, resource)
}

// get sends one paced GET request, waiting and retrying on retryable statuses.
func (c *Client) get(ctx context.Context, acc *entity.Account, resource string, params map[string]string) (*resty.Response, error) {
	url := c.endpoint(acc, resource)
	for attempt := 1; ; attempt++ {
		release, err := c.pacer.Acquire(ctx, acc.Id)
		if err != nil {
			return nil, err
		}
		resp, err := c.cli.R().
			SetContext(ctx).
			SetHeader(accessTokenHeader, acc.AccessToken).
			SetQueryParams(params).
			Get(url)
		release()
		if err != nil {
			return nil, fmt.Errorf("failed to make GET request to %s: %w", url, err)
		}

		if limit := resp.Header().Get(callLimitHeader); limit != "" {
			slog.Default().DebugContext(ctx, "upstream call limit",
				slog.String("account_id", acc.Id),
				slog.String("call_limit", limit),
			)
		}

		if !c.retry.Retryable(resp.StatusCode()) {
			return resp, nil
		}
		if c.retry.MaxRateLimitRetries > 0 && attempt > c.retry.MaxRateLimitRetries {
			return nil, fmt.Errorf("rate limit retries exhausted after %d attempts: %w", attempt, newStatusError(resp))
		}

		slog.Default().WarnContext(ctx, "upstream rate limited, retrying",
			slog.String("account_id", acc.Id),
			slog.String("url", url),
			slog.Int("status", resp.StatusCode()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", c.retry.RateLimitDelay),
		)
		if err := sleep(ctx, c.retry.RateLimitDelay); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
