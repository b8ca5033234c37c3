// Package kbb fetches reference pricing pages and merges what they contain
// into the pricing cache.
package kbb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/observability"
)

var (
	// ErrNoData means the source has no value for the request. It is a
	// permanent answer and is recorded in the cache.
	ErrNoData = errors.New("no reference data available")

	// ErrNavigationTimeout means the page did not load in time. It is retried
	// once and never cached.
	ErrNavigationTimeout = errors.New("navigation timeout")
)

const (
	DefaultBaseURL    = "https://www.kbb.com"
	DefaultTimeout    = 30 * time.Second
	DefaultRetryDelay = 2 * time.Second
	defaultUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// timeouts are retried exactly once
	maxTimeoutRetries = 1
)

// Config configures a Client. A zero RetryDelay retries a timed out page
// immediately.
type Config struct {
	BaseURL    string
	ZipCode    string
	Timeout    time.Duration
	RetryDelay time.Duration
	UserAgent  string
}

// Client fetches reference pricing pages over HTTP.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *observability.Logger
}

// NewClient creates a client. An empty BaseURL, Timeout or UserAgent takes
// the default.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml")

	return &Client{http: hc, cfg: cfg, logger: logger}
}

// ZipCode is the zip code local prices are requested for.
func (c *Client) ZipCode() string {
	return c.cfg.ZipCode
}

// page fetches path and parses it as HTML. A navigation timeout is retried
// once after RetryDelay. The returned URL is the final one, for audit.
func (c *Client) page(ctx context.Context, path string, query map[string]string) (*goquery.Document, string, error) {
	type loaded struct {
		doc *goquery.Document
		url string
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), maxTimeoutRetries),
		ctx,
	)
	attempt := 0
	res, err := backoff.RetryNotifyWithData(func() (loaded, error) {
		attempt++
		doc, url, err := c.pageOnce(ctx, path, query)
		if err != nil && !errors.Is(err, ErrNavigationTimeout) {
			return loaded{}, backoff.Permanent(err)
		}
		return loaded{doc: doc, url: url}, err
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn().
			Str("path", path).
			Int("attempt", attempt).
			Dur("wait", wait).
			Err(err).
			Msg("Page load timed out, retrying")
	})
	if err != nil {
		return nil, "", err
	}
	return res.doc, res.url, nil
}

func (c *Client) pageOnce(ctx context.Context, path string, query map[string]string) (*goquery.Document, string, error) {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	res, err := req.Get(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		if isTimeout(err) {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrNavigationTimeout, path, err)
		}
		return nil, "", fmt.Errorf("fetch %s: %w", path, err)
	}

	url := path
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		url = res.RawResponse.Request.URL.String()
	}

	switch code := res.StatusCode(); {
	case code == http.StatusNotFound || code == http.StatusGone:
		return nil, url, fmt.Errorf("%w: %s", ErrNoData, url)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return nil, url, fmt.Errorf("%w: %s: HTTP %d", ErrNavigationTimeout, url, code)
	case code < 200 || code >= 300:
		return nil, url, fmt.Errorf("fetch %s: HTTP %d", url, code)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, url, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, url, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ModelSlug resolves the model path segment the source uses by following
// the VIN lookup redirect, trying each VIN in turn.
func (c *Client) ModelSlug(ctx context.Context, vins []string) (string, error) {
	var errs []error
	for _, vin := range vins {
		if strings.TrimSpace(vin) == "" {
			continue
		}
		_, url, err := c.page(ctx, "/whats-my-car-worth/vin/"+URLSafe(vin)+"/", nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if slug, ok := slugFromURL(url); ok {
			return slug, nil
		}
		errs = append(errs, fmt.Errorf("vin %s: no model in %s", vin, url))
	}
	return "", fmt.Errorf("%w: no model slug from vins %v: %v", ErrNoData, vins, errors.Join(errs...))
}

// slugFromURL reads the model segment of "/{make}/{model}/{year}/...".
func slugFromURL(raw string) (string, bool) {
	path := raw
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j:]
		} else {
			path = ""
		}
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "whats-my-car-worth" || parts[1] == "" {
		return "", false
	}
	return URLSafe(parts[1]), true
}

// StylesPage fetches the styles page of a model year.
func (c *Client) StylesPage(ctx context.Context, vehicleMake, slug, year string) (*StylesPayload, string, error) {
	path := fmt.Sprintf("/%s/%s/%s/styles/", URLSafe(vehicleMake), slug, year)
	doc, url, err := c.page(ctx, path, map[string]string{"intent": "trade-in-sell", "mileage": "1"})
	if err != nil {
		return nil, "", err
	}
	payload, err := ParseStylesPage(doc)
	if err != nil {
		return nil, url, fmt.Errorf("%s: %w", url, err)
	}
	return payload, url, nil
}

// PricingTable fetches the national MSRP and fair purchase price table of a
// model year.
func (c *Client) PricingTable(ctx context.Context, vehicleMake, slug, year string) ([]PricingRow, string, error) {
	path := fmt.Sprintf("/%s/%s/%s/", URLSafe(vehicleMake), slug, year)
	doc, url, err := c.page(ctx, path, nil)
	if err != nil {
		return nil, "", err
	}
	rows := ParsePricingTable(doc)
	if len(rows) == 0 {
		return nil, url, fmt.Errorf("%w: no pricing rows at %s", ErrNoData, url)
	}
	return rows, url, nil
}

// ResaleValue fetches the resale value of one style.
func (c *Client) ResaleValue(ctx context.Context, vehicleMake, slug, year, style string) (int, string, error) {
	path := fmt.Sprintf("/%s/%s/%s/%s/", URLSafe(vehicleMake), slug, year, URLSafe(style))
	doc, url, err := c.page(ctx, path, nil)
	if err != nil {
		return 0, "", err
	}
	v, err := ParseResaleValue(doc)
	if err != nil {
		return 0, url, fmt.Errorf("%s: %w", url, err)
	}
	return v, url, nil
}

// LocalPricing fetches the local fair purchase price and fair market range
// of one style for the configured zip code.
func (c *Client) LocalPricing(ctx context.Context, vehicleMake, slug, year, style string) (LocalPrices, string, error) {
	path := fmt.Sprintf("/%s/%s/%s/%s/", URLSafe(vehicleMake), slug, year, URLSafe(style))
	query := map[string]string{"intent": "buy-used"}
	if c.cfg.ZipCode != "" {
		query["zipcode"] = c.cfg.ZipCode
	}
	doc, url, err := c.page(ctx, path, query)
	if err != nil {
		return LocalPrices{}, "", err
	}
	lp, err := ParseLocalPricing(doc)
	if err != nil {
		return LocalPrices{}, url, fmt.Errorf("%s: %w", url, err)
	}
	return lp, url, nil
}

var (
	urlUnsafe  = regexp.MustCompile(`[^a-z0-9_]+`)
	urlReplace = strings.NewReplacer("/", "-", "+", "_plus")
)

// URLSafe turns a make, model or style name into a path segment.
func URLSafe(s string) string {
	s = urlReplace.Replace(strings.ToLower(strings.TrimSpace(s)))
	s = urlUnsafe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
