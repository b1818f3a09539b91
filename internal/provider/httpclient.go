package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/devblac/chain-statement/internal/transfer"
)

const maxResponseBytes = 32 << 20

// httpConfig holds settings for the provider HTTP client.
type httpConfig struct {
	timeout      time.Duration
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	retryMax     int
}

// HTTPOption configures the provider HTTP client.
type HTTPOption func(*httpConfig)

// NewHTTPClient returns a retryablehttp.Client. Defaults: 15s timeout, two
// retries with 1s to 5s backoff.
func NewHTTPClient(opts ...HTTPOption) *retryablehttp.Client {
	cfg := httpConfig{
		timeout:      15 * time.Second,
		retryWaitMin: 1 * time.Second,
		retryWaitMax: 5 * time.Second,
		retryMax:     2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.timeout
	client.RetryWaitMin = cfg.retryWaitMin
	client.RetryWaitMax = cfg.retryWaitMax
	client.RetryMax = cfg.retryMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// WithHTTPTimeout sets the maximum duration of a single HTTP attempt.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryMax sets the number of retries for 5xx, 429 and transport errors.
func WithRetryMax(n int) HTTPOption {
	return func(c *httpConfig) { c.retryMax = n }
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(minWait, maxWait time.Duration) HTTPOption {
	return func(c *httpConfig) {
		c.retryWaitMin = minWait
		c.retryWaitMax = maxWait
	}
}

// getJSON issues a GET and decodes a 2xx body into out. Every failure wraps
// transfer.ErrProviderUnavailable.
func getJSON(ctx context.Context, client *retryablehttp.Client, endpoint string, query url.Values, header http.Header, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", transfer.ErrProviderUnavailable, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", transfer.ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		// url.Error carries the full URL, query string and API key included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%w: %s: %v", transfer.ErrProviderUnavailable, u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d", transfer.ErrProviderUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", transfer.ErrProviderUnavailable, err)
	}
	return nil
}
