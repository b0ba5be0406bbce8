// Package client provides the helpdesk HTTP client with quota tracking,
// retries, an optional page cache and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zdtools/zdexport/pkg/cache"
	"github.com/zdtools/zdexport/pkg/logging"
	"github.com/zdtools/zdexport/pkg/ratelimit"
)

// DefaultTimeout bounds every single HTTP attempt.
const DefaultTimeout = 30 * time.Second

// Client is the helpdesk API client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	baseURL    string
	account    string
	config     Config
	logger     zerolog.Logger

	// timer drives the retry waits; nil uses a real timer.
	timer backoff.Timer
}

// Config holds the client configuration.
type Config struct {
	// Subdomain selects https://{subdomain}.zendesk.com/api/v2.
	Subdomain string

	// BaseURL overrides the URL derived from Subdomain (tests, proxies).
	BaseURL string

	// Email and APIToken form the basic auth user "{email}/token".
	Email    string
	APIToken string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// RequestsPerMinute is a client side ceiling. Zero disables it.
	RequestsPerMinute int

	// RequestBurst is the number of requests allowed back to back.
	RequestBurst int

	// Retry controls backoff for 429, 5xx and network failures.
	Retry RetryConfig

	// Tracker gates requests on the server reported quota.
	// Nil creates an in-memory tracker.
	Tracker *ratelimit.Tracker

	// Cache stores successful GET pages. Nil disables caching.
	Cache *cache.Manager

	// HTTPClient replaces the default http.Client. Timeout is not applied to it.
	HTTPClient *http.Client

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(subdomain, email, token string) Config {
	return Config{
		Subdomain:         subdomain,
		Email:             email,
		APIToken:          token,
		UserAgent:         "zdexport/1.0",
		Timeout:           DefaultTimeout,
		RequestsPerMinute: 200,
		RequestBurst:      10,
		Retry:             DefaultRetryConfig(),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is set when the body was served from the page cache.
	FromCache bool
}

// JSON decodes the body into v, keeping numbers as json.Number.
func (r *Response) JSON(v any) error {
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// New creates a new helpdesk client.
func New(cfg Config) (*Client, error) {
	if (cfg.Subdomain == "" && cfg.BaseURL == "") || cfg.Email == "" || cfg.APIToken == "" {
		return nil, ErrMissingCredentials
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.zendesk.com/api/v2", cfg.Subdomain)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	if cfg.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("requests_per_minute must be >= 0 (got %d)", cfg.RequestsPerMinute)
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if cfg.Retry.MaxBackoff < cfg.Retry.InitialBackoff {
		cfg.Retry.MaxBackoff = cfg.Retry.InitialBackoff
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		cfg.Retry.BackoffMultiplier = DefaultRetryConfig().BackoffMultiplier
	}

	logger := logging.NewLogger("client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	account := cfg.Subdomain
	if account == "" {
		account = u.Host
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, logger)
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		tracker:    tracker,
		cache:      cfg.Cache,
		baseURL:    baseURL,
		account:    account,
		config:     cfg,
		logger:     logger,
	}, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Account returns the subdomain (or host) used to scope shared state.
func (c *Client) Account() string {
	return c.account
}

// Get performs a GET request. target is a path relative to the API root or an
// absolute URL such as a next-page link.
func (c *Client) Get(ctx context.Context, target string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, target, query, nil)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, target string, query url.Values, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, target, query, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, target string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, target, query, nil)
}

// Do performs a request with quota gating, caching, retries and error handling.
// A final non-2xx response is returned as *APIError; when retries ran out the
// error also matches ErrRetryExhausted.
func (c *Client) Do(ctx context.Context, method, target string, query url.Values, body any) (*Response, error) {
	u, err := c.resolve(target, query)
	if err != nil {
		return nil, err
	}
	endpoint := u.String()

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	cacheable := c.cache != nil && method == http.MethodGet
	cacheKey := cache.KeyForURL(c.account, u)
	if cacheable {
		if resp := c.fromCache(ctx, cacheKey); resp != nil {
			return resp, nil
		}
	}

	var (
		resp     *Response
		attempts int
	)
	bo := c.config.Retry.newBackOff()

	operation := func() error {
		attempts++
		r, err := c.attempt(ctx, method, endpoint, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		apiErr := newAPIError(method, endpoint, r)
		errorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Str("method", method).
			Int("status", r.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Int("attempt", attempts).
			Msg("Helpdesk request error")

		if !apiErr.Retryable() {
			return backoff.Permanent(apiErr)
		}
		if apiErr.ErrorClass == ErrorClassRateLimit {
			if wait, ok := ratelimit.RetryAfter(r.Header); ok {
				bo.setRetryAfter(wait)
			}
		}
		return apiErr
	}

	notify := func(err error, wait time.Duration) {
		class := ClassOf(err)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())
		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("error_class", string(class)).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")
	}

	err = backoff.RetryNotifyWithTimer(operation, backoff.WithContext(bo, ctx), notify, c.timer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		class := ClassOf(err)
		if !shouldRetry(class) {
			return nil, err
		}
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		c.logger.Error().
			Err(err).
			Str("endpoint", endpoint).
			Str("error_class", string(class)).
			Int("attempts", attempts).
			Msg("Retry attempts exhausted")
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}

	if cacheable && resp.StatusCode == http.StatusOK {
		c.toCache(ctx, cacheKey, resp)
	}

	return resp, nil
}

// attempt sends one HTTP request. A returned error means no response was read.
func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte) (*Response, error) {
	if err := c.tracker.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.SetBasicAuth(c.config.Email+"/token", c.config.APIToken)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing helpdesk request")

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &NetworkError{Method: method, URL: endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &NetworkError{Method: method, URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	requestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

	if err := c.tracker.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// resolve joins a relative target onto the base URL and merges query.
func (c *Client) resolve(target string, query url.Values) (*url.URL, error) {
	raw := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		raw = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (c *Client) fromCache(ctx context.Context, key cache.CacheKey) *Response {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return nil
	}
	c.logger.Debug().Str("key", key.String()).Msg("Serving page from cache")
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header(),
		Body:       entry.Body,
		FromCache:  true,
	}
}

func (c *Client) toCache(ctx context.Context, key cache.CacheKey, resp *Response) {
	entry := cache.NewEntry(resp.StatusCode, resp.Header, resp.Body, c.cache.TTL())
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("Cached response")
}

// FetchPage implements pagination.PageFetcher. Non-2xx responses are reported
// through status and body so the pipeline can classify them.
func (c *Client) FetchPage(ctx context.Context, pageURL string, query url.Values) (int, []byte, error) {
	resp, err := c.Get(ctx, pageURL, query)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode, apiErr.Body, nil
		}
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}

// Count returns the approximate number of records of a resource using its
// count endpoint, e.g. /organizations/count.json.
func (c *Client) Count(ctx context.Context, resource string) (int64, error) {
	resp, err := c.Get(ctx, strings.Trim(resource, "/")+"/count.json", nil)
	if err != nil {
		return 0, err
	}

	var doc struct {
		Count struct {
			Value json.Number `json:"value"`
		} `json:"count"`
	}
	if err := resp.JSON(&doc); err != nil {
		return 0, err
	}
	if doc.Count.Value == "" {
		return 0, fmt.Errorf("count response for %s has no count.value", resource)
	}
	n, err := doc.Count.Value.Int64()
	if err != nil {
		return 0, fmt.Errorf("count response for %s: %w", resource, err)
	}
	return n, nil
}
