// Package fetch implements the outbound fetch orchestrator: redirect
// walking with cycle detection, bounded retries with exponential backoff,
// and transparent decompression of upstream bodies.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lensproxy/lens/internal/proxy/proxyerr"
)

// Options controls a single logical fetch.
type Options struct {
	Method       string
	Headers      map[string]string
	Body         []byte
	MaxRedirects int
	RetryCount   int
	Timeout      time.Duration
	BackoffBase  time.Duration
}

// DefaultOptions returns the fetch defaults.
func DefaultOptions() Options {
	return Options{
		Method:       http.MethodGet,
		MaxRedirects: 10,
		RetryCount:   3,
		Timeout:      30 * time.Second,
		BackoffBase:  500 * time.Millisecond,
	}
}

// Result is the outcome of a fetch after redirects and decompression.
type Result struct {
	Body        []byte
	Status      int
	Header      http.Header
	ContentType string
	FinalURL    string
	Redirects   []string
}

// browserHeaders is the default outbound header template. Individual calls
// may override any of these through Options.Headers.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
}

// Client performs outbound fetches on behalf of the proxy.
type Client struct {
	resty    *resty.Client
	logger   *zap.Logger
	defaults Options
	onRetry  func()
}

// New creates a fetch client. The underlying transport comes from
// retryablehttp's pooled client; the orchestrator drives its own retry loop
// so attempt counting and backoff stay under its control, and resty-level
// retries and redirect following are disabled for the same reason.
func New(defaults Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Method == "" {
		defaults.Method = http.MethodGet
	}

	transport := retryablehttp.NewClient()
	transport.RetryMax = 0
	transport.Logger = nil

	// Timeouts ride on per-attempt contexts instead of a client-wide
	// deadline so callers can vary them per fetch.
	rc := resty.New().
		SetTransport(transport.HTTPClient.Transport).
		SetRetryCount(0).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			// Surface 3xx responses to the orchestrator instead of following.
			return http.ErrUseLastResponse
		})).
		SetDisableWarn(true)

	return &Client{resty: rc, logger: logger, defaults: defaults}
}

// WithRetryHook installs a callback invoked before each retry attempt.
func (c *Client) WithRetryHook(fn func()) *Client {
	c.onRetry = fn
	return c
}

// Fetch resolves the target URL, following redirects and retrying transport
// failures per Options. The returned Result carries the decompressed body
// and the final resolved URL.
func (c *Client) Fetch(ctx context.Context, target string, opts Options) (*Result, error) {
	opts = c.merge(opts)

	visited := make(map[string]bool)
	chain := make([]string, 0, 4)
	current := target
	method := opts.Method
	body := opts.Body
	redirects := 0

	for {
		if visited[current] {
			return nil, fmt.Errorf("%w: %s revisits %v", proxyerr.ErrCircularRedirect, current, chain)
		}
		visited[current] = true
		chain = append(chain, current)

		resp, err := c.attempt(ctx, method, current, body, opts)
		if err != nil {
			return nil, err
		}

		status := resp.StatusCode()
		location := resp.Header().Get("Location")
		if status >= 300 && status < 400 && location != "" {
			redirects++
			if redirects > opts.MaxRedirects {
				return nil, fmt.Errorf("%w: limit %d exceeded at %s", proxyerr.ErrTooManyRedirects, opts.MaxRedirects, current)
			}

			next, err := resolveLocation(current, location)
			if err != nil {
				return nil, fmt.Errorf("%w: bad Location %q: %v", proxyerr.ErrMalformedUpstream, location, err)
			}

			// Browsers demote to GET on 301/302/303; 307/308 keep the method.
			if status != http.StatusTemporaryRedirect && status != http.StatusPermanentRedirect {
				method = http.MethodGet
				body = nil
			}

			c.logger.Debug("following redirect",
				zap.String("from", current),
				zap.String("to", next),
				zap.Int("status", status),
			)
			current = next
			continue
		}

		decoded, err := decode(resp.Body(), resp.Header().Get("Content-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", proxyerr.ErrMalformedUpstream, err)
		}

		header := resp.Header().Clone()
		if decoded.consumed {
			// Encodings undone here disappear from the header; any the
			// walk could not undo stay declared for the client.
			if decoded.remaining != "" {
				header.Set("Content-Encoding", decoded.remaining)
			} else {
				header.Del("Content-Encoding")
			}
			header.Del("Content-Length")
		}

		return &Result{
			Body:        decoded.data,
			Status:      status,
			Header:      header,
			ContentType: header.Get("Content-Type"),
			FinalURL:    current,
			Redirects:   chain,
		}, nil
	}
}

// attempt issues one logical request with up to RetryCount attempts. Only
// transport failures (connect errors, timeouts) are retried; any received
// HTTP response, whatever its status, ends the loop.
func (c *Client) attempt(ctx context.Context, method, target string, body []byte, opts Options) (*resty.Response, error) {
	var lastErr error

	for i := 0; i < opts.RetryCount; i++ {
		if i > 0 {
			if c.onRetry != nil {
				c.onRetry()
			}
			delay := opts.BackoffBase * (1 << (i - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", proxyerr.ErrUpstreamUnreachable, ctx.Err())
			}
		}

		// Each attempt gets its own deadline; it is not renewed by retries
		// beyond the fresh per-attempt window.
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)

		req := c.resty.R().SetContext(attemptCtx)
		for k, v := range browserHeaders {
			req.SetHeader(k, v)
		}
		for k, v := range opts.Headers {
			req.SetHeader(k, v)
		}
		if len(body) > 0 {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, target)
		cancel()
		if err == nil {
			return resp, nil
		}

		lastErr = err
		c.logger.Debug("fetch attempt failed",
			zap.String("url", target),
			zap.Int("attempt", i+1),
			zap.Int("max", opts.RetryCount),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s: %v", proxyerr.ErrUpstreamUnreachable, target, lastErr)
}

func (c *Client) merge(opts Options) Options {
	if opts.Method == "" {
		opts.Method = c.defaults.Method
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = c.defaults.MaxRedirects
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = c.defaults.RetryCount
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.defaults.Timeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = c.defaults.BackoffBase
	}
	return opts
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
