package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultUserAgent matches the default browser profile.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config bundles everything that shapes the HTTP client: browser fingerprint,
// redirect policy, timeout and retry policy.
type Config struct {
	// Profile names a tls-client browser profile (e.g. "chrome_124"). Empty
	// selects the plain Go transport.
	Profile      string
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	Retry        RetryOptions
}

// AttemptOutcome classifies one fetch attempt.
type AttemptOutcome string

const (
	OutcomeSuccess      AttemptOutcome = "success"
	OutcomeHTTPError    AttemptOutcome = "http_error"
	OutcomeNetworkError AttemptOutcome = "network_error"
)

// FetchAttempt describes a single attempt inside FetchWithRetry.
type FetchAttempt struct {
	URL     string
	Referer string
	Attempt int
	Outcome AttemptOutcome
	Reason  string
}

// FetchError is returned when every attempt of FetchWithRetry failed.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is a fetched HTML document together with the URL it resolved to after
// redirects.
type Page struct {
	URL  string
	Body string
}

// Client wraps an http.Client with cookie persistence, bounded redirects and
// retry behavior.
type Client struct {
	httpClient *http.Client
	retry      RetryOptions
	userAgent  string
	observer   func(FetchAttempt)
}

// NewClient builds a Client from cfg.
//
// A non-positive timeout becomes 30 seconds and a non-positive MaxRedirects
// becomes 10. Every client owns a fresh cookie jar.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	var tr http.RoundTripper
	if cfg.Profile != "" {
		tr, err = NewBrowserTransport(cfg.Profile, cfg.Timeout)
		if err != nil {
			return nil, err
		}
	} else {
		tr = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:       cfg.Timeout,
			Transport:     tr,
			Jar:           jar,
			CheckRedirect: limitRedirects(cfg.MaxRedirects),
		},
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
	}, nil
}

// NewClientWithHTTPClient builds a Client from an existing http.Client.
//
// A nil client is replaced with a default client, and a non-positive timeout is
// normalized to 30 seconds.
func NewClientWithHTTPClient(httpClient *http.Client, retry RetryOptions) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		retry:      retry,
		userAgent:  DefaultUserAgent,
	}
}

// SetAttemptObserver registers fn to receive every FetchWithRetry attempt.
func (c *Client) SetAttemptObserver(fn func(FetchAttempt)) {
	c.observer = fn
}

// Jar exposes the cookie store shared by every request of this client.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// FetchWithRetry performs a GET with the Referer header attached and retries
// until a 2xx response arrives or attempts run out.
//
// A non-positive attempts value uses the client's retry policy. Every failed
// attempt is logged at warning level. Exhaustion yields *FetchError carrying
// the last failure reason. The caller owns the returned body.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL, referer string, attempts int) (*http.Response, error) {
	opts := c.retry
	if attempts > 0 {
		opts.Attempts = attempts
	}
	opts.Notify = func(attempt int, err error, delay time.Duration) {
		slog.Warn("Attempt failed",
			"attempt", attempt,
			"url", rawURL,
			"error", err,
			"retry_delay_ms", delay.Milliseconds(),
		)
	}

	resp, err := RetryOperation(ctx, opts, func(attempt int) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &permanentError{err: err}
		}
		c.decorate(req)
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &permanentError{err: ctxErr}
			}
			c.observe(FetchAttempt{URL: rawURL, Referer: referer, Attempt: attempt, Outcome: OutcomeNetworkError, Reason: err.Error()})
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			reason := fmt.Sprintf("server responded with %d: %s", resp.StatusCode, statusReason(resp.StatusCode))
			c.observe(FetchAttempt{URL: rawURL, Referer: referer, Attempt: attempt, Outcome: OutcomeHTTPError, Reason: reason})
			return nil, errors.New(reason)
		}
		c.observe(FetchAttempt{URL: rawURL, Referer: referer, Attempt: attempt, Outcome: OutcomeSuccess})
		return resp, nil
	})
	if err != nil {
		err = unwrapPermanent(err)
		return nil, &FetchError{URL: rawURL, Reason: err.Error(), Err: err}
	}
	return resp, nil
}

// FetchPage runs FetchWithRetry and reads the whole body as text.
//
// Page.URL is the URL of the final response after redirects.
func (c *Client) FetchPage(ctx context.Context, rawURL, referer string, attempts int) (Page, error) {
	resp, err := c.FetchWithRetry(ctx, rawURL, referer, attempts)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return Page{URL: FinalURL(resp, rawURL), Body: string(b)}, nil
}

// Do executes req, retrying transient transport errors and HTTP 5xx/429
// responses with the client's retry policy.
//
// Requests with a body must be replayable through req.GetBody, which
// http.NewRequest sets for in-memory readers.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.decorate(req)
	ctx := req.Context()
	resp, err := RetryOperation(ctx, c.retry, func(attempt int) (*http.Response, error) {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &permanentError{err: err}
			}
			req.Body = body
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isRetryableError(err) {
				return nil, err
			}
			return nil, &permanentError{err: err}
		}
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("retryable status: %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, unwrapPermanent(err)
	}
	return resp, nil
}

// DoOnce executes req exactly once, returning any response regardless of
// status.
func (c *Client) DoOnce(req *http.Request) (*http.Response, error) {
	c.decorate(req)
	return c.httpClient.Do(req)
}

// PostJSON encodes payload as JSON and POSTs it once with the given headers.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, payload any) (*http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoOnce(req)
}

// FinalURL returns the URL of the request that produced resp, which differs
// from the requested URL when redirects were followed.
func FinalURL(resp *http.Response, fallback string) string {
	if resp != nil && resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return fallback
}

func (c *Client) decorate(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
}

func (c *Client) observe(a FetchAttempt) {
	if c.observer != nil {
		c.observer(a)
	}
}

func limitRedirects(max int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

func statusReason(code int) string {
	if s := http.StatusText(code); s != "" {
		return s
	}
	return "Unknown Status"
}

type permanentError struct{ err error }

// permanentError marks failures that should bypass retry logic.
func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func unwrapPermanent(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if nerr, ok := err.(net.Error); ok {
		return nerr.Timeout() || nerr.Temporary()
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection reset") || strings.Contains(s, "timeout") || strings.Contains(s, "eof")
}
