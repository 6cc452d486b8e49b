package domain

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"tiktokmodcloud/internal/netx"
)

// rewriteTransport sends every request to the test server and keeps the
// requested host in X-Original-Host for routing.
type rewriteTransport struct {
	base   http.RoundTripper
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Original-Host", req.URL.Host)
	u := *clone.URL
	u.Scheme = t.target.Scheme
	u.Host = t.target.Host
	clone.URL = &u
	clone.Host = t.target.Host
	return t.base.RoundTrip(clone)
}

func newMockNetClient(t *testing.T, handler http.HandlerFunc) (*netx.Client, func()) {
	t.Helper()
	s := httptest.NewTLSServer(handler)
	target, err := url.Parse(s.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	httpClient := s.Client()
	httpClient.Timeout = 2 * time.Second
	httpClient.Jar = jar
	httpClient.Transport = &rewriteTransport{base: httpClient.Transport, target: target}
	return netx.NewClientWithHTTPClient(httpClient, netx.RetryOptions{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}), s.Close
}

type fetchCall struct {
	url     string
	referer string
}

// fakePages serves pages keyed by requested URL. A page with an empty URL
// resolves to the requested URL.
type fakePages struct {
	mu    sync.Mutex
	pages map[string]netx.Page
	calls []fetchCall
}

func (f *fakePages) FetchPage(ctx context.Context, rawURL, referer string, attempts int) (netx.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{url: rawURL, referer: referer})
	p, ok := f.pages[rawURL]
	if !ok {
		return netx.Page{}, &netx.FetchError{URL: rawURL, Reason: "server responded with 404: Not Found"}
	}
	if p.URL == "" {
		p.URL = rawURL
	}
	return p, nil
}

type fakeSolver struct {
	token   string
	err     error
	siteKey string
	pageURL string
}

func (f *fakeSolver) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	f.siteKey = siteKey
	f.pageURL = pageURL
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}
