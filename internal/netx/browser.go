package netx

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

var browserHeaderOrder = []string{
	"accept",
	"accept-language",
	"content-type",
	"cookie",
	"referer",
	"user-agent",
	"x-csrf-token",
}

type fingerprintDoer interface {
	Do(req *fhttp.Request) (*fhttp.Response, error)
}

// browserTransport performs single round trips through a tls-client with a
// browser TLS/HTTP2 fingerprint. Redirects and cookies are left to the
// surrounding http.Client.
type browserTransport struct {
	client fingerprintDoer
}

// NewBrowserTransport builds an http.RoundTripper that impersonates the named
// browser profile (see profiles.MappedTLSClients for valid names).
func NewBrowserTransport(profile string, timeout time.Duration) (http.RoundTripper, error) {
	p, ok := profiles.MappedTLSClients[strings.ToLower(profile)]
	if !ok {
		return nil, fmt.Errorf("unknown browser profile: %s", profile)
	}
	secs := int(timeout / time.Second)
	if secs <= 0 {
		secs = 30
	}
	c, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(secs),
		tls_client.WithClientProfile(p),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithRandomTLSExtensionOrder(),
	)
	if err != nil {
		return nil, fmt.Errorf("create browser client: %w", err)
	}
	return &browserTransport{client: c}, nil
}

func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = req.Body
	}
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), body)
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	freq.ContentLength = req.ContentLength
	freq.Header = fhttp.Header(req.Header.Clone())
	if req.Host != "" {
		freq.Host = req.Host
	}
	if _, ok := freq.Header[fhttp.HeaderOrderKey]; !ok {
		freq.Header[fhttp.HeaderOrderKey] = browserHeaderOrder
	}

	fresp, err := t.client.Do(freq)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:           fresp.Status,
		StatusCode:       fresp.StatusCode,
		Proto:            fresp.Proto,
		ProtoMajor:       fresp.ProtoMajor,
		ProtoMinor:       fresp.ProtoMinor,
		Header:           http.Header(fresp.Header),
		Body:             fresp.Body,
		ContentLength:    fresp.ContentLength,
		TransferEncoding: fresp.TransferEncoding,
		Uncompressed:     fresp.Uncompressed,
		Trailer:          http.Header(fresp.Trailer),
		Request:          req,
	}, nil
}
