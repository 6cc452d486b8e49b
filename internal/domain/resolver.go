package domain

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tiktokmodcloud/internal/netx"
)

// DefaultStartBaseURL is the download listing that every chain starts from.
const DefaultStartBaseURL = "https://apkw.ru/en/download/"

// DefaultGateMarkers are the anchor texts that identify the gate link.
var DefaultGateMarkers = []string{"UNIVERSAL", "Plugin", "MIRROR"}

// Target selects which build to resolve.
type Target string

const (
	TargetMod    Target = "mod"
	TargetPlugin Target = "plugin"
)

// ParseTarget accepts "mod" or "plugin".
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetMod, TargetPlugin:
		return t, nil
	default:
		return "", fmt.Errorf("unknown target: %q", s)
	}
}

// Path is the listing path segment for t.
func (t Target) Path() string {
	if t == TargetPlugin {
		return "tik-tok-plugin"
	}
	return "tik-tok-mod"
}

// Resolution stages reported by LinkResolutionError.
const (
	StageGateLink     = "gate-link"
	StageLazyRedirect = "lazy-redirect"
	StageMirror       = "mirror-redirect"
	StageDestination  = "destination"
	StageDirectLink   = "direct-link"
)

// LinkResolutionError reports the hop at which the chain broke.
type LinkResolutionError struct {
	Stage string
	Err   error
}

func (e *LinkResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link resolution failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("link resolution failed at %s", e.Stage)
}

func (e *LinkResolutionError) Unwrap() error { return e.Err }

// ResolvedLink is the end of a redirect chain.
type ResolvedLink struct {
	// DirectURL streams the file.
	DirectURL string
	// Referer is the file page URL. It is replayed on the download request
	// and is also the page that verification runs against.
	Referer string
}

// PageFetcher fetches a page with retries. *netx.Client satisfies it.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL, referer string, attempts int) (netx.Page, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	StartBaseURL string
	GateMarkers  []string
	// Attempts per hop. Zero uses the fetcher's retry policy.
	Attempts int
	Logger   *slog.Logger
}

// Resolver walks the fixed start → gate → mirror → redirector → file page
// chain.
type Resolver struct {
	net       PageFetcher
	startBase string
	markers   []string
	attempts  int
	log       *slog.Logger
}

// NewResolver builds a Resolver on net.
func NewResolver(net PageFetcher, opt ResolverOptions) *Resolver {
	if opt.StartBaseURL == "" {
		opt.StartBaseURL = DefaultStartBaseURL
	}
	if len(opt.GateMarkers) == 0 {
		opt.GateMarkers = DefaultGateMarkers
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Resolver{
		net:       net,
		startBase: strings.TrimRight(opt.StartBaseURL, "/") + "/",
		markers:   opt.GateMarkers,
		attempts:  opt.Attempts,
		log:       opt.Logger,
	}
}

// StartURL returns the listing page for t.
func (r *Resolver) StartURL(t Target) string {
	return r.startBase + t.Path() + "/"
}

var (
	redirectorLinkPattern = regexp.MustCompile(`href\s*=\s*["'](https?://[^"']+/get/[^"']+)["']`)
	locationPattern       = regexp.MustCompile(`location(?:\.href\s*=\s*|\.replace\(\s*)["']([^"']+)["']`)
	replacePattern        = regexp.MustCompile(`window\.location\.replace\(\s*['"](https?://[^'"]+)['"]\s*\)`)
)

// Resolve walks the chain for t.
//
// Hops up to the mirror page send the start URL as referer. The redirector hop
// sends the mirror URL. A missing anchor or script at any hop yields
// *LinkResolutionError; fetch failures are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, t Target) (ResolvedLink, error) {
	startURL := r.StartURL(t)
	r.log.Debug("Fetching initial page", "start_url", startURL)
	start, err := r.net.FetchPage(ctx, startURL, startURL, r.attempts)
	if err != nil {
		return ResolvedLink{}, err
	}
	gateURL, err := r.gateLink(start)
	if err != nil {
		return ResolvedLink{}, err
	}

	r.log.Debug("Fetching gate page", "gate_url", gateURL)
	gate, err := r.net.FetchPage(ctx, gateURL, startURL, r.attempts)
	if err != nil {
		return ResolvedLink{}, err
	}
	mirrorURL := gate.URL
	if strings.Contains(gate.URL, "file-download") {
		lazyURL, err := firstHref(gate, `a[rel='noreferrer']`)
		if err != nil {
			return ResolvedLink{}, &LinkResolutionError{Stage: StageLazyRedirect, Err: err}
		}
		r.log.Debug("Resolving final mirror URL", "lazy_redirect_url", lazyURL)
		lazy, err := r.net.FetchPage(ctx, lazyURL, startURL, r.attempts)
		if err != nil {
			return ResolvedLink{}, err
		}
		mirrorURL = lazy.URL
	}

	r.log.Debug("Fetching mirror page", "mirror_url", mirrorURL)
	mirror, err := r.net.FetchPage(ctx, mirrorURL, startURL, r.attempts)
	if err != nil {
		return ResolvedLink{}, err
	}
	dest, err := r.destination(ctx, mirror)
	if err != nil {
		return ResolvedLink{}, err
	}

	direct, err := DirectDownloadURL(dest)
	if err != nil {
		return ResolvedLink{}, err
	}
	r.log.Debug("Resolved download link", "file_page", dest, "direct_url", direct)
	return ResolvedLink{DirectURL: direct, Referer: dest}, nil
}

func (r *Resolver) gateLink(start netx.Page) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(start.Body))
	if err != nil {
		return "", &LinkResolutionError{Stage: StageGateLink, Err: err}
	}
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		for _, m := range r.markers {
			if strings.Contains(text, m) {
				href, _ = s.Attr("href")
				return false
			}
		}
		return true
	})
	if strings.TrimSpace(href) == "" {
		return "", &LinkResolutionError{Stage: StageGateLink, Err: fmt.Errorf("no anchor matching %v", r.markers)}
	}
	return absolute(start.URL, href)
}

// destination finds the file page behind the mirror page. Countdown pages link
// to a redirector whose page carries the final location.replace call. Other
// mirrors assign location directly.
func (r *Resolver) destination(ctx context.Context, mirror netx.Page) (string, error) {
	var redirector string
	if m := redirectorLinkPattern.FindStringSubmatch(mirror.Body); m != nil {
		redirector = m[1]
	} else if m := locationPattern.FindStringSubmatch(mirror.Body); m != nil {
		target, err := absolute(mirror.URL, m[1])
		if err != nil {
			return "", &LinkResolutionError{Stage: StageMirror, Err: err}
		}
		if !strings.Contains(target, "/get/") {
			return target, nil
		}
		redirector = target
	} else {
		return "", &LinkResolutionError{Stage: StageMirror, Err: fmt.Errorf("no redirect script in %s", mirror.URL)}
	}

	r.log.Debug("Fetching intermediate redirect page", "intermediate_url", redirector)
	page, err := r.net.FetchPage(ctx, redirector, mirror.URL, r.attempts)
	if err != nil {
		return "", err
	}
	m := replacePattern.FindStringSubmatch(page.Body)
	if m == nil {
		return "", &LinkResolutionError{Stage: StageDestination, Err: fmt.Errorf("no location.replace in %s", page.URL)}
	}
	return m[1], nil
}

// DirectDownloadURL rewrites the final path segment of a file page URL to
// "/d/<segment>". The query string is kept.
func DirectDownloadURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", &LinkResolutionError{Stage: StageDirectLink, Err: err}
	}
	i := strings.LastIndex(u.Path, "/")
	seg := u.Path[i+1:]
	if i < 0 || seg == "" {
		return "", &LinkResolutionError{Stage: StageDirectLink, Err: fmt.Errorf("no file segment in %s", pageURL)}
	}
	u.Path = u.Path[:i] + "/d/" + seg
	u.RawPath = ""
	return u.String(), nil
}

func firstHref(p netx.Page, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.Body))
	if err != nil {
		return "", err
	}
	href, ok := doc.Find(selector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", fmt.Errorf("no %s anchor in %s", selector, p.URL)
	}
	return absolute(p.URL, href)
}

func absolute(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u, err := b.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
