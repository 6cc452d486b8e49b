package domain

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"testing"

	"tiktokmodcloud/internal/extract"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		fileID  string
		version string
		suffix  string
	}{
		{"34.1.2_universal.apk", "34.1.2", ""},
		{"34.1.2_plugin.apk", "34.1.2", ""},
		{"34.1.2_arm64_v8a.apk", "34.1.2", "v8a"},
		{"34.1.2_lite.apk", "34.1.2", "lite"},
		{"34.1.2.apk", "34.1.2.apk", ""},
	}
	for _, tt := range tests {
		t.Run(tt.fileID, func(t *testing.T) {
			v, s := ParseVersion(tt.fileID)
			if v != tt.version || s != tt.suffix {
				t.Fatalf("want %q/%q, got %q/%q", tt.version, tt.suffix, v, s)
			}
		})
	}
}

// chainSite serves the whole five-hop chain plus the file host.
type chainSite struct {
	t        *testing.T
	file     *fileHost
	downHits int32
}

func (c *chainSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.Header.Get("X-Original-Host")
	switch {
	case host == "apkw.ru" && r.URL.Path == "/en/download/tik-tok-mod/":
		if r.Header.Get("Referer") != startMod {
			c.t.Errorf("start page referer: %q", r.Header.Get("Referer"))
		}
		_, _ = io.WriteString(w, startHTML)
	case host == "apkw.ru" && r.URL.Path == "/en/gate/mod":
		http.Redirect(w, r, mirrorPage, http.StatusFound)
	case host == "mirror.example" && r.URL.Path == "/countdown/77":
		_, _ = io.WriteString(w, countdownHTML)
	case host == "go.linkify.ru" && r.URL.Path == "/get/Xy12":
		if r.Header.Get("Referer") != mirrorPage {
			c.t.Errorf("redirector referer: %q", r.Header.Get("Referer"))
		}
		_, _ = io.WriteString(w, redirectorHTML)
	case host == "modsfire.com":
		if r.URL.Path == "/d/abc123XYZ" {
			atomic.AddInt32(&c.downHits, 1)
		}
		c.file.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func newTestPipeline(t *testing.T, site *chainSite, solver Solver) *Pipeline {
	t.Helper()
	net, closeFn := newMockNetClient(t, site.ServeHTTP)
	t.Cleanup(closeFn)
	return NewPipeline(net, extract.Fallback{Primary: extract.Structural{}, Secondary: extract.Regex{}}, solver, PipelineOptions{
		Downloader: DownloaderOptions{VerifyURL: "https://modsfire.com/verify-cf-captcha"},
	})
}

func TestPipelineDownloadEndToEnd(t *testing.T) {
	payload := []byte("PK\x03\x04 the apk payload")
	dir := t.TempDir()

	var firstURL string
	for run := 0; run < 2; run++ {
		site := &chainSite{t: t, file: &fileHost{t: t, payload: payload}}
		p := newTestPipeline(t, site, &fakeSolver{token: "tok_ABC"})
		res, err := p.Download(context.Background(), TargetMod, DownloadOptions{OutputDir: dir})
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.URL != "https://modsfire.com/d/abc123XYZ" || res.Target != TargetMod {
			t.Fatalf("run %d: unexpected result %+v", run, res)
		}
		if run == 0 {
			firstURL = res.URL
		} else if res.URL != firstURL {
			t.Fatalf("url changed between runs: %s vs %s", firstURL, res.URL)
		}
		b, err := os.ReadFile(res.Path)
		if err != nil {
			t.Fatalf("run %d: read: %v", run, err)
		}
		if string(b) != string(payload) {
			t.Fatalf("run %d: unexpected content %q", run, b)
		}
		if atomic.LoadInt32(&site.downHits) != 1 {
			t.Fatalf("run %d: want one download request, got %d", run, site.downHits)
		}
	}
}

func TestPipelineCheck(t *testing.T) {
	site := &chainSite{t: t, file: &fileHost{t: t}}
	p := newTestPipeline(t, site, &fakeSolver{err: errors.New("solver must not run")})
	res, err := p.Check(context.Background(), TargetMod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := CheckResult{Target: TargetMod, Version: "34.1.2", UploadDate: "2024-02-28 18:30", FileID: "34.1.2_universal.apk"}
	if res != want {
		t.Fatalf("want %+v, got %+v", want, res)
	}
	if atomic.LoadInt32(&site.downHits) != 0 {
		t.Fatal("check must not download")
	}
}

func TestPipelineStopsAtFirstFailure(t *testing.T) {
	site := &chainSite{t: t, file: &fileHost{t: t, verify: func(w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"success":false}`)
	}}}
	p := newTestPipeline(t, site, &fakeSolver{token: "tok_ABC"})
	_, err := p.Download(context.Background(), TargetMod, DownloadOptions{OutputDir: t.TempDir()})
	if !errors.Is(err, ErrVerificationRejected) {
		t.Fatalf("want ErrVerificationRejected, got %v", err)
	}
	if atomic.LoadInt32(&site.downHits) != 0 {
		t.Fatal("download must not start after a rejected verification")
	}
}

type fakeResolver struct {
	link ResolvedLink
	err  error
}

func (f fakeResolver) Resolve(ctx context.Context, t Target) (ResolvedLink, error) {
	return f.link, f.err
}

func TestPipelineResolveErrorPropagates(t *testing.T) {
	boom := &LinkResolutionError{Stage: StageGateLink}
	p := &Pipeline{resolver: fakeResolver{err: boom}}
	if _, err := p.Check(context.Background(), TargetPlugin); !errors.Is(err, boom) {
		t.Fatalf("want resolution error, got %v", err)
	}
	if _, err := p.Download(context.Background(), TargetPlugin, DownloadOptions{}); !errors.Is(err, boom) {
		t.Fatalf("want resolution error, got %v", err)
	}
}
