package domain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"tiktokmodcloud/internal/extract"
	"tiktokmodcloud/internal/metrics"
	"tiktokmodcloud/internal/netx"
	"tiktokmodcloud/internal/util"
)

// DefaultVerifyURL is the captcha verification endpoint of the file host.
const DefaultVerifyURL = "https://modsfire.com/verify-cf-captcha"

// DefaultOutputDir is used when DownloadOptions.OutputDir is empty.
const DefaultOutputDir = "./apks"

// ErrVerificationRejected is returned when the file host refuses a solved
// challenge.
var ErrVerificationRejected = errors.New("website rejected the verification")

// DownloadError reports a non-2xx response from the download endpoint.
type DownloadError struct {
	URL    string
	Status int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download file: %d %s", e.Status, http.StatusText(e.Status))
}

// Transport is the HTTP surface the downloader needs. *netx.Client satisfies
// it. Verification and download share its cookie jar.
type Transport interface {
	PageFetcher
	PostJSON(ctx context.Context, rawURL string, headers map[string]string, payload any) (*http.Response, error)
	DoOnce(req *http.Request) (*http.Response, error)
}

// Solver turns a site key and page URL into a challenge token.
type Solver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}

// DownloadOptions configures Verified.Download.
type DownloadOptions struct {
	OutputDir string
	// OnProgress receives bytes written so far and the expected total, which
	// is -1 when the server sends no Content-Length.
	OnProgress func(done, total int64)
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	VerifyURL string
	Attempts  int
	Logger    *slog.Logger
}

// Downloader has not passed verification yet. The only way forward is Verify.
type Downloader struct {
	net       Transport
	extractor extract.Extractor
	solver    Solver
	verifyURL string
	attempts  int
	log       *slog.Logger
}

// NewDownloader builds an unverified Downloader.
func NewDownloader(net Transport, ex extract.Extractor, solver Solver, opt DownloaderOptions) *Downloader {
	if opt.VerifyURL == "" {
		opt.VerifyURL = DefaultVerifyURL
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Downloader{
		net:       net,
		extractor: ex,
		solver:    solver,
		verifyURL: opt.VerifyURL,
		attempts:  opt.Attempts,
		log:       opt.Logger,
	}
}

type verifyPayload struct {
	Token  string `json:"token"`
	FileID string `json:"file_id"`
}

type verifyResponse struct {
	Success bool `json:"success"`
}

// Verify extracts the page data of pageURL, solves its challenge and submits
// the token. On success it returns the only handle that can download.
func (d *Downloader) Verify(ctx context.Context, pageURL string) (Verified, error) {
	page, err := d.net.FetchPage(ctx, pageURL, "", d.attempts)
	if err != nil {
		return nil, err
	}
	data, err := d.extractor.Extract(page.Body)
	if err != nil {
		return nil, err
	}
	d.log.Debug("Extracted file page", "file_id", data.FileID, "upload_date", data.UploadDate)

	token, err := d.solver.Solve(ctx, data.SiteKey, pageURL)
	if err != nil {
		return nil, fmt.Errorf("solve challenge: %w", err)
	}

	d.log.Debug("Verifying captcha solution with the website...")
	resp, err := d.net.PostJSON(ctx, d.verifyURL, map[string]string{"X-CSRF-TOKEN": data.CSRFToken}, verifyPayload{Token: token, FileID: data.FileID})
	if err != nil {
		return nil, fmt.Errorf("submit verification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d %s", ErrVerificationRejected, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verification response: %w", err)
	}
	if !out.Success {
		return nil, ErrVerificationRejected
	}
	d.log.Info("Successfully obtained verification cookie")
	return &verifiedDownloader{net: d.net, fileID: data.FileID, page: data, log: d.log}, nil
}

// Verified can download. Values only come from Downloader.Verify.
type Verified interface {
	FileID() string
	Page() extract.PageData
	Download(ctx context.Context, rawURL, referer string, opt DownloadOptions) (string, error)
}

// verifiedDownloader is bound to the verified file and the cookie context that
// verified it.
type verifiedDownloader struct {
	net    Transport
	fileID string
	page   extract.PageData
	log    *slog.Logger
}

// FileID returns the id the verification was made for.
func (v *verifiedDownloader) FileID() string { return v.fileID }

// Page returns the page data extracted during verification.
func (v *verifiedDownloader) Page() extract.PageData { return v.page }

// Download streams rawURL into opt.OutputDir and returns the absolute path.
//
// The file is named after the verified file id, or the last path segment of
// the final response URL when no id is bound. A partial file is left in
// place when streaming fails.
func (v *verifiedDownloader) Download(ctx context.Context, rawURL, referer string, opt DownloadOptions) (string, error) {
	outputDir := opt.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	v.log.Debug("Starting download", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	resp, err := v.net.DoOnce(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outputDir, util.DeriveFileName(v.fileID, netx.FinalURL(resp, rawURL)))
	n, err := writeStream(outPath, resp.Body, resp.ContentLength, opt.OnProgress)
	metrics.DownloadedBytes.Add(float64(n))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", outPath, err)
	}

	abs, err := filepath.Abs(outPath)
	if err != nil {
		abs = outPath
	}
	v.log.Info("Download complete", "path", abs, "bytes", n)
	return abs, nil
}

// writeStream copies body into path through a buffered writer. The file is
// flushed and closed on every path.
func writeStream(path string, body io.Reader, total int64, onProgress func(done, total int64)) (n int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriterSize(f, 256<<10)
	defer func() {
		if ferr := w.Flush(); err == nil {
			err = ferr
		}
	}()

	if total < 0 {
		total = -1
	}
	pw := &progressWriter{w: w, total: total, fn: onProgress}
	pw.report()
	return io.Copy(pw, body)
}

type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.report()
	return n, err
}

func (p *progressWriter) report() {
	if p.fn != nil {
		p.fn(p.done, p.total)
	}
}
