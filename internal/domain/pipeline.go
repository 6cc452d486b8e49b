package domain

import (
	"context"
	"log/slog"
	"strings"

	"tiktokmodcloud/internal/extract"
)

// CheckResult is the outcome of a version check.
type CheckResult struct {
	Target     Target `json:"target"`
	Version    string `json:"version"`
	Suffix     string `json:"suffix,omitempty"`
	UploadDate string `json:"uploadDate,omitempty"`
	FileID     string `json:"-"`
}

// DownloadResult is the outcome of a download.
type DownloadResult struct {
	Target Target `json:"target"`
	Path   string `json:"path"`
	URL    string `json:"url"`
}

type linkResolver interface {
	Resolve(ctx context.Context, t Target) (ResolvedLink, error)
}

// Pipeline runs resolve → check, or resolve → verify → download, for one
// target. Each Pipeline should own its Transport so cookie state is not shared
// between targets.
type Pipeline struct {
	resolver   linkResolver
	pages      PageFetcher
	extractor  extract.Extractor
	downloader *Downloader
	attempts   int
	log        *slog.Logger
}

// PipelineOptions configures NewPipeline.
type PipelineOptions struct {
	Resolver   ResolverOptions
	Downloader DownloaderOptions
	Logger     *slog.Logger
}

// NewPipeline wires a resolver and downloader on net.
func NewPipeline(net Transport, ex extract.Extractor, solver Solver, opt PipelineOptions) *Pipeline {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Resolver.Logger == nil {
		opt.Resolver.Logger = opt.Logger
	}
	if opt.Downloader.Logger == nil {
		opt.Downloader.Logger = opt.Logger
	}
	return &Pipeline{
		resolver:   NewResolver(net, opt.Resolver),
		pages:      net,
		extractor:  ex,
		downloader: NewDownloader(net, ex, solver, opt.Downloader),
		attempts:   opt.Resolver.Attempts,
		log:        opt.Logger,
	}
}

// Check resolves t and reads the version from the file page.
func (p *Pipeline) Check(ctx context.Context, t Target) (CheckResult, error) {
	link, err := p.resolver.Resolve(ctx, t)
	if err != nil {
		return CheckResult{}, err
	}
	page, err := p.pages.FetchPage(ctx, link.Referer, "", p.attempts)
	if err != nil {
		return CheckResult{}, err
	}
	data, err := p.extractor.Extract(page.Body)
	if err != nil {
		return CheckResult{}, err
	}
	version, suffix := ParseVersion(data.FileID)
	p.log.Debug("Checked version", "file_id", data.FileID, "version", version)
	return CheckResult{
		Target:     t,
		Version:    version,
		Suffix:     suffix,
		UploadDate: data.UploadDate,
		FileID:     data.FileID,
	}, nil
}

// Download resolves t, verifies against the file page and streams the file.
func (p *Pipeline) Download(ctx context.Context, t Target, opt DownloadOptions) (DownloadResult, error) {
	link, err := p.resolver.Resolve(ctx, t)
	if err != nil {
		return DownloadResult{}, err
	}
	verified, err := p.downloader.Verify(ctx, link.Referer)
	if err != nil {
		return DownloadResult{}, err
	}
	path, err := verified.Download(ctx, link.DirectURL, link.Referer, opt)
	if err != nil {
		return DownloadResult{}, err
	}
	return DownloadResult{Target: t, Path: path, URL: link.DirectURL}, nil
}

// ParseVersion splits a file id such as "34.1.2_universal.apk".
//
// The version is the text before the first "_", or the whole id. The suffix is
// the text after the last "_" without ".apk"; it is empty when it names the
// generic "plugin" or "universal" build. An id without "_" has no suffix,
// rather than repeating the whole id as one.
func ParseVersion(fileID string) (version, suffix string) {
	first := strings.Index(fileID, "_")
	if first < 0 {
		return fileID, ""
	}
	version = fileID[:first]
	suffix = strings.TrimSuffix(fileID[strings.LastIndex(fileID, "_")+1:], ".apk")
	if suffix == "plugin" || suffix == "universal" {
		suffix = ""
	}
	return version, suffix
}
