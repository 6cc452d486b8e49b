package cli

import (
	"context"
	"log/slog"
	"time"

	"tiktokmodcloud/internal/captcha"
	"tiktokmodcloud/internal/config"
	"tiktokmodcloud/internal/domain"
	"tiktokmodcloud/internal/extract"
	"tiktokmodcloud/internal/metrics"
	"tiktokmodcloud/internal/netx"
)

// Runner runs the check and download pipelines for one target.
type Runner interface {
	Check(ctx context.Context, t domain.Target) (domain.CheckResult, error)
	Download(ctx context.Context, t domain.Target, opt domain.DownloadOptions) (domain.DownloadResult, error)
}

// NewPipelineRunner builds a Runner with its own HTTP client and cookie jar.
func NewPipelineRunner(cfg config.Config, log *slog.Logger) (Runner, error) {
	net, err := netx.NewClient(netx.Config{
		Profile:      cfg.HTTP.Profile,
		Timeout:      cfg.HTTP.Timeout,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		Retry: netx.RetryOptions{
			Attempts:  cfg.HTTP.Attempts,
			BaseDelay: cfg.HTTP.BaseDelay,
			MaxDelay:  cfg.HTTP.MaxDelay,
			Jitter:    cfg.HTTP.Jitter,
		},
	})
	if err != nil {
		return nil, err
	}
	net.SetAttemptObserver(metrics.ObserveFetch)

	ex, err := extract.New(cfg.Extractor, time.Now)
	if err != nil {
		return nil, err
	}
	solver := captcha.NewClient(net, captcha.Config{
		BaseURL:      cfg.Capsolver.BaseURL,
		APIKey:       cfg.Capsolver.APIKey,
		PollInterval: cfg.Capsolver.PollInterval,
		SolveTimeout: cfg.Capsolver.SolveTimeout,
	})
	return domain.NewPipeline(net, ex, solver, domain.PipelineOptions{
		Resolver: domain.ResolverOptions{
			StartBaseURL: cfg.StartBaseURL,
			GateMarkers:  cfg.GateMarkers,
		},
		Downloader: domain.DownloaderOptions{VerifyURL: cfg.VerifyURL},
		Logger:     log,
	}), nil
}
