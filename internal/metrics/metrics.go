// Package metrics holds the process-wide prometheus collectors and writes
// them to a node-exporter textfile.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"tiktokmodcloud/internal/netx"
)

var (
	FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiktokmodcloud_fetch_attempts_total",
			Help: "Page fetch attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	CaptchaPolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tiktokmodcloud_captcha_polls_total",
			Help: "Task result polls sent to the captcha service.",
		},
	)
	CaptchaTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiktokmodcloud_captcha_tasks_total",
			Help: "Captcha tasks by terminal result.",
		},
		[]string{"result"},
	)
	CaptchaSolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiktokmodcloud_captcha_solve_duration_seconds",
			Help:    "Time from task creation to a ready solution.",
			Buckets: []float64{2, 5, 10, 20, 40, 80, 160},
		},
	)
	DownloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tiktokmodcloud_downloaded_bytes_total",
			Help: "Bytes written to downloaded files.",
		},
	)
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiktokmodcloud_pipeline_runs_total",
			Help: "Pipeline runs, labeled by target, action and result.",
		},
		[]string{"target", "action", "result"},
	)
)

func init() {
	prometheus.MustRegister(FetchAttempts)
	prometheus.MustRegister(CaptchaPolls)
	prometheus.MustRegister(CaptchaTasks)
	prometheus.MustRegister(CaptchaSolveDuration)
	prometheus.MustRegister(DownloadedBytes)
	prometheus.MustRegister(PipelineRuns)
}

// ObserveFetch counts one fetch attempt. It matches the netx attempt observer
// signature.
func ObserveFetch(a netx.FetchAttempt) {
	FetchAttempts.WithLabelValues(string(a.Outcome)).Inc()
}

// WriteTextfile dumps the default registry in the node-exporter textfile
// format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return err
	}
	slog.Debug("Wrote metrics textfile", "path", path)
	return nil
}
