package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tiktokmodcloud/internal/netx"
)

func TestObserveFetch(t *testing.T) {
	before := testutil.ToFloat64(FetchAttempts.WithLabelValues("http_error"))
	ObserveFetch(netx.FetchAttempt{URL: "https://example.com", Outcome: netx.OutcomeHTTPError})
	after := testutil.ToFloat64(FetchAttempts.WithLabelValues("http_error"))
	if after-before != 1 {
		t.Fatalf("want counter +1, got %v -> %v", before, after)
	}
}

func TestWriteTextfile(t *testing.T) {
	PipelineRuns.WithLabelValues("mod", "check", "ok").Inc()
	path := filepath.Join(t.TempDir(), "tiktokmodcloud.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(b), `tiktokmodcloud_pipeline_runs_total{action="check",result="ok",target="mod"}`) {
		t.Fatalf("pipeline counter missing from textfile:\n%s", b)
	}
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	if err := WriteTextfile(""); err != nil {
		t.Fatalf("want no-op, got %v", err)
	}
}
