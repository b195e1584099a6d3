package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/prockeeper/internal/metrics"
)

func TestRegistryExposesMetrics(t *testing.T) {
	metrics.EmitBuildInfo()
	metrics.IncLaunch()
	metrics.ObserveExit(3, "")
	metrics.ObserveExit(-1, "terminated")
	metrics.IncLaunchFailure()
	metrics.SetChildRunning(true)
	metrics.IncSignal("hangup")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}

	body := rec.Body.String()
	for _, line := range []string{
		`prockeeper_exits_total{code="3"} 1`,
		`prockeeper_exits_total{code="terminated"} 1`,
		`prockeeper_child_running 1`,
		`prockeeper_signals_total{signal="hangup"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
	if !strings.Contains(body, "prockeeper_launches_total ") {
		t.Fatalf("expected launches counter in body:\n%s", body)
	}
	if !strings.Contains(body, "prockeeper_build_info{") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}
}

func TestBuildSettingsIncludesGoVersion(t *testing.T) {
	settings := metrics.BuildSettings()
	if settings["go_version"] == "" {
		t.Fatalf("expected go_version in build settings: %v", settings)
	}
}
