package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg)

	ObserveHTTP("POST", "/v1/sessions/{session}/execute", 200, 0.001)
	ObserveExecution(true, "", 12*time.Millisecond, 3)
	ObserveExecution(false, "timeout", 5*time.Second, 0)
	IncWorkerRestart("timeout")
	ObserveStoreOp("get", errors.New("down"), 0.002)
	IncEventDropped("queue_full")

	body := scrape(t, reg)
	for _, s := range []string{
		`http_requests_total{method="POST",route="/v1/sessions/{session}/execute",status="200"} `,
		`executions_total{kind="none",outcome="success"} `,
		`executions_total{kind="timeout",outcome="failure"} `,
		`execution_duration_seconds_bucket`,
		`bridge_worker_restarts_total{reason="timeout"} `,
		`layerstore_op_errors_total{op="get"} `,
		`events_dropped_total{reason="queue_full"} `,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}
}

func TestProtocolErrorCounter(t *testing.T) {
	before := testutil.ToFloat64(bridgeProtocolErrors)
	IncProtocolError()
	IncProtocolError()
	if got := testutil.ToFloat64(bridgeProtocolErrors) - before; got != 2 {
		t.Fatalf("delta=%v want 2", got)
	}
}
