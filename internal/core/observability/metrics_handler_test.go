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

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg) // second registration is tolerated

	ObserveHTTP("GET", "/v1/journeys/{id}/area", 200, 0.001)
	AreaObserver{}.ObserveArea("exact", 71, 3*time.Millisecond, nil)
	IncAreaCacheHit(TierLocal)
	AddImportWarning("duplicate_tile")
	ObserveRedisOp("get", nil, 0.0004)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`http_requests_total{method="GET",route="/v1/journeys/{id}/area",status="200"}`,
		`area_compute_seconds_bucket{strategy="exact"`,
		`area_cache_results_total{outcome="hit",tier="local"}`,
		`import_warnings_total{reason="duplicate_tile"}`,
		`redis_op_seconds_count{op="get",outcome="ok"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics payload missing %q; got:\n%s", want, body)
		}
	}
}

func TestAreaObserver_CountsFailuresWithoutLatency(t *testing.T) {
	before := testutil.ToFloat64(areaComputeTotal.WithLabelValues("block_only", "error"))
	blocksBefore := testutil.ToFloat64(areaBlocksTotal.WithLabelValues("block_only"))

	AreaObserver{}.ObserveArea("block_only", 12, time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(areaComputeTotal.WithLabelValues("block_only", "error")); got != before+1 {
		t.Fatalf("error count=%v want %v", got, before+1)
	}
	if got := testutil.ToFloat64(areaBlocksTotal.WithLabelValues("block_only")); got != blocksBefore {
		t.Fatalf("blocks counted on failure: %v", got)
	}
}
