package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/tile-animator/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	observability.ObserveAnimation(nil, 1500*time.Millisecond)
	observability.ObserveAnimation(errors.New("upstream"), time.Second)
	observability.ObserveFrame(nil)
	observability.ObserveUpstreamLatency("tiler", nil, 0.05)
	observability.ObserveCacheOp("mget", nil, 0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()

	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
	assertHasMetricLine(t, body, "animations_total", `outcome="ok"`)
	assertHasMetricLine(t, body, "animations_total", `outcome="error"`)
	assertHasMetricLine(t, body, "animation_frames_total", `outcome="ok"`)
	assertHasMetricLine(t, body, "upstream_latency_seconds_bucket", `upstream="tiler"`)
	assertHasMetricLine(t, body, "redis_operation_duration_seconds_bucket", `op="mget"`)
}
