package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/flow"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecordRecompute(t *testing.T) {
	m := New("test")

	res := flow.Result{
		Flowing:           make([]flow.FlowingSegment, 3),
		Blocked:           make([]flow.BlockedSegment, 1),
		TotalSegmentCount: 6,
		Iterations:        4,
	}
	m.RecordRecompute(20*time.Millisecond, res)
	m.RecordRecomputeFailure()

	body := scrape(t, m)
	assert.Contains(t, body, `test_flow_recomputes_total{status="ok"} 1`)
	assert.Contains(t, body, `test_flow_recomputes_total{status="error"} 1`)
	assert.Contains(t, body, "test_flow_coverage_ratio 0.5")
	assert.Contains(t, body, `test_flow_segments{state="untouched"} 2`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRecompute(time.Second, flow.Result{})
		m.RecordRecomputeFailure()
		m.RecordTelemetry("ok")
		m.RecordEvent("tank_updated")
		m.SetSessions(2)
		m.RecordHTTPRequest(http.MethodGet, "/health", 200, time.Millisecond)
	})
}

func TestHandler(t *testing.T) {
	m := New("waterwatch")
	m.RecordHTTPRequest(http.MethodGet, "/api/v1/flow", 200, time.Millisecond)
	m.SetSessions(3)

	body := scrape(t, m)
	assert.Contains(t, body, `waterwatch_http_requests_total{method="GET",route="/api/v1/flow",status="200"} 1`)
	assert.Contains(t, body, "waterwatch_realtime_sessions 3")
	assert.Contains(t, body, "go_goroutines")
}
