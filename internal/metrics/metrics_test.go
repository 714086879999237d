package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordMutation("local")
	m.RecordMutation("local")
	m.RecordRemoteSnapshot(RemoteApplied)
	m.RecordRemoteSnapshot(RemoteDiscarded)
	m.RecordPublishFailure("redis")
	m.RecordLocalSaveFailure()
	m.SetPatients("cait", 4)

	body := scrape(t, m)
	assert.Contains(t, body, `tracker_mutations_total{kind="local"} 2`)
	assert.Contains(t, body, `tracker_remote_snapshots_total{result="applied"} 1`)
	assert.Contains(t, body, `tracker_remote_snapshots_total{result="discarded"} 1`)
	assert.Contains(t, body, `tracker_remote_publish_failures_total{backend="redis"} 1`)
	assert.Contains(t, body, `tracker_local_save_failures_total 1`)
	assert.Contains(t, body, `tracker_patients{cohort="cait"} 4`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMutation("local")
		m.RecordRemoteSnapshot(RemoteInvalid)
		m.RecordPublishFailure("mqtt")
		m.RecordLocalSaveFailure()
		m.RecordHTTPRequest(http.MethodGet, "/x", 200, time.Millisecond)
		m.SetPatients("private", 1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_HTTPRequests(t *testing.T) {
	m := New(nil)
	m.RecordHTTPRequest(http.MethodGet, "/tracker/api/v1/state", 200, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `http_requests_total{method="GET",route="/tracker/api/v1/state",status_code="200"} 1`)
	assert.Contains(t, body, `http_request_duration_seconds_count{method="GET",route="/tracker/api/v1/state"} 1`)
}
