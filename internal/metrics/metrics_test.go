package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/metrics"
)

func TestHandler_ServesArtifactsCounter(t *testing.T) {
	metrics.ArtifactsIngestedTotal.Add(0) // ensure the series exists regardless of test order

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "sandboxd_artifacts_ingested_total")
}

func TestTimer_ObserveDurationVec(t *testing.T) {
	before := testutil.CollectAndCount(metrics.ExecDuration)

	timer := metrics.NewTimer()
	timer.ObserveDurationVec(metrics.ExecDuration, "test_outcome_unique_label")

	after := testutil.CollectAndCount(metrics.ExecDuration)
	require.Equal(t, before+1, after) // a fresh label value adds exactly one series
}

func TestTimer_ObserveDuration(t *testing.T) {
	timer := metrics.NewTimer()
	timer.ObserveDuration(metrics.ContainerCreateDuration)

	require.Equal(t, 1, testutil.CollectAndCount(metrics.ContainerCreateDuration))
}
