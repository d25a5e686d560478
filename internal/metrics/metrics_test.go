package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ShayCichocki/ccc/pkg/models"
)

func TestSessionMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsRunning))

	start := time.Now()
	m.SessionFinished(&models.WorkerSession{
		Status:    models.TaskStatusCompleted,
		StartedAt: start,
		EndedAt:   start.Add(3 * time.Second),
	}, 128)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(128), testutil.ToFloat64(m.OutputBytesTotal))
}

func TestDecisionAndRunMetrics(t *testing.T) {
	m := New(nil)

	m.Decision(models.RecoveryDecision{Tier: models.TierGuidedRetry})
	m.Decision(models.RecoveryDecision{Tier: models.TierGuidedRetry})
	m.RunFinished(models.RunStatusHalted)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DecisionsTotal.WithLabelValues(models.TierGuidedRetry.String())))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("HALTED")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.SessionFinished(&models.WorkerSession{}, 10)
	m.Decision(models.RecoveryDecision{})
	m.RunFinished(models.RunStatusCompleted)
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.RunFinished(models.RunStatusCompleted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ccc_runs_total{status="COMPLETED"} 1`))
}
