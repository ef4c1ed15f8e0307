package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestReminderFiresCounter(t *testing.T) {
	before := testutil.ToFloat64(ReminderFires.WithLabelValues("weekly"))
	ReminderFires.WithLabelValues("weekly").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ReminderFires.WithLabelValues("weekly")))
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_seconds", Help: "test"})
	NewTimer().ObserveDuration(h)
	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestHandlerExposesMetrics(t *testing.T) {
	ArmedJobs.Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hound_scheduler_armed_jobs 3"))
}
