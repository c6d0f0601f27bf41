package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CRMRequest("GET", 200, 10*time.Millisecond)
	m.CRMRequest("GET", 200, 20*time.Millisecond)
	m.Submission("complete", "updated")
	m.FieldRemoved("Phone")
	m.Cache("countries", true)
	m.Cache("countries", false)
	m.TokenRefresh(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CRMRequestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("complete", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldsRemoved.WithLabelValues("Phone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("countries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("countries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.CRMRequest("POST", 500, time.Second)
		m.Submission("lead", "created")
		m.FieldRemoved("Email")
		m.DiagnosticTask("write")
		m.Cache("cities", true)
		m.TokenRefresh(true)
	})
}
