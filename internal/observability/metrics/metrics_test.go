package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsObserve(t *testing.T) {
	m := newHTTPMetrics(prometheus.NewRegistry(), Config{Environment: "test"})

	m.Observe("POST", "/admin/billing/routines", 200, 20*time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("POST", "/admin/billing/routines", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("GET", "unknown", "404")))
}

func TestConstLabelsDefaults(t *testing.T) {
	labels := Config{}.constLabels()
	assert.Equal(t, "alima-billing", labels["service"])
	assert.Equal(t, "unknown", labels["env"])
}
