package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAcceptExpectedLabels(t *testing.T) {
	LinesProcessedTotal.WithLabelValues("site1", "parsed").Inc()
	FindingsTotal.WithLabelValues("site1", "scanner.probing", "medium").Inc()
	AnomaliesTotal.WithLabelValues("site1", "anomaly.requests_spike").Inc()
	JobDurationSeconds.WithLabelValues("site1", "access", "completed").Observe(1.5)
	QueueDepth.Set(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(LinesProcessedTotal.WithLabelValues("site1", "parsed")))
	assert.Equal(t, float64(3), testutil.ToFloat64(QueueDepth))
}
