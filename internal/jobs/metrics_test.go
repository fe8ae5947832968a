package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("sales:due-sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("sales:due-sweep").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sales:due-sweep", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sales:due-sweep", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("sales:due-sweep")))
}

func TestObserveDueSweep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveDueSweep(4, 2, 1250.5)
	m.ObserveDueSweep(3, 0, 900)
	m.AddReminders("order_overdue_reminder_template", 2)
	m.AddReminders("order_overdue_reminder_template", 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.overdueOrders))
	assert.Equal(t, 900.0, testutil.ToFloat64(m.overdueAmount))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recomputeFails))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reminders.WithLabelValues("order_overdue_reminder_template")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDueSweep(1, 1, 1)
		m.AddReminders("x", 1)
		_ = m.Track("job").End(nil)
	})
}
