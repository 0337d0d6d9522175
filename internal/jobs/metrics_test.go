package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("inventory:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("returns:notify").End(boom), boom)

	require.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("inventory:reconcile", "success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.failures.WithLabelValues("returns:notify")), 0)

	m.AddReconciled(4, 1)
	require.InDelta(t, 4, testutil.ToFloat64(m.reconciled.WithLabelValues("balanced")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.reconciled.WithLabelValues("drifted")), 0)

	var nilMetrics *Metrics
	require.ErrorIs(t, nilMetrics.Track("x").End(boom), boom)
}
