package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_Metrics_Counters(t *testing.T) {
	m := New()

	m.ObserveOperation(ResultCommitted, 3, time.Millisecond)
	m.ObserveOperation(ResultCommitted, 0, time.Millisecond)
	m.ObserveOperation(ResultRejected, 0, 0)
	m.CommitRetried()
	m.MessageProcessed("join")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SnapshotSaved()

	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues(ResultCommitted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues(ResultRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.commitRetries))
	require.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("join")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.snapshots))
}

func Test_Metrics_Handler(t *testing.T) {
	m := New()
	m.ObserveOperation(ResultCommitted, 1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `coedit_operations_total{result="committed"} 1`)
	require.Contains(t, string(body), "coedit_transform_depth_bucket")
}

func Test_Metrics_Nil(t *testing.T) {
	var m *Metrics

	m.ObserveOperation(ResultError, 0, 0)
	m.CommitRetried()
	m.ConnectionOpened()
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
}
