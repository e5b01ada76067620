package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	done := m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsInFlight))
	m.CheckFinished("row_count", true)
	m.CheckFinished("null_check", false)
	m.CheckFinished("null_check", false)
	m.RemoteJobFinished(true)
	m.RowsFetched("source", 120)
	m.BlockSealed()
	done(ResultFailed)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(ResultFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.checksTotal.WithLabelValues("null_check", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checksTotal.WithLabelValues("row_count", ResultPassed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteJobs.WithLabelValues("succeeded")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.rowsFetched.WithLabelValues("source")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerBlocks))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()(ResultPassed)
		m.CheckFinished("row_count", true)
		m.RemoteJobFinished(false)
		m.RowsFetched("target", 3)
		m.BlockSealed()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.CheckFinished("schema_check", true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `etlverify_checks_total{check="schema_check",result="passed"} 1`)
}
