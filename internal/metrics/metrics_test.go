package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitWith(reg)
	// A second call must not panic on duplicate registration.
	InitWith(reg)

	ObserveIngest(ResultSuccess, 48, 2, 10*time.Millisecond)
	ObserveIngest("", 0, 50, time.Millisecond)
	IncIngestFailure("converting")
	ObserveCostCalculation(ResultError, 0, time.Millisecond)
	ObserveCostCalculation(ResultSuccess, 1440, time.Millisecond)
	IncExport("xlsx", "")
	SetStreamClients(3)
	SetStreamClients(2)
	IncStreamEvicted()

	assert.InDelta(t, 2, testutil.ToFloat64(ingestRuns.WithLabelValues(ResultSuccess)), 0)
	assert.InDelta(t, 48, testutil.ToFloat64(ingestRows.WithLabelValues(OutcomeAppended)), 0)
	assert.InDelta(t, 52, testutil.ToFloat64(ingestRows.WithLabelValues(OutcomeDuplicate)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(ingestFailed.WithLabelValues("converting")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(billingTotal.WithLabelValues(ResultError)), 0)
	assert.InDelta(t, 1440, testutil.ToFloat64(billingReads), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(exportTotal.WithLabelValues("xlsx", ResultSuccess)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(streamClients), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(streamEvicted), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultError, Result(errors.New("boom")))
}
