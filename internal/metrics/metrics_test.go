package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersFullSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	// Touch one series per metric so gathering has something to emit.
	r.EntryEvaluations.WithLabelValues("regular", "opened").Inc()
	r.ExitVerdicts.WithLabelValues("ACTIVE_EXIT").Inc()
	r.GateVerdicts.WithLabelValues("per_trade_risk", "deny").Inc()
	r.AnomalyTier.Set(2)
	r.OpenPositions.WithLabelValues("regular").Set(1)
	r.EvalDuration.WithLabelValues("entry", "opened").Observe(0.002)
	r.CacheHits.WithLabelValues("greeks").Inc()
	r.CacheMisses.WithLabelValues("greeks").Inc()
	r.FeedMessages.WithLabelValues("snapshot").Inc()
	r.BrokerSubmits.WithLabelValues("filled").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"optionrun_entry_evaluations_total",
		"optionrun_exit_verdicts_total",
		"optionrun_gate_verdicts_total",
		"optionrun_anomaly_tier",
		"optionrun_open_positions",
		"optionrun_eval_duration_seconds",
		"optionrun_cache_hits_total",
		"optionrun_cache_misses_total",
		"optionrun_feed_messages_total",
		"optionrun_broker_submits_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestCacheHitRatio_AggregatesAcrossCaches(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.AddCacheCounts("greeks", 2, 1)
	r.AddCacheCounts("chain", 1, 0)

	assert.InDelta(t, 0.75, testutil.ToFloat64(r.CacheHitRatio), 1e-9)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("greeks"))+
		testutil.ToFloat64(r.CacheHits.WithLabelValues("chain")))
}

func TestAddCacheCounts_ZeroDeltaLeavesRatioAlone(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.AddCacheCounts("greeks", 1, 1)
	r.AddCacheCounts("greeks", 0, 0)

	assert.InDelta(t, 0.5, testutil.ToFloat64(r.CacheHitRatio), 1e-9)
}

func TestCacheHitRatio_UntouchedStaysZero(t *testing.T) {
	r := New(prometheus.NewRegistry())
	assert.Zero(t, testutil.ToFloat64(r.CacheHitRatio))
}

func TestStageTimer_RecordsObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.StartStage("entry").Stop("opened")

	count := testutil.CollectAndCount(r.EvalDuration, "optionrun_eval_duration_seconds")
	assert.Equal(t, 1, count)
}

func TestCounterLabels(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.EntryEvaluations.WithLabelValues("anomaly", "gate_denied").Inc()
	r.EntryEvaluations.WithLabelValues("anomaly", "gate_denied").Inc()

	v := testutil.ToFloat64(r.EntryEvaluations.WithLabelValues("anomaly", "gate_denied"))
	assert.Equal(t, 2.0, v)
}
