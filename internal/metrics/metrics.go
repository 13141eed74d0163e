// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds every metric the engine emits.
type Registry struct {
	EntryEvaluations *prometheus.CounterVec
	ExitVerdicts     *prometheus.CounterVec
	GateVerdicts     *prometheus.CounterVec
	AnomalyTier      prometheus.Gauge
	OpenPositions    *prometheus.GaugeVec
	EvalDuration     *prometheus.HistogramVec

	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge

	FeedMessages  *prometheus.CounterVec
	BrokerSubmits *prometheus.CounterVec
}

// New builds and registers the metric set. A nil registerer registers
// against the process default.
func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Registry{
		EntryEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_entry_evaluations_total",
				Help: "Entry evaluations by track and outcome",
			},
			[]string{"track", "outcome"},
		),
		ExitVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_exit_verdicts_total",
				Help: "Exit matrix verdicts by tier",
			},
			[]string{"tier"},
		),
		GateVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_gate_verdicts_total",
				Help: "Risk gate verdicts by gate and verdict",
			},
			[]string{"gate", "verdict"},
		),
		AnomalyTier: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "optionrun_anomaly_tier",
				Help: "Current anomaly tier (0=none, 1..3=level)",
			},
		),
		OpenPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optionrun_open_positions",
				Help: "Open positions per track",
			},
			[]string{"track"},
		),
		EvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optionrun_eval_duration_seconds",
				Help:    "Duration of decision pipeline stages",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"stage", "result"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_cache_hits_total",
				Help: "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_cache_misses_total",
				Help: "Cache misses by cache name",
			},
			[]string{"cache"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "optionrun_cache_hit_ratio",
				Help: "Aggregate cache hit ratio (0.0 to 1.0)",
			},
		),
		FeedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_feed_messages_total",
				Help: "Feed messages by type",
			},
			[]string{"type"},
		),
		BrokerSubmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionrun_broker_submits_total",
				Help: "Broker submissions by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		r.EntryEvaluations,
		r.ExitVerdicts,
		r.GateVerdicts,
		r.AnomalyTier,
		r.OpenPositions,
		r.EvalDuration,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.FeedMessages,
		r.BrokerSubmits,
	)

	return r
}

// StageTimer times one decision pipeline stage.
type StageTimer struct {
	registry *Registry
	stage    string
	start    time.Time
}

// StartStage begins timing the named stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{registry: r, stage: stage, start: time.Now()}
}

// Stop records the stage duration with the given result label.
func (t *StageTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.registry.EvalDuration.WithLabelValues(t.stage, result).Observe(duration.Seconds())

	log.Debug().
		Str("stage", t.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("stage complete")
}

// AddCacheCounts adds hit and miss deltas for the named cache and
// refreshes the aggregate ratio. Callers publish counter differences
// taken from the cache's own stats.
func (r *Registry) AddCacheCounts(cache string, hits, misses uint64) {
	if hits > 0 {
		r.CacheHits.WithLabelValues(cache).Add(float64(hits))
	}
	if misses > 0 {
		r.CacheMisses.WithLabelValues(cache).Add(float64(misses))
	}
	if hits > 0 || misses > 0 {
		r.updateCacheHitRatio()
	}
}

func (r *Registry) updateCacheHitRatio() {
	hits := sumCounterVec(r.CacheHits)
	misses := sumCounterVec(r.CacheMisses)
	if hits+misses == 0 {
		return
	}
	r.CacheHitRatio.Set(hits / (hits + misses))
}

func sumCounterVec(vec *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()

	var total float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		if c := pb.GetCounter(); c != nil {
			total += c.GetValue()
		}
	}
	return total
}
