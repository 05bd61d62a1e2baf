package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/validation"
)

// Metrics exports pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	processed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	runs          *prometheus.CounterVec
	levels        *prometheus.GaugeVec
	fdr           *prometheus.GaugeVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "psvalidate",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psvalidate",
			Name:      "matches_processed_total",
			Help:      "Matches processed per stage.",
		}, []string{"stage"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psvalidate",
			Name:      "matches_failed_total",
			Help:      "Matches whose processing failed per stage.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psvalidate",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		levels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "psvalidate",
			Name:      "validated_matches",
			Help:      "Matches per validation level after the last run.",
		}, []string{"granularity", "level"}),
		fdr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "psvalidate",
			Name:      "estimated_fdr",
			Help:      "Estimated FDR among confident matches after the last run.",
		}, []string{"granularity"}),
	}

	for _, c := range []prometheus.Collector{m.stageDuration, m.processed, m.failed, m.runs, m.levels, m.fdr} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(stage string, d time.Duration, res StageResult) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.processed.WithLabelValues(stage).Add(float64(res.Processed))
	m.failed.WithLabelValues(stage).Add(float64(res.Failed))
}

func (m *Metrics) observeRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveSummary publishes the level counts of a validation summary.
func (m *Metrics) ObserveSummary(s validation.Summary) {
	if m == nil {
		return
	}
	for name, g := range map[string]validation.Granularity{"psm": s.PSM, "peptide": s.Peptide, "protein": s.Protein} {
		for _, level := range identification.ValidationLevels {
			m.levels.WithLabelValues(name, level.String()).Set(float64(g.Count(level)))
		}
		m.fdr.WithLabelValues(name).Set(g.EstimatedFDR)
	}
}
