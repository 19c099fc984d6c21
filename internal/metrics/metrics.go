// Package metrics records run results as Prometheus metrics and exports
// them in the node-exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
)

// Recorder is a runner observer backed by its own registry.
type Recorder struct {
	registry *prometheus.Registry
	target   string

	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	overallPass   *prometheus.GaugeVec
	runDuration   *prometheus.GaugeVec
	lastRun       *prometheus.GaugeVec
}

// NewRecorder creates the collectors for runs against target.
func NewRecorder(target string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		target:   target,
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiprobe_checks_total",
				Help: "Checks executed, by verdict",
			},
			[]string{"target", "verdict"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiprobe_check_duration_seconds",
				Help:    "Check latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"target"},
		),
		overallPass: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiprobe_run_overall_pass",
				Help: "1 if the last run passed, 0 otherwise",
			},
			[]string{"target"},
		),
		runDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiprobe_run_duration_seconds",
				Help: "Wall time of the last run",
			},
			[]string{"target"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiprobe_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
			[]string{"target"},
		),
	}
	r.registry.MustRegister(r.checksTotal, r.checkDuration, r.overallPass, r.runDuration, r.lastRun)
	for _, v := range check.Verdicts {
		r.checksTotal.WithLabelValues(target, v.String())
	}
	return r
}

// Registry exposes the collectors, e.g. for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) CheckStarted(string) {}

func (r *Recorder) CheckFinished(res report.Result) {
	r.checksTotal.WithLabelValues(r.target, res.Verdict.String()).Inc()
	if res.Verdict != check.VerdictSkipped {
		r.checkDuration.WithLabelValues(r.target).Observe(res.Latency.Seconds())
	}
}

// ObserveRun records the run-level gauges of a finalized report.
func (r *Recorder) ObserveRun(rep *report.RunReport) {
	pass := 0.0
	if rep.Overall == report.OverallPass {
		pass = 1
	}
	r.overallPass.WithLabelValues(r.target).Set(pass)
	r.runDuration.WithLabelValues(r.target).Set(rep.Duration().Seconds())
	r.lastRun.WithLabelValues(r.target).Set(float64(rep.FinishedAt.Unix()))
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
