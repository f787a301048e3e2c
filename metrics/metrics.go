// Package metrics collects per-run pipeline counters. A batch job has no
// scrape endpoint, so the registry is written to a node_exporter textfile at
// the end of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	reg *prometheus.Registry

	files       *prometheus.CounterVec
	fraudEvents *prometheus.CounterVec
	reportRows  prometheus.Gauge
	windowStart prometheus.Gauge
	windowEnd   prometheus.Gauge
	lastRun     prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudwatch_files_total",
			Help: "Input files handled, labeled by info type and outcome",
		}, []string{"info_type", "outcome"}),
		fraudEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudwatch_fraud_events_total",
			Help: "Fraud events inserted, labeled by detection rule",
		}, []string{"rule"}),
		reportRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "fraudwatch_report_rows",
			Help: "Report rows rebuilt for the last window",
		}),
		windowStart: f.NewGauge(prometheus.GaugeOpts{
			Name: "fraudwatch_window_start_seconds",
			Help: "Start of the last scanned window",
		}),
		windowEnd: f.NewGauge(prometheus.GaugeOpts{
			Name: "fraudwatch_window_end_seconds",
			Help: "End of the last scanned window",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "fraudwatch_last_run_timestamp_seconds",
			Help: "Completion time of the last run",
		}),
	}
}

func (r *Recorder) FileHandled(infoType string, outcome string) {
	if r == nil {
		return
	}
	r.files.WithLabelValues(infoType, outcome).Inc()
}

func (r *Recorder) FraudEvents(rule string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.fraudEvents.WithLabelValues(rule).Add(float64(n))
}

func (r *Recorder) Window(start, end time.Time, reportRows int) {
	if r == nil {
		return
	}
	r.windowStart.Set(float64(start.Unix()))
	r.windowEnd.Set(float64(end.Unix()))
	r.reportRows.Set(float64(reportRows))
}

func (r *Recorder) RunCompleted(at time.Time) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format. The file is
// replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
