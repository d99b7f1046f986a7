// Package metrics exports the outcome of an agent run as Prometheus
// gauges, written to a file for the node-exporter textfile collector.
//
// Every run gets its own registry so the file only ever describes the
// latest run:
//
//	anticheat_telemetry_rows 200
//	anticheat_pass_alerts{pass="rule"} 11
//	anticheat_pass_confusion{outcome="tp",pass="model"} 11
//	anticheat_threshold{kind="robust"} 1.2224
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/rules"
)

const namespace = "anticheat"

// Pass label values.
const (
	PassRule  = "rule"
	PassModel = "model"
)

// Set is the gauges describing one run on a private registry.
type Set struct {
	Registry *prometheus.Registry

	Rows          prometheus.Gauge
	MalformedRows prometheus.Gauge
	Truncated     prometheus.Gauge
	StartedAt     prometheus.Gauge
	ModelOK       prometheus.Gauge

	Alerts    *prometheus.GaugeVec
	Confusion *prometheus.GaugeVec
	Precision *prometheus.GaugeVec
	Recall    *prometheus.GaugeVec
	Threshold *prometheus.GaugeVec
}

// NewSet registers a fresh set of gauges.
func NewSet() *Set {
	s := &Set{
		Registry: prometheus.NewRegistry(),
		Rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "telemetry_rows",
			Help: "Telemetry rows accepted in the last run",
		}),
		MalformedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "telemetry_malformed_rows",
			Help: "Telemetry rows with fields defaulted to zero in the last run",
		}),
		Truncated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "telemetry_truncated",
			Help: "1 if the telemetry read stopped at the input cap",
		}),
		StartedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_started_timestamp_seconds",
			Help: "Start time of the last run",
		}),
		ModelOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "model_pass_completed",
			Help: "1 if the model pass completed in the last run",
		}),
		Alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pass_alerts",
			Help: "Ticks flagged by each pass",
		}, []string{"pass"}),
		Confusion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pass_confusion",
			Help: "Confusion matrix cells of each pass against ground truth",
		}, []string{"pass", "outcome"}),
		Precision: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pass_precision",
			Help: "Precision of each pass",
		}, []string{"pass"}),
		Recall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pass_recall",
			Help: "Recall of each pass",
		}, []string{"pass"}),
		Threshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "threshold",
			Help: "Session speed statistics and rule thresholds",
		}, []string{"kind"}),
	}
	s.Registry.MustRegister(s.Rows, s.MalformedRows, s.Truncated, s.StartedAt, s.ModelOK,
		s.Alerts, s.Confusion, s.Precision, s.Recall, s.Threshold)
	return s
}

// Observe sets the gauges from a finished session.
func (s *Set) Observe(sess *detect.Session) {
	if sess.Buffer != nil {
		s.Rows.Set(float64(sess.Buffer.Len()))
		s.MalformedRows.Set(float64(sess.Buffer.MalformedRows))
		if sess.Buffer.Truncated {
			s.Truncated.Set(1)
		}
	}
	if !sess.StartedAt.IsZero() {
		s.StartedAt.Set(float64(sess.StartedAt.UnixNano()) / 1e9)
	}

	switch {
	case sess.Rule != nil:
		s.observeThresholds(sess.Rule.Thresholds)
	case sess.Model != nil:
		s.observeThresholds(sess.Model.Thresholds)
	}
	if sess.Rule != nil {
		s.observePass(PassRule, sess.Rule.Eval)
	}
	if sess.Model != nil {
		s.ModelOK.Set(1)
		s.observePass(PassModel, sess.Model.Eval)
	}
}

func (s *Set) observePass(pass string, c eval.Collector) {
	s.Alerts.WithLabelValues(pass).Set(float64(c.Alerts))
	s.Confusion.WithLabelValues(pass, "tp").Set(float64(c.Matrix.TP))
	s.Confusion.WithLabelValues(pass, "fp").Set(float64(c.Matrix.FP))
	s.Confusion.WithLabelValues(pass, "fn").Set(float64(c.Matrix.FN))
	s.Confusion.WithLabelValues(pass, "tn").Set(float64(c.Matrix.TN))
	s.Precision.WithLabelValues(pass).Set(c.Matrix.Precision())
	s.Recall.WithLabelValues(pass).Set(c.Matrix.Recall())
}

func (s *Set) observeThresholds(t rules.ThresholdSet) {
	for kind, v := range map[string]float64{
		"mean":   t.Mean,
		"stddev": t.StdDev,
		"sigma3": t.Thr3Sigma,
		"median": t.Median,
		"mad":    t.MAD,
		"robust": t.ThrRobust,
		"abs":    t.ThrAbs,
	} {
		s.Threshold.WithLabelValues(kind).Set(v)
	}
}

// WriteTextfile writes the registry to path, creating parent directories.
// The file is replaced atomically.
func (s *Set) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metrics dir: %w", err)
		}
	}
	return prometheus.WriteToTextfile(path, s.Registry)
}

// Textfile is a detect.Sink writing each session's metrics to Path.
type Textfile struct {
	Path string
}

// Name identifies the sink in failure logs.
func (t Textfile) Name() string { return "metrics" }

// Record implements detect.Sink.
func (t Textfile) Record(_ context.Context, sess *detect.Session) error {
	s := NewSet()
	s.Observe(sess)
	return s.WriteTextfile(t.Path)
}
