// Package detect runs the detection passes over one recorded session: the
// rule-only pass, and the model pass that feeds the feature pipeline and
// linear model through the hybrid decision.
package detect

import (
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/features"
	"github.com/banshee-data/anticheat.report/internal/fsutil"
	"github.com/banshee-data/anticheat.report/internal/hybrid"
	"github.com/banshee-data/anticheat.report/internal/model"
	"github.com/banshee-data/anticheat.report/internal/monitoring"
	"github.com/banshee-data/anticheat.report/internal/rules"
	"github.com/banshee-data/anticheat.report/internal/telemetry"
)

// Options configures both passes. The zero value runs the liberal rule
// combination, a default window, the default absolute cap and the
// model-only policy, writing no output files.
type Options struct {
	// Quiet suppresses per-tick alert lines.
	Quiet bool
	Combo rules.ComboMode
	// AbsThreshold is the absolute speed cap; 0 selects the default.
	AbsThreshold float64
	// Window is the rolling feature window; 0 selects the default.
	Window int
	Policy hybrid.Policy
	// StrictFeatureOrder turns a feature name mismatch into a pass failure.
	StrictFeatureOrder bool

	// AlertsPath and EvalPath are truncated per pass. Empty disables each.
	AlertsPath string
	EvalPath   string

	FS   fsutil.FileSystem
	Logf monitoring.LogFunc
}

func (o Options) absThreshold() float64 {
	if o.AbsThreshold > 0 {
		return o.AbsThreshold
	}
	return rules.DefaultAbsThreshold
}

// RunRulePass applies the rule-only detector to buf.
func RunRulePass(buf *telemetry.Buffer, opts Options) (*rules.Result, error) {
	d, err := rules.NewDetector(buf, opts.absThreshold(), opts.Combo)
	if err != nil {
		return nil, fmt.Errorf("rule pass: %w", err)
	}
	monitoring.Infof(opts.Logf, "Thresholds: %s", d.Thresholds)

	res := d.Run(buf, func(a rules.Alert) {
		if opts.Quiet {
			return
		}
		monitoring.Warnf(opts.Logf, "ALERT: tick=%d speed=%.2f | r3=%d robust=%d abs=%d (thr3=%.2f thrR=%.2f abs=%.2f)",
			a.Tick, a.Speed, b2i(a.Sigma3), b2i(a.Robust), b2i(a.Abs), a.Thr3Sigma, a.ThrRobust, a.ThrAbs)
	})

	if opts.AlertsPath != "" {
		writeOutput(opts, opts.AlertsPath, "alerts", func(f io.Writer) error {
			return rules.WriteAlertsCSV(f, res.Alerts)
		})
	}

	monitoring.Infof(opts.Logf, "Detected %d anomalies out of %d rows", res.Eval.Alerts, buf.Len())
	monitoring.Infof(opts.Logf, "Eval: %s", res.Eval.Matrix)
	return &res, nil
}

// ModelResult is the outcome of one model pass.
type ModelResult struct {
	Thresholds rules.ThresholdSet
	Policy     hybrid.Policy
	// DecisionThreshold is the model's probability cutoff.
	DecisionThreshold float64
	Records           []eval.Record
	Eval              eval.Collector
}

// RunModelPass scores every tick of buf with m and applies the hybrid
// policy. A feature contract violation aborts the pass and nothing is
// written.
func RunModelPass(buf *telemetry.Buffer, m *model.LinearModel, opts Options) (*ModelResult, error) {
	if m == nil {
		return nil, errors.New("model pass: no model")
	}
	if err := m.CheckFeatureOrder(features.Names); err != nil {
		if opts.StrictFeatureOrder {
			return nil, fmt.Errorf("model pass: %w", err)
		}
		monitoring.Warnf(opts.Logf, "%v", err)
	}

	thr, err := rules.ComputeThresholds(buf.Speeds(), opts.absThreshold())
	if err != nil {
		return nil, fmt.Errorf("model pass: %w", err)
	}

	pipe := features.NewPipeline(opts.Window)
	engine := hybrid.NewEngine(opts.Policy)
	res := &ModelResult{
		Thresholds:        thr,
		Policy:            opts.Policy,
		DecisionThreshold: m.Threshold(),
		Records:           make([]eval.Record, 0, buf.Len()),
	}

	for i, s := range buf.Samples() {
		vec := pipe.Next(s)
		prob, err := m.Infer(vec)
		if err != nil {
			return nil, fmt.Errorf("model pass: tick %d: %w", i, err)
		}
		speed := vec[features.Speed]
		d := engine.Decide(prob, m.Alert(prob), thr.Gate(speed))

		rec := eval.Record{
			Tick:        uint(i),
			Speed:       speed,
			MLProb:      d.Probability,
			MLAlert:     d.MLAlert,
			MLPred:      d.Final,
			RuleAlert:   d.RuleGate,
			GroundTruth: s.GroundTruthCheat,
		}
		res.Records = append(res.Records, rec)
		res.Eval.Observe(rec.MLPred, rec.GroundTruth)

		if rec.MLPred && !opts.Quiet {
			monitoring.Warnf(opts.Logf, "ML ALERT: tick=%d speed=%.2f prob=%.3f gate=%d", i, speed, prob, b2i(d.RuleGate))
		}
	}

	if opts.EvalPath != "" {
		writeOutput(opts, opts.EvalPath, "eval", func(f io.Writer) error {
			return eval.WriteCSV(f, res.Records)
		})
	}

	monitoring.Infof(opts.Logf, "Model pass (%s, threshold=%.3f): %d alerts out of %d rows",
		opts.Policy, m.Threshold(), res.Eval.Alerts, buf.Len())
	monitoring.Infof(opts.Logf, "Eval: %s", res.Eval.Matrix)
	return res, nil
}

// writeOutput truncates path and fills it with write. Failures are logged
// and otherwise ignored.
func writeOutput(opts Options, path, what string, write func(io.Writer) error) {
	f, err := fsutil.CreateWithDirs(opts.FS, path)
	if err != nil {
		monitoring.Warnf(opts.Logf, "Could not open %s (%v); continuing without %s output", path, err, what)
		return
	}
	werr := write(f)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		monitoring.Warnf(opts.Logf, "Failed writing %s output %s: %v", what, path, werr)
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
