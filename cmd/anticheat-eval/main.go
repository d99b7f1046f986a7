// Command anticheat-eval re-scores a stored evaluation CSV under the
// ml-only and hybrid policies without rerunning inference.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/fsutil"
	"github.com/banshee-data/anticheat.report/internal/hybrid"
)

// maxEvalBytes bounds the evaluation CSV read.
const maxEvalBytes = 256 << 20

// PolicyResult is one re-scored policy.
type PolicyResult struct {
	Policy    string               `json:"policy"`
	Matrix    eval.ConfusionMatrix `json:"matrix"`
	Alerts    uint                 `json:"alerts"`
	Precision float64              `json:"precision"`
	Recall    float64              `json:"recall"`
}

type options struct {
	evalPath  string
	threshold float64
	debounce  int
	asJSON    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("anticheat-eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	fs.StringVar(&o.evalPath, "eval", filepath.Join("data", "eval.csv"), "Evaluation CSV written by the agent")
	fs.Float64Var(&o.threshold, "threshold", 0.5, "Model decision threshold applied to ml_prob")
	fs.IntVar(&o.debounce, "debounce", 1, "Consecutive ticks required for a verdict (1 disables)")
	fs.BoolVar(&o.asJSON, "json", false, "Print results as JSON")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.threshold < 0 || o.threshold > 1 {
		return o, fmt.Errorf("threshold %v outside [0,1]", o.threshold)
	}
	if o.debounce < 1 {
		return o, fmt.Errorf("debounce must be at least 1, got %d", o.debounce)
	}
	return o, nil
}

// rescore derives MLAlert from the stored probability and folds every
// policy over the records.
func rescore(records []eval.Record, threshold float64, debounce int) []PolicyResult {
	alerted := make([]eval.Record, len(records))
	for i, r := range records {
		r.MLAlert = r.MLProb >= threshold
		alerted[i] = r
	}

	var out []PolicyResult
	for _, p := range []hybrid.Policy{
		{Hybrid: false, Debounce: debounce},
		{Hybrid: true, Debounce: debounce},
	} {
		c := eval.Fold(hybrid.Recompute(alerted, p))
		out = append(out, PolicyResult{
			Policy:    p.String(),
			Matrix:    c.Matrix,
			Alerts:    c.Alerts,
			Precision: c.Matrix.Precision(),
			Recall:    c.Matrix.Recall(),
		})
	}

	var rule eval.Collector
	for _, r := range records {
		rule.Observe(r.RuleAlert, r.GroundTruth)
	}
	out = append(out, PolicyResult{
		Policy:    "rule-gate",
		Matrix:    rule.Matrix,
		Alerts:    rule.Alerts,
		Precision: rule.Matrix.Precision(),
		Recall:    rule.Matrix.Recall(),
	})
	return out
}

func loadRecords(fsys fsutil.FileSystem, path string) ([]eval.Record, error) {
	f, err := fsutil.Or(fsys).Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return eval.ReadCSV(io.LimitReader(f, maxEvalBytes))
}

func run(args []string, fsys fsutil.FileSystem, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	records, err := loadRecords(fsys, o.evalPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s: no evaluation records", o.evalPath)
	}

	results := rescore(records, o.threshold, o.debounce)
	if o.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	fmt.Fprintf(stdout, "%d records from %s, threshold=%.3f\n", len(records), o.evalPath, o.threshold)
	for _, r := range results {
		fmt.Fprintf(stdout, "%-20s %s\n", r.Policy, r.Matrix)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], nil, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "anticheat-eval: %v\n", err)
		os.Exit(1)
	}
}
