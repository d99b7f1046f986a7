// Package rules derives speed thresholds from a session and applies them,
// either as the standalone rule-only detector or as the gate feeding the
// hybrid decision.
package rules

import (
	"fmt"

	"github.com/banshee-data/anticheat.report/internal/stats"
)

// DefaultAbsThreshold is the domain speed cap, in speed units per tick.
const DefaultAbsThreshold = 6.0

// ThresholdSet is computed once per pass from the full speed series and is
// never modified afterwards.
type ThresholdSet struct {
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stddev"`
	Thr3Sigma float64 `json:"thr_3sigma"`
	Median    float64 `json:"median"`
	MAD       float64 `json:"mad"`
	ThrRobust float64 `json:"thr_robust"`
	ThrAbs    float64 `json:"thr_abs"`
}

// ComputeThresholds derives the three thresholds for speeds. absThreshold
// is used verbatim as ThrAbs.
func ComputeThresholds(speeds []float64, absThreshold float64) (ThresholdSet, error) {
	mean, std, err := stats.MeanStdDev(speeds)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("thresholds: %w", err)
	}
	med, err := stats.Median(speeds)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("thresholds: %w", err)
	}
	mad, err := stats.MAD(speeds, med)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("thresholds: %w", err)
	}
	return ThresholdSet{
		Mean:      mean,
		StdDev:    std,
		Thr3Sigma: stats.SigmaThreshold(mean, std),
		Median:    med,
		MAD:       mad,
		ThrRobust: stats.RobustThreshold(med, mad),
		ThrAbs:    absThreshold,
	}, nil
}

// Flags holds the three independent per-tick rule results.
type Flags struct {
	Sigma3 bool `json:"r3"`
	Robust bool `json:"robust"`
	Abs    bool `json:"abs"`
}

// Evaluate compares speed strictly against each threshold.
func (t ThresholdSet) Evaluate(speed float64) Flags {
	return Flags{
		Sigma3: speed > t.Thr3Sigma,
		Robust: speed > t.ThrRobust,
		Abs:    speed > t.ThrAbs,
	}
}

// Gate is the rule side of the hybrid decision. It ignores the 3-sigma flag.
func (t ThresholdSet) Gate(speed float64) bool {
	return speed > t.ThrRobust || speed > t.ThrAbs
}

func (t ThresholdSet) String() string {
	return fmt.Sprintf("mean=%.3f std=%.3f thr3=%.3f | median=%.3f MAD=%.3f thrRobust=%.3f | abs=%.2f",
		t.Mean, t.StdDev, t.Thr3Sigma, t.Median, t.MAD, t.ThrRobust, t.ThrAbs)
}

// Any is the liberal combination: any flag raises an alert.
func (f Flags) Any() bool { return f.Sigma3 || f.Robust || f.Abs }

// Strict requires both statistical rules to agree unless the absolute cap
// is exceeded.
func (f Flags) Strict() bool { return (f.Sigma3 && f.Robust) || f.Abs }

// ComboMode selects how Flags combine into an alert.
type ComboMode string

const (
	ComboAny    ComboMode = "any"
	ComboStrict ComboMode = "strict"
)

// ParseComboMode accepts "any", "strict" or "" (meaning any).
func ParseComboMode(s string) (ComboMode, error) {
	switch ComboMode(s) {
	case "", ComboAny:
		return ComboAny, nil
	case ComboStrict:
		return ComboStrict, nil
	default:
		return "", fmt.Errorf("unknown rule combo %q (want any or strict)", s)
	}
}

// Alert reports whether f raises an alert under mode m.
func (m ComboMode) Alert(f Flags) bool {
	if m == ComboStrict {
		return f.Strict()
	}
	return f.Any()
}
