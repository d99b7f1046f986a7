package rules

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/telemetry"
)

// AlertHeader is the alerts CSV column layout.
var AlertHeader = []string{"tick", "speed", "r3", "robust", "abs", "thr3", "thrRobust", "thrAbs"}

// Alert is one tick raised by the rule-only detector.
type Alert struct {
	Tick  uint    `json:"tick"`
	Speed float64 `json:"speed"`
	Flags
	Thr3Sigma float64 `json:"thr3"`
	ThrRobust float64 `json:"thr_robust"`
	ThrAbs    float64 `json:"thr_abs"`
}

// Result is the outcome of one rule-only pass.
type Result struct {
	Thresholds ThresholdSet
	Alerts     []Alert
	Eval       eval.Collector
}

// Detector applies a ThresholdSet to every tick of a session.
type Detector struct {
	Thresholds ThresholdSet
	Mode       ComboMode
}

// NewDetector computes thresholds from buf's speeds.
func NewDetector(buf *telemetry.Buffer, absThreshold float64, mode ComboMode) (*Detector, error) {
	thr, err := ComputeThresholds(buf.Speeds(), absThreshold)
	if err != nil {
		return nil, err
	}
	return &Detector{Thresholds: thr, Mode: mode}, nil
}

// Run scans buf in tick order. The callback, when non-nil, sees each alert
// as it is raised.
func (d *Detector) Run(buf *telemetry.Buffer, onAlert func(Alert)) Result {
	res := Result{Thresholds: d.Thresholds}
	speeds := buf.Speeds()
	for i, speed := range speeds {
		flags := d.Thresholds.Evaluate(speed)
		isAlert := d.Mode.Alert(flags)
		if isAlert {
			a := Alert{
				Tick:      uint(i),
				Speed:     speed,
				Flags:     flags,
				Thr3Sigma: d.Thresholds.Thr3Sigma,
				ThrRobust: d.Thresholds.ThrRobust,
				ThrAbs:    d.Thresholds.ThrAbs,
			}
			res.Alerts = append(res.Alerts, a)
			if onAlert != nil {
				onAlert(a)
			}
		}
		res.Eval.Observe(isAlert, buf.At(i).GroundTruthCheat)
	}
	return res
}

func bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// WriteAlertsCSV writes the header and one row per alert.
func WriteAlertsCSV(w io.Writer, alerts []Alert) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AlertHeader); err != nil {
		return err
	}
	for _, a := range alerts {
		row := []string{
			strconv.FormatUint(uint64(a.Tick), 10),
			formatFloat(a.Speed),
			bit(a.Sigma3),
			bit(a.Robust),
			bit(a.Abs),
			formatFloat(a.Thr3Sigma),
			formatFloat(a.ThrRobust),
			formatFloat(a.ThrAbs),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
