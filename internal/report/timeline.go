// Package report renders a finished run as a PNG timeline (gonum/plot) and
// an interactive HTML page (go-echarts).
package report

import (
	"errors"
	"fmt"

	"github.com/banshee-data/anticheat.report/internal/detect"
	"github.com/banshee-data/anticheat.report/internal/eval"
	"github.com/banshee-data/anticheat.report/internal/rules"
)

// ErrNoTicks is returned when there is nothing to plot.
var ErrNoTicks = errors.New("report: no ticks to plot")

// Tick is one plotted telemetry tick.
type Tick struct {
	Tick        uint
	Speed       float64
	RuleAlert   bool
	Probability float64
	MLPred      bool
	GroundTruth bool
}

// Timeline is the data behind both report formats.
type Timeline struct {
	Title      string
	Subtitle   string
	Thresholds rules.ThresholdSet
	Ticks      []Tick
	// HasModel is set when Probability and MLPred are populated.
	HasModel          bool
	DecisionThreshold float64
}

// FromSession builds a timeline from a run held in memory.
func FromSession(s *detect.Session) (*Timeline, error) {
	if s.Buffer == nil || s.Buffer.Len() == 0 {
		return nil, ErrNoTicks
	}
	tl := &Timeline{
		Title:    "Session " + s.TelemetryPath,
		Subtitle: fmt.Sprintf("run=%s rows=%d", s.ID, s.Buffer.Len()),
	}
	switch {
	case s.Rule != nil:
		tl.Thresholds = s.Rule.Thresholds
	case s.Model != nil:
		tl.Thresholds = s.Model.Thresholds
	}

	tl.Ticks = make([]Tick, s.Buffer.Len())
	for i, smp := range s.Buffer.Samples() {
		tl.Ticks[i] = Tick{Tick: uint(i), Speed: smp.Speed(), GroundTruth: smp.GroundTruthCheat}
	}
	if s.Rule != nil {
		for _, a := range s.Rule.Alerts {
			if int(a.Tick) < len(tl.Ticks) {
				tl.Ticks[a.Tick].RuleAlert = true
			}
		}
	}
	if s.Model != nil {
		tl.HasModel = true
		tl.DecisionThreshold = s.Model.DecisionThreshold
		tl.Subtitle += " policy=" + s.Model.Policy.String()
		for _, r := range s.Model.Records {
			if int(r.Tick) < len(tl.Ticks) {
				tl.Ticks[r.Tick].Probability = r.MLProb
				tl.Ticks[r.Tick].MLPred = r.MLPred
			}
		}
	}
	return tl, nil
}

// FromRecords rebuilds a timeline from stored results. With no evaluation
// records the ticks are the rule alerts alone.
func FromRecords(title string, thr rules.ThresholdSet, decision float64, records []eval.Record, alerts []rules.Alert) (*Timeline, error) {
	tl := &Timeline{Title: title, Thresholds: thr, DecisionThreshold: decision}

	alerted := make(map[uint]bool, len(alerts))
	for _, a := range alerts {
		alerted[a.Tick] = true
	}

	if len(records) > 0 {
		tl.HasModel = true
		tl.Ticks = make([]Tick, len(records))
		for i, r := range records {
			tl.Ticks[i] = Tick{
				Tick:        r.Tick,
				Speed:       r.Speed,
				RuleAlert:   alerted[r.Tick],
				Probability: r.MLProb,
				MLPred:      r.MLPred,
				GroundTruth: r.GroundTruth,
			}
		}
	} else {
		for _, a := range alerts {
			tl.Ticks = append(tl.Ticks, Tick{Tick: a.Tick, Speed: a.Speed, RuleAlert: true})
		}
	}
	if len(tl.Ticks) == 0 {
		return nil, ErrNoTicks
	}
	tl.Subtitle = fmt.Sprintf("ticks=%d rule_alerts=%d", len(tl.Ticks), len(alerts))
	return tl, nil
}
