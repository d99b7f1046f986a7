// Package eval scores per-tick predictions against ground truth. The same
// collector serves the rule-only detector and the model pass.
package eval

import "fmt"

// ConfusionMatrix counts predictions against ground truth.
type ConfusionMatrix struct {
	TP uint `json:"tp"`
	FP uint `json:"fp"`
	FN uint `json:"fn"`
	TN uint `json:"tn"`
}

// Add folds one prediction into the matrix.
func (m *ConfusionMatrix) Add(pred, truth bool) {
	switch {
	case pred && truth:
		m.TP++
	case pred && !truth:
		m.FP++
	case !pred && truth:
		m.FN++
	default:
		m.TN++
	}
}

// Precision is TP/(TP+FP), or 0 when nothing was predicted positive.
func (m ConfusionMatrix) Precision() float64 {
	if m.TP+m.FP == 0 {
		return 0
	}
	return float64(m.TP) / float64(m.TP+m.FP)
}

// Recall is TP/(TP+FN), or 0 when there are no positives.
func (m ConfusionMatrix) Recall() float64 {
	if m.TP+m.FN == 0 {
		return 0
	}
	return float64(m.TP) / float64(m.TP+m.FN)
}

// Total is the number of predictions folded in.
func (m ConfusionMatrix) Total() uint {
	return m.TP + m.FP + m.FN + m.TN
}

func (m ConfusionMatrix) String() string {
	return fmt.Sprintf("TP=%d FP=%d FN=%d TN=%d | precision=%.2f recall=%.2f",
		m.TP, m.FP, m.FN, m.TN, m.Precision(), m.Recall())
}

// Collector accumulates a confusion matrix and the number of alerts raised.
type Collector struct {
	Matrix ConfusionMatrix
	Alerts uint
}

// Observe records one tick's final prediction.
func (c *Collector) Observe(pred, truth bool) {
	if pred {
		c.Alerts++
	}
	c.Matrix.Add(pred, truth)
}

// Fold collects the final predictions carried by records.
func Fold(records []Record) Collector {
	var c Collector
	for _, r := range records {
		c.Observe(r.MLPred, r.GroundTruth)
	}
	return c
}
