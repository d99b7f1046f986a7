package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Header is the evaluation CSV column layout.
var Header = []string{"tick", "speed", "ml_prob", "ml_pred", "rule_alert", "cheat_flag"}

// Record is the outcome of one tick in the model pass.
type Record struct {
	Tick   uint    `json:"tick"`
	Speed  float64 `json:"speed"`
	MLProb float64 `json:"ml_prob"`
	// MLAlert is the raw model verdict, MLProb >= decision threshold.
	MLAlert bool `json:"ml_alert"`
	// MLPred is the final prediction after the decision policy.
	MLPred bool `json:"ml_pred"`
	// RuleAlert is the hybrid rule gate (robust or absolute threshold).
	RuleAlert   bool `json:"rule_alert"`
	GroundTruth bool `json:"ground_truth"`
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatUint(uint64(r.Tick), 10),
			strconv.FormatFloat(r.Speed, 'f', 6, 64),
			// shortest exact form, so a reload reproduces every threshold verdict
			strconv.FormatFloat(r.MLProb, 'g', -1, 64),
			boolField(r.MLPred),
			boolField(r.RuleAlert),
			boolField(r.GroundTruth),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an evaluation CSV written by WriteCSV. MLAlert is not part
// of the file and is left false; callers derive it from MLProb.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("failed to read eval header: %w", err)
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("eval line %d: %w", line, err)
		}
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("eval line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRecord(row []string) (Record, error) {
	var rec Record
	tick, err := strconv.ParseUint(row[0], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid tick %q: %w", row[0], err)
	}
	rec.Tick = uint(tick)
	if rec.Speed, err = strconv.ParseFloat(row[1], 64); err != nil {
		return rec, fmt.Errorf("invalid speed %q: %w", row[1], err)
	}
	if rec.MLProb, err = strconv.ParseFloat(row[2], 64); err != nil {
		return rec, fmt.Errorf("invalid ml_prob %q: %w", row[2], err)
	}
	flags := []*bool{&rec.MLPred, &rec.RuleAlert, &rec.GroundTruth}
	for i, dst := range flags {
		raw := row[3+i]
		switch raw {
		case "0":
			*dst = false
		case "1":
			*dst = true
		default:
			return rec, fmt.Errorf("invalid %s %q", Header[3+i], raw)
		}
	}
	return rec, nil
}
