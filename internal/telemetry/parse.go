package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field identifies a column of the telemetry CSV.
type Field int

const (
	FieldTimestamp Field = iota
	FieldX
	FieldY
	FieldVX
	FieldVY
	FieldAction
	FieldPing
	FieldGroundTruth
	fieldCount
)

var fieldNames = [fieldCount]string{
	"timestamp", "x", "y", "vx", "vy", "action", "ping_ms", "ground_truth_cheat",
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// ErrMissingField marks a row that ended before the field was reached.
var ErrMissingField = errors.New("missing field")

// FieldError records a field that defaulted to zero.
type FieldError struct {
	Field Field
	Raw   string
	Err   error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrMissingField) {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: cannot parse %q: %v", e.Field, e.Raw, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// RowResult is the outcome of parsing one data line. Sample is always
// usable; Issues lists the fields that were defaulted.
type RowResult struct {
	Sample Sample
	Issues []FieldError
}

// OK reports whether every field parsed cleanly.
func (r RowResult) OK() bool { return len(r.Issues) == 0 }

// ParseRow extracts the fields of line positionally. Extra trailing columns
// are ignored. No quoting is supported.
func ParseRow(line string) RowResult {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	var res RowResult

	raw := func(f Field) (string, bool) {
		if int(f) >= len(parts) {
			res.Issues = append(res.Issues, FieldError{Field: f, Err: ErrMissingField})
			return "", false
		}
		return strings.TrimSpace(parts[f]), true
	}
	float := func(f Field) float64 {
		s, ok := raw(f)
		if !ok {
			return 0
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			res.Issues = append(res.Issues, FieldError{Field: f, Raw: s, Err: unwrapNum(err)})
			return 0
		}
		return v
	}
	integer := func(f Field) int {
		s, ok := raw(f)
		if !ok {
			return 0
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			res.Issues = append(res.Issues, FieldError{Field: f, Raw: s, Err: unwrapNum(err)})
			return 0
		}
		return v
	}

	res.Sample = Sample{
		Timestamp: float(FieldTimestamp),
		X:         float(FieldX),
		Y:         float(FieldY),
		VX:        float(FieldVX),
		VY:        float(FieldVY),
		Action:    integer(FieldAction),
		PingMs:    integer(FieldPing),
	}
	res.Sample.GroundTruthCheat = integer(FieldGroundTruth) == 1
	return res
}

func unwrapNum(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}
