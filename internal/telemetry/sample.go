// Package telemetry holds the per-tick samples of one recorded session.
//
// Samples are parsed from the session CSV
//
//	timestamp,x,y,vx,vy,action,ping_ms,ground_truth_cheat
//
// and kept in tick order for the full detection pass. Parsing is lenient:
// a field that fails to parse becomes zero and is reported as a FieldError
// on the row instead of rejecting it.
package telemetry

import (
	"math"
	"strconv"
	"strings"
)

// Header is the column layout written by the session recorder.
const Header = "timestamp,x,y,vx,vy,action,ping_ms,ground_truth_cheat"

// Sample is one telemetry tick. It is immutable once parsed.
type Sample struct {
	Timestamp        float64
	X, Y             float64
	VX, VY           float64
	Action           int
	PingMs           int
	GroundTruthCheat bool
}

// Speed is the magnitude of the velocity vector.
func (s Sample) Speed() float64 {
	return math.Sqrt(s.VX*s.VX + s.VY*s.VY)
}

// FormatRow renders s in the CSV layout described by Header.
func FormatRow(s Sample) string {
	cheat := "0"
	if s.GroundTruthCheat {
		cheat = "1"
	}
	return strings.Join([]string{
		strconv.FormatFloat(s.Timestamp, 'f', -1, 64),
		strconv.FormatFloat(s.X, 'f', -1, 64),
		strconv.FormatFloat(s.Y, 'f', -1, 64),
		strconv.FormatFloat(s.VX, 'f', -1, 64),
		strconv.FormatFloat(s.VY, 'f', -1, 64),
		strconv.Itoa(s.Action),
		strconv.Itoa(s.PingMs),
		cheat,
	}, ",")
}
