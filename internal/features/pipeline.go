// Package features turns telemetry into the per-tick vector scored by the
// linear model.
//
// A Pipeline is stateful: it keeps a rolling window of recent speeds and the
// previous velocity, so it must see ticks once each, in increasing order.
// Call Reset before replaying a session.
package features

import (
	"math"

	"github.com/banshee-data/anticheat.report/internal/telemetry"
)

// DefaultWindow is the rolling window length, in ticks.
const DefaultWindow = 5

// Names is the order of values in every vector produced by Next. Model
// artifacts must list their features in the same order.
var Names = []string{
	"speed",
	"accel_mag",
	"speed_roll_mean",
	"speed_roll_std",
	"ping_ms",
	"action",
}

// Positions in a feature vector.
const (
	Speed = iota
	AccelMag
	SpeedRollMean
	SpeedRollStd
	PingMs
	Action
	Count
)

// Pipeline derives feature vectors one tick at a time.
type Pipeline struct {
	size   int
	window []float64 // ring buffer, oldest at head once full
	head   int
	n      int

	prevVX, prevVY float64
	hasPrev        bool
}

// NewPipeline returns a pipeline with a rolling window of w ticks. A w below
// 1 selects DefaultWindow.
func NewPipeline(w int) *Pipeline {
	if w < 1 {
		w = DefaultWindow
	}
	return &Pipeline{size: w, window: make([]float64, w)}
}

// Window returns the rolling window length.
func (p *Pipeline) Window() int { return p.size }

// Reset clears the rolling window and previous velocity.
func (p *Pipeline) Reset() {
	p.head, p.n = 0, 0
	p.prevVX, p.prevVY = 0, 0
	p.hasPrev = false
}

func (p *Pipeline) push(v float64) {
	if p.n < p.size {
		p.window[(p.head+p.n)%p.size] = v
		p.n++
		return
	}
	// full: overwrite the oldest
	p.window[p.head] = v
	p.head = (p.head + 1) % p.size
}

// rollStats returns the population mean and stddev of the window. The
// stddev is 0 with fewer than two entries.
func (p *Pipeline) rollStats() (mean, std float64) {
	if p.n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < p.n; i++ {
		sum += p.window[i]
	}
	mean = sum / float64(p.n)
	if p.n <= 1 {
		return mean, 0
	}
	var sq float64
	for i := 0; i < p.n; i++ {
		d := p.window[i] - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(p.n))
}

// Next consumes the next tick and returns a fresh vector ordered as Names.
func (p *Pipeline) Next(s telemetry.Sample) []float64 {
	speed := s.Speed()
	p.push(speed)
	mean, std := p.rollStats()

	var accel float64
	if p.hasPrev {
		accel = math.Hypot(s.VX-p.prevVX, s.VY-p.prevVY)
	}

	vec := make([]float64, Count)
	vec[Speed] = speed
	vec[AccelMag] = accel
	vec[SpeedRollMean] = mean
	vec[SpeedRollStd] = std
	vec[PingMs] = float64(s.PingMs)
	vec[Action] = float64(s.Action)

	p.prevVX, p.prevVY = s.VX, s.VY
	p.hasPrev = true
	return vec
}
