// Package testutil provides shared test fixtures: a deterministic synthetic
// session with a speed-hack burst, and writers for telemetry and model files.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/banshee-data/anticheat.report/internal/features"
	"github.com/banshee-data/anticheat.report/internal/model"
	"github.com/banshee-data/anticheat.report/internal/telemetry"
)

// SessionConfig shapes a synthetic session. Ticks in [BurstStart, BurstEnd]
// have their velocity multiplied by Scale and are labelled as cheats.
type SessionConfig struct {
	Ticks      int
	BurstStart int
	BurstEnd   int
	Scale      float64
	// DT is the tick period in seconds.
	DT float64
}

// DefaultSession is 200 ticks at 20 Hz with a 5x burst over ticks 70-80.
var DefaultSession = SessionConfig{Ticks: 200, BurstStart: 70, BurstEnd: 80, Scale: 5, DT: 0.05}

// Synthetic generates a session. Baseline speed cycles through
// 0.9, 0.95, 1.0, 1.05 and 1.1 along x, so the session median is exactly 1.
func Synthetic(cfg SessionConfig) []telemetry.Sample {
	out := make([]telemetry.Sample, cfg.Ticks)
	var x, y float64
	for i := range out {
		vx := 1 + 0.05*float64(i%5-2)
		vy := 0.0
		cheat := i >= cfg.BurstStart && i <= cfg.BurstEnd
		if cheat {
			vx *= cfg.Scale
		}
		x += vx * cfg.DT
		y += vy * cfg.DT
		action := 0
		if i%3 == 0 {
			action = 1
		}
		out[i] = telemetry.Sample{
			Timestamp:        float64(i) * cfg.DT,
			X:                x,
			Y:                y,
			VX:               vx,
			VY:               vy,
			Action:           action,
			PingMs:           40 + 3*(i%7),
			GroundTruthCheat: cheat,
		}
	}
	return out
}

// TelemetryCSV renders samples with a header line.
func TelemetryCSV(samples []telemetry.Sample) string {
	var b strings.Builder
	b.WriteString(telemetry.Header)
	b.WriteByte('\n')
	for _, s := range samples {
		b.WriteString(telemetry.FormatRow(s))
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteTelemetry writes samples as telemetry CSV to path, creating parent
// directories.
func WriteTelemetry(t testing.TB, path string, samples []telemetry.Sample) {
	t.Helper()
	WriteFile(t, path, []byte(TelemetryCSV(samples)))
}

// CalibratedModel is a model tuned to DefaultSession: speed dominates, so
// burst ticks score near 1 and baseline ticks near 0. The ticks just after
// a burst still carry a high rolling mean, which is where the rule gate
// earns its keep.
func CalibratedModel(t testing.TB) *model.LinearModel {
	t.Helper()
	m, err := model.New(
		features.Names,
		[]float64{1.0, 0.1, 1.0, 0.05, 50, 0.3},
		[]float64{0.5, 0.5, 0.5, 0.5, 10, 0.5},
		[]float64{3.0, 0.5, 1.0, 0.5, 0, 0},
		-6.0,
		0.5,
	)
	if err != nil {
		t.Fatalf("calibrated model: %v", err)
	}
	return m
}

// WriteModel writes m in artifact form to path.
func WriteModel(t testing.TB, path string, m *model.LinearModel) {
	t.Helper()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		t.Fatalf("marshal model: %v", err)
	}
	WriteFile(t, path, data)
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Recorder captures log lines. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	Lines []string
}

// Logf matches monitoring.LogFunc.
func (r *Recorder) Logf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, fmt.Sprintf(format, v...))
}

// Contains reports whether any captured line contains substr.
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.Lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
