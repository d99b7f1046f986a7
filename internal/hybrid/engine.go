// Package hybrid combines the model verdict with the rule gate into the final
// per-tick prediction.
package hybrid

import (
	"fmt"

	"github.com/banshee-data/anticheat.report/internal/eval"
)

// Policy selects how the final prediction is formed.
type Policy struct {
	// Hybrid requires the rule gate to agree with the model.
	Hybrid bool
	// Debounce is the number of consecutive ticks the predicate must hold
	// before the final prediction turns on. Values below 2 disable it.
	Debounce int
}

func (p Policy) String() string {
	mode := "ml-only"
	if p.Hybrid {
		mode = "hybrid"
	}
	if p.Debounce > 1 {
		return fmt.Sprintf("%s debounce=%d", mode, p.Debounce)
	}
	return mode
}

// predicate is the undebounced decision for one tick.
func (p Policy) predicate(mlAlert, gate bool) bool {
	if p.Hybrid {
		return mlAlert && gate
	}
	return mlAlert
}

// Decision is the outcome for one tick. The model and rule inputs are kept
// alongside the final prediction so the policy can be re-applied later.
type Decision struct {
	Probability float64
	MLAlert     bool
	RuleGate    bool
	Final       bool
}

// Engine applies a Policy tick by tick. The debounce streak is per-pass
// state; call Reset between sessions.
type Engine struct {
	policy Policy
	streak int
}

// NewEngine returns an engine for p.
func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Reset clears the debounce streak.
func (e *Engine) Reset() { e.streak = 0 }

// Decide forms the final prediction for the next tick.
func (e *Engine) Decide(prob float64, mlAlert, gate bool) Decision {
	if e.policy.predicate(mlAlert, gate) {
		e.streak++
	} else {
		e.streak = 0
	}
	need := e.policy.Debounce
	if need < 1 {
		need = 1
	}
	return Decision{
		Probability: prob,
		MLAlert:     mlAlert,
		RuleGate:    gate,
		Final:       e.streak >= need,
	}
}

// Recompute re-applies p to records using their stored MLAlert and
// RuleAlert, without rerunning inference. The input is not modified.
func Recompute(records []eval.Record, p Policy) []eval.Record {
	e := NewEngine(p)
	out := make([]eval.Record, len(records))
	for i, r := range records {
		d := e.Decide(r.MLProb, r.MLAlert, r.RuleAlert)
		r.MLPred = d.Final
		out[i] = r
	}
	return out
}
