// Package model loads a pre-trained logistic regression artifact and scores
// feature vectors with it.
//
// The artifact is JSON:
//
//	{
//	  "features": ["speed", ...],
//	  "scaler_mean": [...],
//	  "scaler_scale": [...],
//	  "coef": [...],
//	  "intercept": -2.1,
//	  "decision_threshold": 0.5
//	}
//
// A LinearModel is immutable once loaded and safe for concurrent use.
package model

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/banshee-data/anticheat.report/internal/fsutil"
)

// MaxArtifactSize bounds the artifact file.
const MaxArtifactSize = 1 * 1024 * 1024 // 1MB

// LinearModel is a standardizing logistic regression.
type LinearModel struct {
	features  []string
	mean      []float64
	scale     []float64
	coef      []float64
	intercept float64
	threshold float64
}

type artifact struct {
	Features          []string  `json:"features"`
	ScalerMean        []float64 `json:"scaler_mean"`
	ScalerScale       []float64 `json:"scaler_scale"`
	Coef              []float64 `json:"coef"`
	Intercept         *float64  `json:"intercept"`
	DecisionThreshold *float64  `json:"decision_threshold"`
}

// New builds a model from its parts. The slices are copied.
func New(features []string, mean, scale, coef []float64, intercept, threshold float64) (*LinearModel, error) {
	a := artifact{
		Features:          features,
		ScalerMean:        mean,
		ScalerScale:       scale,
		Coef:              coef,
		Intercept:         &intercept,
		DecisionThreshold: &threshold,
	}
	return fromArtifact("<memory>", a)
}

// Load reads the artifact at path from the OS filesystem.
func Load(path string) (*LinearModel, error) {
	return LoadFS(nil, path)
}

// LoadFS reads the artifact at path from fsys.
func LoadFS(fsys fsutil.FileSystem, path string) (*LinearModel, error) {
	fsys = fsutil.Or(fsys)
	cleanPath := filepath.Clean(path)

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if info.Size() > MaxArtifactSize {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("artifact too large: %d bytes (max %d)", info.Size(), MaxArtifactSize)}
	}

	f, err := fsys.Open(cleanPath)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	return fromArtifact(path, a)
}

func fromArtifact(path string, a artifact) (*LinearModel, error) {
	missing := func(key string) error {
		return &LoadError{Path: path, Err: fmt.Errorf("missing key %q", key)}
	}
	switch {
	case a.Features == nil:
		return nil, missing("features")
	case a.ScalerMean == nil:
		return nil, missing("scaler_mean")
	case a.ScalerScale == nil:
		return nil, missing("scaler_scale")
	case a.Coef == nil:
		return nil, missing("coef")
	case a.Intercept == nil:
		return nil, missing("intercept")
	case a.DecisionThreshold == nil:
		return nil, missing("decision_threshold")
	}

	n := len(a.Features)
	if len(a.ScalerMean) != n || len(a.ScalerScale) != n || len(a.Coef) != n {
		return nil, &ShapeError{
			Path:     path,
			Features: n,
			Mean:     len(a.ScalerMean),
			Scale:    len(a.ScalerScale),
			Coef:     len(a.Coef),
		}
	}
	if n == 0 {
		return nil, &LoadError{Path: path, Err: errors.New("artifact has no features")}
	}
	for i, s := range a.ScalerScale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("scaler_scale[%d] (%s) is %v", i, a.Features[i], s)}
		}
	}
	if thr := *a.DecisionThreshold; thr < 0 || thr > 1 || math.IsNaN(thr) {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("decision_threshold %v outside [0,1]", thr)}
	}

	return &LinearModel{
		features:  append([]string(nil), a.Features...),
		mean:      append([]float64(nil), a.ScalerMean...),
		scale:     append([]float64(nil), a.ScalerScale...),
		coef:      append([]float64(nil), a.Coef...),
		intercept: *a.Intercept,
		threshold: *a.DecisionThreshold,
	}, nil
}

// Features returns a copy of the artifact's feature names, in order.
func (m *LinearModel) Features() []string { return append([]string(nil), m.features...) }

// Dim is the expected feature vector length.
func (m *LinearModel) Dim() int { return len(m.coef) }

// Threshold is the decision threshold on the probability.
func (m *LinearModel) Threshold() float64 { return m.threshold }

// Intercept is the bias term.
func (m *LinearModel) Intercept() float64 { return m.intercept }

// Infer standardizes x and returns the logistic probability of a cheat.
func (m *LinearModel) Infer(x []float64) (float64, error) {
	if len(x) != len(m.coef) {
		return 0, &FeatureShapeError{Got: len(x), Want: len(m.coef)}
	}
	score := m.intercept
	for i, v := range x {
		z := (v - m.mean[i]) / m.scale[i]
		score += m.coef[i] * z
	}
	return 1.0 / (1.0 + math.Exp(-score)), nil
}

// Alert applies the decision threshold to a probability.
func (m *LinearModel) Alert(prob float64) bool { return prob >= m.threshold }

// Predict scores x and applies the decision threshold.
func (m *LinearModel) Predict(x []float64) (bool, error) {
	p, err := m.Infer(x)
	if err != nil {
		return false, err
	}
	return m.Alert(p), nil
}

// CheckFeatureOrder reports a *FeatureOrderError unless the artifact lists
// exactly names, in the same order.
func (m *LinearModel) CheckFeatureOrder(names []string) error {
	if len(names) != len(m.features) {
		return &FeatureOrderError{Want: names, Got: m.Features(), Index: -1}
	}
	for i := range names {
		if names[i] != m.features[i] {
			return &FeatureOrderError{Want: names, Got: m.Features(), Index: i}
		}
	}
	return nil
}

// MarshalJSON renders the model in artifact form.
func (m *LinearModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(artifact{
		Features:          m.features,
		ScalerMean:        m.mean,
		ScalerScale:       m.scale,
		Coef:              m.coef,
		Intercept:         &m.intercept,
		DecisionThreshold: &m.threshold,
	})
}
