package model

import (
	"bytes"
	"errors"
	"io/fs"
	"math"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/anticheat.report/internal/features"
	"github.com/banshee-data/anticheat.report/internal/fsutil"
)

const validArtifact = `{
  "features": ["speed", "accel_mag", "speed_roll_mean", "speed_roll_std", "ping_ms", "action"],
  "scaler_mean": [2.0, 0.5, 2.0, 0.3, 50.0, 0.5],
  "scaler_scale": [1.0, 0.5, 1.0, 0.2, 10.0, 0.5],
  "coef": [1.8, 0.6, 1.2, 0.4, -0.05, 0.1],
  "intercept": -3.0,
  "decision_threshold": 0.6
}`

func memFS(t *testing.T, name, content string) *fsutil.MemoryFileSystem {
	t.Helper()
	m := fsutil.NewMemoryFileSystem()
	m.WriteFile(name, []byte(content))
	return m
}

func TestLoadFS_Valid(t *testing.T) {
	m, err := LoadFS(memFS(t, "models/linear_model.json", validArtifact), "models/linear_model.json")
	require.NoError(t, err)

	assert.Equal(t, features.Names, m.Features())
	assert.Equal(t, 6, m.Dim())
	assert.Equal(t, -3.0, m.Intercept())
	assert.Equal(t, 0.6, m.Threshold())
	assert.NoError(t, m.CheckFeatureOrder(features.Names))
}

func TestLoadFS_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		shape   bool
	}{
		{"not json", `{"features": [`, false},
		{"missing intercept", `{"features":["a"],"scaler_mean":[0],"scaler_scale":[1],"coef":[1],"decision_threshold":0.5}`, false},
		{"missing coef", `{"features":["a"],"scaler_mean":[0],"scaler_scale":[1],"intercept":0,"decision_threshold":0.5}`, false},
		{"missing threshold", `{"features":["a"],"scaler_mean":[0],"scaler_scale":[1],"coef":[1],"intercept":0}`, false},
		{"threshold above one", `{"features":["a"],"scaler_mean":[0],"scaler_scale":[1],"coef":[1],"intercept":0,"decision_threshold":1.5}`, false},
		{"zero scale", `{"features":["a"],"scaler_mean":[0],"scaler_scale":[0],"coef":[1],"intercept":0,"decision_threshold":0.5}`, false},
		{"no features", `{"features":[],"scaler_mean":[],"scaler_scale":[],"coef":[],"intercept":0,"decision_threshold":0.5}`, false},
		{"coef short", `{"features":["a","b"],"scaler_mean":[0,0],"scaler_scale":[1,1],"coef":[1],"intercept":0,"decision_threshold":0.5}`, true},
		{"mean long", `{"features":["a"],"scaler_mean":[0,0],"scaler_scale":[1],"coef":[1],"intercept":0,"decision_threshold":0.5}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFS(memFS(t, "m.json", tt.content), "m.json")
			require.Error(t, err)

			var shapeErr *ShapeError
			var loadErr *LoadError
			if tt.shape {
				assert.True(t, errors.As(err, &shapeErr), "want ShapeError, got %T: %v", err, err)
			} else {
				assert.True(t, errors.As(err, &loadErr), "want LoadError, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadFS_ShapeErrorCounts(t *testing.T) {
	content := `{"features":["a","b","c"],"scaler_mean":[0,0,0],"scaler_scale":[1,1],"coef":[1,1,1,1],"intercept":0,"decision_threshold":0.5}`
	_, err := LoadFS(memFS(t, "m.json", content), "m.json")
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, ShapeError{Path: "m.json", Features: 3, Mean: 3, Scale: 2, Coef: 4}, *shapeErr)
}

func TestLoadFS_Missing(t *testing.T) {
	_, err := LoadFS(fsutil.NewMemoryFileSystem(), "nope.json")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "nope.json", loadErr.Path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadFS_TooLarge(t *testing.T) {
	big := bytes.Repeat([]byte(" "), MaxArtifactSize+1)
	m := fsutil.NewMemoryFileSystem()
	m.WriteFile("big.json", big)
	_, err := LoadFS(m, "big.json")
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoad_OSFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linear_model.json")
	osfs := fsutil.OSFileSystem{}
	w, err := osfs.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte(validArtifact))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, m.Dim())
}

func TestInfer(t *testing.T) {
	m, err := New([]string{"a", "b"}, []float64{1, 0}, []float64{0.5, 1}, []float64{1, 0}, 0, 0.5)
	require.NoError(t, err)

	p, err := m.Infer([]float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)

	// z = (2-1)/0.5 = 2
	p, err = m.Infer([]float64{2, 100})
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-2)), p, 1e-12)

	alert, err := m.Predict([]float64{2, 0})
	require.NoError(t, err)
	assert.True(t, alert)

	alert, err = m.Predict([]float64{0, 0})
	require.NoError(t, err)
	assert.False(t, alert)
}

func TestAlertAtThresholdIsInclusive(t *testing.T) {
	m, err := New([]string{"a"}, []float64{0}, []float64{1}, []float64{1}, 0, 0.5)
	require.NoError(t, err)
	p, err := m.Infer([]float64{0})
	require.NoError(t, err)
	require.Equal(t, 0.5, p)
	assert.True(t, m.Alert(p))
}

func TestInfer_Saturates(t *testing.T) {
	m, err := New([]string{"a"}, []float64{0}, []float64{1}, []float64{1}, 0, 0.5)
	require.NoError(t, err)

	p, err := m.Infer([]float64{-1e6})
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)

	p, err = m.Infer([]float64{1e6})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)
}

func TestInfer_FeatureShape(t *testing.T) {
	m, err := LoadFS(memFS(t, "m.json", validArtifact), "m.json")
	require.NoError(t, err)

	_, err = m.Infer([]float64{1, 2, 3})
	var shapeErr *FeatureShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, FeatureShapeError{Got: 3, Want: 6}, *shapeErr)

	_, err = m.Predict(make([]float64, 7))
	assert.ErrorAs(t, err, &shapeErr)
}

func TestInfer_PermutationChangesProbability(t *testing.T) {
	m, err := LoadFS(memFS(t, "m.json", validArtifact), "m.json")
	require.NoError(t, err)

	vec := []float64{4.5, 1.2, 3.9, 0.8, 45, 1}
	base, err := m.Infer(vec)
	require.NoError(t, err)

	// swap speed and accel_mag
	swapped := append([]float64(nil), vec...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	p, err := m.Infer(swapped)
	require.NoError(t, err)
	assert.NotEqual(t, base, p)

	// rotate the whole vector
	rotated := append(append([]float64(nil), vec[1:]...), vec[0])
	p, err = m.Infer(rotated)
	require.NoError(t, err)
	assert.NotEqual(t, base, p)
}

func TestCheckFeatureOrder(t *testing.T) {
	m, err := New([]string{"accel_mag", "speed"}, []float64{0, 0}, []float64{1, 1}, []float64{1, 1}, 0, 0.5)
	require.NoError(t, err)

	err = m.CheckFeatureOrder([]string{"speed", "accel_mag"})
	var orderErr *FeatureOrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, 0, orderErr.Index)

	err = m.CheckFeatureOrder(features.Names)
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, -1, orderErr.Index)
}

func TestNew_CopiesInputs(t *testing.T) {
	coef := []float64{1}
	m, err := New([]string{"a"}, []float64{0}, []float64{1}, coef, 0, 0.5)
	require.NoError(t, err)
	coef[0] = 100

	p, err := m.Infer([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)

	p, err = m.Infer([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-1)), p, 1e-12)
}

func TestMarshalJSON_RoundTrip(t *testing.T) {
	orig, err := LoadFS(memFS(t, "m.json", validArtifact), "m.json")
	require.NoError(t, err)

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	again, err := LoadFS(memFS(t, "copy.json", string(data)), "copy.json")
	require.NoError(t, err)
	assert.Equal(t, orig, again)
}
