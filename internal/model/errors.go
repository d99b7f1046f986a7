package model

import (
	"fmt"
	"strings"
)

// LoadError is returned when an artifact cannot be opened, parsed, or is
// missing a required key or value.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ShapeError is returned when the four parallel arrays of an artifact do not
// share one length.
type ShapeError struct {
	Path                        string
	Features, Mean, Scale, Coef int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("model: %s: dimension mismatch: features=%d scaler_mean=%d scaler_scale=%d coef=%d",
		e.Path, e.Features, e.Mean, e.Scale, e.Coef)
}

// FeatureShapeError is returned by inference when the vector length is not
// the model dimension.
type FeatureShapeError struct {
	Got, Want int
}

func (e *FeatureShapeError) Error() string {
	return fmt.Sprintf("model: feature vector has %d values, model expects %d", e.Got, e.Want)
}

// FeatureOrderError is returned when the artifact's feature names do not
// match the order the vectors are assembled in.
type FeatureOrderError struct {
	Want, Got []string
	// Index is the first differing position, or -1 for a length mismatch.
	Index int
}

func (e *FeatureOrderError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("model: artifact lists %d features, pipeline produces %d", len(e.Got), len(e.Want))
	}
	return fmt.Sprintf("model: feature %d is %q, pipeline produces %q (artifact order [%s])",
		e.Index, e.Got[e.Index], e.Want[e.Index], strings.Join(e.Got, ","))
}
