package demand

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
)

// Artifact is an immutable trained model: the fitted feature transform, the
// base regressors and the stacking combiner. Once published it is never
// modified, so concurrent readers need no locking.
type Artifact struct {
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	TrainedAt     time.Time   `json:"trained_at"`
	SampleCount   int         `json:"sample_count"`
	SchemaVersion int         `json:"schema_version"`
	FeatureNames  []string    `json:"feature_names"`
	Transform     *Transform  `json:"transform"`
	Models        []ModelSpec `json:"models"`
	Combiner      Combiner    `json:"combiner"`
	Evaluation    Evaluation  `json:"evaluation"`

	regressors []Regressor
}

// Encode serializes the artifact.
func (a *Artifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeArtifact restores an artifact produced by Encode.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := a.bind(); err != nil {
		return nil, err
	}
	return &a, nil
}

// bind rebuilds the unexported runtime state and checks the feature schema.
func (a *Artifact) bind() error {
	if a.SchemaVersion != SchemaVersion || !slices.Equal(a.FeatureNames, FeatureNames) {
		return fmt.Errorf("%w: artifact schema v%d, runtime v%d", ErrFeatureMismatch, a.SchemaVersion, SchemaVersion)
	}
	if a.Transform == nil {
		return fmt.Errorf("%w: artifact has no feature transform", ErrFeatureMismatch)
	}
	if len(a.Models) == 0 || len(a.Models) != len(a.Combiner.Weights) {
		return fmt.Errorf("%w: %d base models for %d combiner weights", ErrFeatureMismatch, len(a.Models), len(a.Combiner.Weights))
	}
	a.Transform.init()
	a.regressors = make([]Regressor, len(a.Models))
	for i, spec := range a.Models {
		r, err := spec.Regressor()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFeatureMismatch, err)
		}
		a.regressors[i] = r
	}
	return nil
}

// predict returns the non-negative stacked estimate and the agreement-based
// confidence for one feature vector.
func (a *Artifact) predict(x []float64) (float64, float64, error) {
	if len(x) != len(a.FeatureNames) {
		return 0, 0, fmt.Errorf("%w: got %d features, want %d", ErrFeatureMismatch, len(x), len(a.FeatureNames))
	}
	base := make([]float64, len(a.regressors))
	for i, r := range a.regressors {
		base[i] = r.Predict(x)
	}

	value := a.Combiner.Combine(base)
	if value < 0 || math.IsNaN(value) {
		value = 0
	}
	return value, confidence(base), nil
}

// confidence is one minus the coefficient of variation of the base model
// outputs, clamped to [0, 1].
func confidence(base []float64) float64 {
	mu := mean(base)
	var ss float64
	for _, v := range base {
		d := v - mu
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(base)))

	var c float64
	switch {
	case math.IsNaN(mu) || math.IsNaN(sigma):
		return 0
	case mu <= 0 && sigma < 1e-9:
		c = 1
	case mu <= 0:
		c = 0
	default:
		c = 1 - sigma/mu
	}
	return math.Max(0, math.Min(1, c))
}

// Info is the public summary of an artifact.
type Info struct {
	Name          string     `json:"name"`
	Version       string     `json:"version"`
	TrainedAt     time.Time  `json:"trained_at"`
	SampleCount   int        `json:"sample_count"`
	SchemaVersion int        `json:"schema_version"`
	Models        []Kind     `json:"models"`
	Evaluation    Evaluation `json:"evaluation"`
}

// Info summarizes the artifact.
func (a *Artifact) Info() Info {
	kinds := make([]Kind, len(a.Models))
	for i, m := range a.Models {
		kinds[i] = m.Kind
	}
	return Info{
		Name:          a.Name,
		Version:       a.Version,
		TrainedAt:     a.TrainedAt,
		SampleCount:   a.SampleCount,
		SchemaVersion: a.SchemaVersion,
		Models:        kinds,
		Evaluation:    a.Evaluation,
	}
}
