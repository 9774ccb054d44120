package demand

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Kind names a base regressor variant.
type Kind string

// The closed set of base regressors.
const (
	KindRandomForest     Kind = "random_forest"
	KindGradientBoosting Kind = "gradient_boosting"
	KindDecisionTree     Kind = "decision_tree"
	KindRidge            Kind = "ridge"
)

// Regressor is the capability shared by every base model.
type Regressor interface {
	Kind() Kind
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) float64
}

// ModelSpec is the serialized form of one base model. Exactly one pointer is set.
type ModelSpec struct {
	Kind     Kind              `json:"kind"`
	Forest   *RandomForest     `json:"forest,omitempty"`
	Boosting *GradientBoosting `json:"boosting,omitempty"`
	Tree     *Tree             `json:"tree,omitempty"`
	Ridge    *Ridge            `json:"ridge,omitempty"`
}

func specOf(r Regressor) ModelSpec {
	s := ModelSpec{Kind: r.Kind()}
	switch m := r.(type) {
	case *RandomForest:
		s.Forest = m
	case *GradientBoosting:
		s.Boosting = m
	case *Tree:
		s.Tree = m
	case *Ridge:
		s.Ridge = m
	}
	return s
}

// Regressor returns the model held by the spec.
func (s ModelSpec) Regressor() (Regressor, error) {
	switch {
	case s.Kind == KindRandomForest && s.Forest != nil:
		return s.Forest, nil
	case s.Kind == KindGradientBoosting && s.Boosting != nil:
		return s.Boosting, nil
	case s.Kind == KindDecisionTree && s.Tree != nil:
		return s.Tree, nil
	case s.Kind == KindRidge && s.Ridge != nil:
		return s.Ridge, nil
	}
	return nil, fmt.Errorf("model spec %q has no parameters", s.Kind)
}

func checkShape(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: empty design matrix", ErrInsufficientData)
	}
	if len(X) != len(y) {
		return fmt.Errorf("design matrix has %d rows but %d targets", len(X), len(y))
	}
	return nil
}

// ForestParams configures a random forest.
type ForestParams struct {
	Trees int        `json:"trees"`
	Tree  TreeParams `json:"tree"`
}

// RandomForest averages bootstrap-trained trees with per-split feature sampling.
type RandomForest struct {
	Params  ForestParams `json:"params"`
	Members []*Tree      `json:"members"`
	Seed    uint64       `json:"seed"`
}

// NewRandomForest creates an unfitted forest.
func NewRandomForest(params ForestParams, seed uint64) *RandomForest {
	if params.Trees <= 0 {
		params.Trees = 40
	}
	params.Tree = params.Tree.withDefaults(10, 3)
	return &RandomForest{Params: params, Seed: seed}
}

// Kind implements Regressor.
func (f *RandomForest) Kind() Kind { return KindRandomForest }

// Fit implements Regressor.
func (f *RandomForest) Fit(X [][]float64, y []float64) error {
	if err := checkShape(X, y); err != nil {
		return err
	}
	b := newBinning(X)
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed+1))

	params := f.Params.Tree
	if params.MaxFeatures == 0 {
		params.MaxFeatures = max(1, len(X[0])/3)
	}

	f.Members = make([]*Tree, f.Params.Trees)
	idx := make([]int, len(X))
	for m := range f.Members {
		for i := range idx {
			idx[i] = rng.IntN(len(X))
		}
		t := &Tree{Params: params, Seed: rng.Uint64()}
		t.grow(b, y, idx, rand.New(rand.NewPCG(t.Seed, uint64(m))))
		f.Members[m] = t
	}
	return nil
}

// Predict implements Regressor.
func (f *RandomForest) Predict(x []float64) float64 {
	if len(f.Members) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Members {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Members))
}

// BoostingParams configures gradient boosting.
type BoostingParams struct {
	Stages       int        `json:"stages"`
	LearningRate float64    `json:"learning_rate"`
	Subsample    float64    `json:"subsample"`
	Tree         TreeParams `json:"tree"`
}

// GradientBoosting fits shallow trees to squared-error residuals.
type GradientBoosting struct {
	Params BoostingParams `json:"params"`
	Init   float64        `json:"init"`
	Stages []*Tree        `json:"stages"`
	Seed   uint64         `json:"seed"`
}

// NewGradientBoosting creates an unfitted booster.
func NewGradientBoosting(params BoostingParams, seed uint64) *GradientBoosting {
	if params.Stages <= 0 {
		params.Stages = 80
	}
	if params.LearningRate <= 0 {
		params.LearningRate = 0.1
	}
	if params.Subsample <= 0 || params.Subsample > 1 {
		params.Subsample = 0.8
	}
	params.Tree = params.Tree.withDefaults(3, 5)
	return &GradientBoosting{Params: params, Seed: seed}
}

// Kind implements Regressor.
func (g *GradientBoosting) Kind() Kind { return KindGradientBoosting }

// Fit implements Regressor.
func (g *GradientBoosting) Fit(X [][]float64, y []float64) error {
	if err := checkShape(X, y); err != nil {
		return err
	}
	b := newBinning(X)
	rng := rand.New(rand.NewPCG(g.Seed, g.Seed+7))

	g.Init = mean(y)
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = g.Init
	}
	residual := make([]float64, len(y))
	sampleSize := max(1, int(math.Round(g.Params.Subsample*float64(len(y)))))
	perm := make([]int, len(y))

	g.Stages = make([]*Tree, 0, g.Params.Stages)
	for s := 0; s < g.Params.Stages; s++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}
		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		t := &Tree{Params: g.Params.Tree, Seed: uint64(s)}
		t.grow(b, residual, append([]int(nil), perm[:sampleSize]...), rng)
		g.Stages = append(g.Stages, t)

		for i, row := range X {
			pred[i] += g.Params.LearningRate * t.Predict(row)
		}
	}
	return nil
}

// Predict implements Regressor.
func (g *GradientBoosting) Predict(x []float64) float64 {
	out := g.Init
	for _, t := range g.Stages {
		out += g.Params.LearningRate * t.Predict(x)
	}
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
