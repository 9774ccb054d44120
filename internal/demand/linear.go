package demand

import (
	"errors"
	"math"
)

var errSingular = errors.New("singular system")

// RidgeParams configures ridge regression.
type RidgeParams struct {
	Lambda float64 `json:"lambda"`
}

// Ridge is L2-regularized linear regression on standardized features.
type Ridge struct {
	Params    RidgeParams `json:"params"`
	Means     []float64   `json:"means"`
	Scales    []float64   `json:"scales"`
	Weights   []float64   `json:"weights"`
	Intercept float64     `json:"intercept"`
}

// NewRidge creates an unfitted ridge model.
func NewRidge(params RidgeParams) *Ridge {
	if params.Lambda <= 0 {
		params.Lambda = 1.0
	}
	return &Ridge{Params: params}
}

// Kind implements Regressor.
func (r *Ridge) Kind() Kind { return KindRidge }

// Fit implements Regressor.
func (r *Ridge) Fit(X [][]float64, y []float64) error {
	if err := checkShape(X, y); err != nil {
		return err
	}
	nf := len(X[0])
	n := float64(len(X))

	r.Means = make([]float64, nf)
	r.Scales = make([]float64, nf)
	for _, row := range X {
		for f, v := range row {
			r.Means[f] += v
		}
	}
	for f := range r.Means {
		r.Means[f] /= n
	}
	for _, row := range X {
		for f, v := range row {
			d := v - r.Means[f]
			r.Scales[f] += d * d
		}
	}
	for f := range r.Scales {
		r.Scales[f] = math.Sqrt(r.Scales[f] / n)
		if r.Scales[f] < 1e-12 {
			r.Scales[f] = 1
		}
	}

	Z := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, nf)
		for f, v := range row {
			z[f] = (v - r.Means[f]) / r.Scales[f]
		}
		Z[i] = z
	}

	w, b, err := fitLinear(Z, y, r.Params.Lambda)
	if err != nil {
		return err
	}
	r.Weights, r.Intercept = w, b
	return nil
}

// Predict implements Regressor.
func (r *Ridge) Predict(x []float64) float64 {
	out := r.Intercept
	for f, w := range r.Weights {
		out += w * (x[f] - r.Means[f]) / r.Scales[f]
	}
	return out
}

// fitLinear solves min ||y - b - Xw||² + lambda ||w||² by centering and the
// normal equations.
func fitLinear(X [][]float64, y []float64, lambda float64) ([]float64, float64, error) {
	nf := len(X[0])
	xm := make([]float64, nf)
	for _, row := range X {
		for f, v := range row {
			xm[f] += v
		}
	}
	for f := range xm {
		xm[f] /= float64(len(X))
	}
	ym := mean(y)

	A := make([][]float64, nf)
	for i := range A {
		A[i] = make([]float64, nf)
	}
	rhs := make([]float64, nf)
	for k, row := range X {
		dy := y[k] - ym
		for i := 0; i < nf; i++ {
			di := row[i] - xm[i]
			rhs[i] += di * dy
			for j := i; j < nf; j++ {
				A[i][j] += di * (row[j] - xm[j])
			}
		}
	}
	for i := 0; i < nf; i++ {
		A[i][i] += lambda
		for j := 0; j < i; j++ {
			A[i][j] = A[j][i]
		}
	}

	w, err := solve(A, rhs)
	if err != nil {
		return nil, 0, err
	}
	b := ym
	for f := range w {
		b -= w[f] * xm[f]
	}
	return w, b, nil
}

// solve runs Gaussian elimination with partial pivoting. A and b are consumed.
func solve(A [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(A[r][col]) > math.Abs(A[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(A[pivot][col]) < 1e-12 {
			return nil, errSingular
		}
		A[col], A[pivot] = A[pivot], A[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := A[r][col] / A[col][col]
			if factor == 0 {
				continue
			}
			for c := col; c < n; c++ {
				A[r][c] -= factor * A[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		s := b[r]
		for c := r + 1; c < n; c++ {
			s -= A[r][c] * x[c]
		}
		x[r] = s / A[r][r]
	}
	return x, nil
}

// Combiner is the stacking meta-model: a non-negative linear blend of the
// base model outputs.
type Combiner struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// fitCombiner fits the blend on out-of-fold base predictions P (rows are
// samples, columns are base models). Negative weights are dropped and the
// intercept re-centered; if nothing survives the blend is a plain average.
func fitCombiner(P [][]float64, y []float64) Combiner {
	nm := len(P[0])
	w, _, err := fitLinear(P, y, 1e-3*float64(len(P)))
	if err != nil {
		w = make([]float64, nm)
	}

	positive := 0.0
	for i := range w {
		if w[i] < 0 || math.IsNaN(w[i]) {
			w[i] = 0
		}
		positive += w[i]
	}
	if positive == 0 {
		for i := range w {
			w[i] = 1 / float64(nm)
		}
	}

	means := make([]float64, nm)
	for _, row := range P {
		for j, v := range row {
			means[j] += v
		}
	}
	b := mean(y)
	for j := range means {
		b -= w[j] * means[j] / float64(len(P))
	}
	return Combiner{Weights: w, Intercept: b}
}

// Combine blends base predictions.
func (c Combiner) Combine(preds []float64) float64 {
	out := c.Intercept
	for i, p := range preds {
		out += c.Weights[i] * p
	}
	return out
}
