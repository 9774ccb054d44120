package demand

import "math"

// Metrics are regression scores on held-out samples.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
	N    int     `json:"n"`
}

// Evaluation summarizes a training run.
type Evaluation struct {
	Models   map[Kind]Metrics `json:"models,omitempty"`
	Ensemble Metrics          `json:"ensemble"`
	Weights  map[Kind]float64 `json:"weights"`
}

func score(y, pred []float64) Metrics {
	if len(y) == 0 {
		return Metrics{}
	}
	ym := mean(y)
	var abs, sq, tot float64
	for i := range y {
		d := y[i] - pred[i]
		abs += math.Abs(d)
		sq += d * d
		t := y[i] - ym
		tot += t * t
	}
	n := float64(len(y))
	r2 := 0.0
	if tot > 0 {
		r2 = 1 - sq/tot
	}
	return Metrics{MAE: abs / n, RMSE: math.Sqrt(sq / n), R2: r2, N: len(y)}
}
