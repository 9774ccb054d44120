package demand

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// baseModels returns fresh, unfitted instances of every base regressor.
func baseModels(cfg FeatureConfig) []Regressor {
	return []Regressor{
		NewRandomForest(cfg.Forest, cfg.Seed),
		NewGradientBoosting(cfg.Boosting, cfg.Seed+1),
		NewTree(cfg.Tree, cfg.Seed+2),
		NewRidge(cfg.Ridge),
	}
}

// fitAll fits each model on the same data concurrently.
func fitAll(ctx context.Context, models []Regressor, X [][]float64, y []float64) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range models {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.Fit(X, y); err != nil {
				return fmt.Errorf("fit %s: %w", m.Kind(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

type trainingRow struct {
	x []float64
	y float64
}

// fitEnsemble trains the stacking ensemble. Samples are shuffled with the
// configured seed; the trailing HoldoutFraction is held out for evaluation.
// The combiner is fitted on out-of-fold base predictions over the training
// part, then the base models are refitted on the whole training part.
func fitEnsemble(ctx context.Context, samples []Sample, attrs []Attributes, cfg FeatureConfig) (*Artifact, error) {
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5bd1e995))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	nHold := int(cfg.HoldoutFraction * float64(len(samples)))
	trainIdx, holdIdx := order[:len(order)-nHold], order[len(order)-nHold:]
	if len(trainIdx) < cfg.Folds {
		return nil, fmt.Errorf("%w: %d training rows for %d folds", ErrInsufficientData, len(trainIdx), cfg.Folds)
	}

	trainSamples := make([]Sample, len(trainIdx))
	for i, k := range trainIdx {
		trainSamples[i] = samples[k]
	}
	transform := fitTransform(trainSamples, cfg)

	rows := func(idx []int) ([][]float64, []float64) {
		X := make([][]float64, len(idx))
		y := make([]float64, len(idx))
		for i, k := range idx {
			s := samples[k]
			X[i] = transform.Vector(s.StopID, s.RouteID, s.Timestamp, attrs[k], nil)
			y[i] = s.Count
		}
		return X, y
	}
	X, y := rows(trainIdx)
	Xh, yh := rows(holdIdx)

	oof, err := outOfFold(ctx, X, y, cfg)
	if err != nil {
		return nil, err
	}
	combiner := fitCombiner(oof, y)

	models := baseModels(cfg)
	if err := fitAll(ctx, models, X, y); err != nil {
		return nil, err
	}

	a := &Artifact{
		Version:       uuid.NewString(),
		TrainedAt:     time.Now().UTC(),
		SampleCount:   len(samples),
		SchemaVersion: SchemaVersion,
		FeatureNames:  append([]string(nil), FeatureNames...),
		Transform:     transform,
		Combiner:      combiner,
		regressors:    models,
	}
	for _, m := range models {
		a.Models = append(a.Models, specOf(m))
	}
	a.Evaluation = evaluateArtifact(a, Xh, yh)
	return a, nil
}

// outOfFold returns, for every training row, the base model predictions made
// by models that did not see that row.
func outOfFold(ctx context.Context, X [][]float64, y []float64, cfg FeatureConfig) ([][]float64, error) {
	k := cfg.Folds
	oof := make([][]float64, len(X))
	for fold := 0; fold < k; fold++ {
		var fitX [][]float64
		var fitY []float64
		var held []int
		for i := range X {
			if i%k == fold {
				held = append(held, i)
				continue
			}
			fitX = append(fitX, X[i])
			fitY = append(fitY, y[i])
		}

		models := baseModels(cfg)
		if err := fitAll(ctx, models, fitX, fitY); err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold, err)
		}
		for _, i := range held {
			p := make([]float64, len(models))
			for j, m := range models {
				p[j] = m.Predict(X[i])
			}
			oof[i] = p
		}
	}
	return oof, nil
}

func evaluateArtifact(a *Artifact, X [][]float64, y []float64) Evaluation {
	ev := Evaluation{Weights: make(map[Kind]float64, len(a.Models))}
	for i, m := range a.Models {
		ev.Weights[m.Kind] = a.Combiner.Weights[i]
	}
	if len(X) == 0 {
		return ev
	}

	ev.Models = make(map[Kind]Metrics, len(a.regressors))
	for _, r := range a.regressors {
		pred := make([]float64, len(X))
		for i, x := range X {
			pred[i] = r.Predict(x)
		}
		ev.Models[r.Kind()] = score(y, pred)
	}

	pred := make([]float64, len(X))
	for i, x := range X {
		pred[i], _, _ = a.predict(x)
	}
	ev.Ensemble = score(y, pred)
	return ev
}
