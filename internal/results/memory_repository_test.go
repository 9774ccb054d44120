package results_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/results"
)

func TestInMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := results.NewInMemoryRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Save(ctx, results.Result{
			ID: id, Kind: results.KindRoutes, Status: results.StatusSucceeded,
			Payload: []byte(`{"n":1}`), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Save(ctx, results.Result{ID: "s", Kind: results.KindSchedules, CreatedAt: base.Add(time.Hour)}))

	latest, err := repo.Latest(ctx, results.KindRoutes)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	list, err := repo.List(ctx, results.KindRoutes, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	got.Payload[0] = 'X'
	again, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(again.Payload))

	// Saving the same id replaces the result.
	require.NoError(t, repo.Save(ctx, results.Result{ID: "a", Kind: results.KindRoutes, Status: results.StatusFailed, CreatedAt: base}))
	got, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, results.StatusFailed, got.Status)
}

func TestInMemoryRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := results.NewInMemoryRepository()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, results.ErrNotFound)

	_, err = repo.Latest(ctx, results.KindTraining)
	assert.ErrorIs(t, err, results.ErrNotFound)

	err = repo.Save(ctx, results.Result{ID: "x", Kind: "bogus"})
	assert.ErrorIs(t, err, results.ErrInvalidResult)
}

func TestNew(t *testing.T) {
	res, err := results.New(results.KindSchedules, results.StatusSucceeded, map[string]int{"vehicles": 12})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, results.KindSchedules, res.Kind)

	var v map[string]int
	require.NoError(t, res.Decode(&v))
	assert.Equal(t, 12, v["vehicles"])
}
