package modelstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/modelstore"
)

func TestInMemoryRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	repo := modelstore.NewInMemoryRepository()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, modelstore.Record{Name: "demand", Version: "v1", Payload: []byte("one"), CreatedAt: base}))
	require.NoError(t, repo.Save(ctx, modelstore.Record{
		Name: "demand", Version: "v2", Payload: []byte("two"),
		Metadata: map[string]string{"samples": "500"}, CreatedAt: base.Add(time.Hour),
	}))

	latest, err := repo.Load(ctx, "demand", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.Version)
	assert.Equal(t, "500", latest.Metadata["samples"])

	first, err := repo.Load(ctx, "demand", "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), first.Payload)

	// Returned records are copies.
	first.Payload[0] = 'X'
	again, err := repo.Load(ctx, "demand", "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), again.Payload)

	versions, err := repo.Versions(ctx, "demand")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", versions[0].Version)
	assert.Equal(t, 3, versions[0].Size)
}

func TestInMemoryRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := modelstore.NewInMemoryRepository()

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name:    "load unknown model",
			run:     func() error { _, err := repo.Load(ctx, "missing", ""); return err },
			wantErr: modelstore.ErrNotFound,
		},
		{
			name:    "empty payload",
			run:     func() error { return repo.Save(ctx, modelstore.Record{Name: "demand", Version: "v1"}) },
			wantErr: modelstore.ErrInvalidRecord,
		},
		{
			name: "duplicate version",
			run: func() error {
				rec := modelstore.Record{Name: "dup", Version: "v1", Payload: []byte("x")}
				if err := repo.Save(ctx, rec); err != nil {
					return err
				}
				return repo.Save(ctx, rec)
			},
			wantErr: modelstore.ErrVersionExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.wantErr)
		})
	}
}
