package modelstore

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for tests and single-process deployments.
type InMemoryRepository struct {
	mu     sync.RWMutex
	models map[string][]Record // insertion order
}

// NewInMemoryRepository creates a new in-memory model store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{models: make(map[string][]Record)}
}

// Save stores a new version.
func (r *InMemoryRepository) Save(_ context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.models[rec.Name] {
		if existing.Version == rec.Version {
			return ErrVersionExists
		}
	}
	r.models[rec.Name] = append(r.models[rec.Name], copyRecord(rec))
	return nil
}

// Load retrieves a version, or the latest one when version is empty.
func (r *InMemoryRepository) Load(_ context.Context, name, version string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.models[name]
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	if version == "" {
		rec := copyRecord(recs[len(recs)-1])
		return &rec, nil
	}
	for _, rec := range recs {
		if rec.Version == version {
			cpy := copyRecord(rec)
			return &cpy, nil
		}
	}
	return nil, ErrNotFound
}

// Versions lists stored versions newest first.
func (r *InMemoryRepository) Versions(_ context.Context, name string) ([]VersionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.models[name]
	out := make([]VersionInfo, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		out = append(out, VersionInfo{
			Name:      rec.Name,
			Version:   rec.Version,
			Metadata:  maps.Clone(rec.Metadata),
			Size:      len(rec.Payload),
			CreatedAt: rec.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func copyRecord(rec Record) Record {
	rec.Payload = append([]byte(nil), rec.Payload...)
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec
}

var _ Repository = (*InMemoryRepository)(nil)
