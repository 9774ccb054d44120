package results

import (
	"context"
	"slices"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for tests and single-process deployments.
type InMemoryRepository struct {
	mu      sync.RWMutex
	results map[string]Result
}

// NewInMemoryRepository creates a new in-memory result store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{results: make(map[string]Result)}
}

// Save stores a result.
func (r *InMemoryRepository) Save(_ context.Context, res Result) error {
	if err := res.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.ID] = copyResult(res)
	return nil
}

// Get retrieves a result by id.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := copyResult(res)
	return &cpy, nil
}

// Latest retrieves the most recent result of a kind.
func (r *InMemoryRepository) Latest(ctx context.Context, kind Kind) (*Result, error) {
	list, err := r.List(ctx, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// List returns up to limit results of a kind, newest first. A non-positive
// limit returns all of them.
func (r *InMemoryRepository) List(_ context.Context, kind Kind, limit int) ([]Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Result
	for _, res := range r.results {
		if res.Kind == kind {
			out = append(out, copyResult(res))
		}
	}
	slices.SortFunc(out, func(a, b Result) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyResult(res Result) Result {
	res.Payload = append([]byte(nil), res.Payload...)
	return res
}

var _ Repository = (*InMemoryRepository)(nil)
