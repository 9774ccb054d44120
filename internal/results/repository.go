package results

import "context"

// Repository defines the interface for result persistence.
type Repository interface {
	// Save stores a result, replacing any result with the same id.
	Save(ctx context.Context, r Result) error

	// Get retrieves a result by id.
	Get(ctx context.Context, id string) (*Result, error)

	// Latest retrieves the most recent result of a kind.
	Latest(ctx context.Context, kind Kind) (*Result, error)

	// List returns up to limit results of a kind, newest first.
	List(ctx context.Context, kind Kind, limit int) ([]Result, error)
}
