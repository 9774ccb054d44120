package modelstore

import "context"

// Repository defines the interface for model artifact persistence.
type Repository interface {
	// Save stores a new version. Returns ErrVersionExists if name and version
	// are already taken.
	Save(ctx context.Context, rec Record) error

	// Load retrieves a version. An empty version loads the most recent one.
	Load(ctx context.Context, name, version string) (*Record, error)

	// Versions lists the stored versions of a model, newest first.
	Versions(ctx context.Context, name string) ([]VersionInfo, error)
}
