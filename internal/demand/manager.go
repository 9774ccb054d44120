package demand

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/modelstore"
)

// State is the lifecycle state of the model manager.
type State int32

const (
	StateUninitialized State = iota
	StateTrained
	StateServing
)

func (s State) String() string {
	switch s {
	case StateTrained:
		return "trained"
	case StateServing:
		return "serving"
	default:
		return "uninitialized"
	}
}

// ManagerConfig holds configuration for the model manager.
type ManagerConfig struct {
	// Name under which artifacts are stored (default: "demand").
	Name string

	// Store persists artifacts. Optional.
	Store modelstore.Repository

	// Logger for manager operations.
	Logger zerolog.Logger
}

// ModelManager owns the published artifact. Readers load the current pointer
// once and keep using that snapshot; writers publish a complete artifact with
// a single atomic store, so a reader never sees a partially trained model.
type ModelManager struct {
	name   string
	store  modelstore.Repository
	logger zerolog.Logger

	current atomic.Pointer[Artifact]
	state   atomic.Int32

	mu       sync.Mutex // serializes writers
	previous *Artifact
}

// NewModelManager creates a model manager with nothing loaded.
func NewModelManager(cfg ManagerConfig) *ModelManager {
	name := cfg.Name
	if name == "" {
		name = "demand"
	}
	return &ModelManager{name: name, store: cfg.Store, logger: cfg.Logger}
}

// Name returns the store key of the managed model.
func (m *ModelManager) Name() string {
	return m.name
}

// State returns the lifecycle state.
func (m *ModelManager) State() State {
	return State(m.state.Load())
}

// Current returns the published artifact, or nil.
func (m *ModelManager) Current() *Artifact {
	return m.current.Load()
}

// Publish atomically replaces the served artifact.
func (m *ModelManager) Publish(a *Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.previous = m.current.Swap(a)
	m.state.Store(int32(StateTrained))

	m.logger.Info().
		Str("version", a.Version).
		Int("samples", a.SampleCount).
		Msg("demand model published")
}

// acquire returns the snapshot to serve a prediction from.
func (m *ModelManager) acquire() (*Artifact, error) {
	a := m.current.Load()
	if a == nil {
		return nil, apperror.Model("demand prediction unavailable", ErrModelNotTrained)
	}
	m.state.CompareAndSwap(int32(StateTrained), int32(StateServing))
	return a, nil
}

// Rollback restores the artifact that was served before the last publish.
func (m *ModelManager) Rollback() (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.previous == nil {
		return nil, apperror.Model("rollback failed", ErrNoPreviousModel)
	}
	restored := m.previous
	m.previous = m.current.Swap(restored)
	m.state.Store(int32(StateTrained))

	m.logger.Warn().
		Str("version", restored.Version).
		Msg("demand model rolled back")
	return restored, nil
}

// Save writes the artifact to the store.
func (m *ModelManager) Save(ctx context.Context, a *Artifact, metadata map[string]string) error {
	if m.store == nil {
		return apperror.Configuration("model store not configured", nil)
	}
	payload, err := a.Encode()
	if err != nil {
		return err
	}

	md := map[string]string{
		"schema_version": strconv.Itoa(a.SchemaVersion),
		"sample_count":   strconv.Itoa(a.SampleCount),
	}
	for k, v := range metadata {
		md[k] = v
	}

	err = m.store.Save(ctx, modelstore.Record{
		Name:      m.name,
		Version:   a.Version,
		Payload:   payload,
		Metadata:  md,
		CreatedAt: a.TrainedAt,
	})
	if err != nil {
		return fmt.Errorf("save model %s/%s: %w", m.name, a.Version, err)
	}
	return nil
}

// Load fetches a stored version (latest when empty) and publishes it.
func (m *ModelManager) Load(ctx context.Context, version string) (*Artifact, error) {
	if m.store == nil {
		return nil, apperror.Configuration("model store not configured", nil)
	}
	rec, err := m.store.Load(ctx, m.name, version)
	if err != nil {
		if errors.Is(err, modelstore.ErrNotFound) {
			return nil, apperror.Model("stored model not found", ErrModelNotTrained)
		}
		return nil, fmt.Errorf("load model %s/%s: %w", m.name, version, err)
	}

	a, err := DecodeArtifact(rec.Payload)
	if err != nil {
		return nil, apperror.Model("stored model unusable", err)
	}
	m.Publish(a)
	return a, nil
}

// Versions lists stored versions.
func (m *ModelManager) Versions(ctx context.Context) ([]modelstore.VersionInfo, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.Versions(ctx, m.name)
}
