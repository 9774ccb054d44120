package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// SourceHealth is the health snapshot of one remote source.
type SourceHealth struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Healthy reports whether the breaker is closed.
func (h SourceHealth) Healthy() bool {
	return h.State == gobreaker.StateClosed.String()
}

// Registry tracks the health of registered download clients.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*sourceEntry
}

type sourceEntry struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*sourceEntry)}
}

// Register adds a client.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[c.Name()] = &sourceEntry{client: c}
}

// RecordSuccess stamps a successful download.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sources[name]; ok {
		now := time.Now()
		e.lastSuccessAt = &now
	}
}

// RecordFailure stamps a failed download.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sources[name]; ok {
		now := time.Now()
		e.lastFailureAt = &now
		if err != nil {
			e.lastError = err.Error()
		}
	}
}

// Health returns a snapshot of every source, sorted by name.
func (r *Registry) Health() []SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceHealth, 0, len(r.sources))
	for name, e := range r.sources {
		out = append(out, SourceHealth{
			Name:          name,
			State:         e.client.State().String(),
			LastSuccessAt: e.lastSuccessAt,
			LastFailureAt: e.lastFailureAt,
			LastError:     e.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
