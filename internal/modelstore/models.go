// Package modelstore persists serialized demand model artifacts as an opaque,
// versioned key-value store.
package modelstore

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrNotFound      = errors.New("model artifact not found")
	ErrVersionExists = errors.New("model version already exists")
	ErrInvalidRecord = errors.New("model record requires name, version and payload")
)

// Record is one stored artifact version.
type Record struct {
	Name      string
	Version   string
	Payload   []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

func (r Record) validate() error {
	if r.Name == "" || r.Version == "" || len(r.Payload) == 0 {
		return ErrInvalidRecord
	}
	return nil
}

// VersionInfo describes a stored version without its payload.
type VersionInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Size      int               `json:"size_bytes"`
	CreatedAt time.Time         `json:"created_at"`
}
