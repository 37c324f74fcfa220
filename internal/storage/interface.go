// Package storage provides object storage for retrieved documents and
// archived gateway responses.
//
// # Interface Design
//
// [ObjectStore] is a flat key/value store of immutable objects. Keys are
// slash separated paths such as "{cxId}/{patientId}/{file}". It also
// satisfies xca.DocumentStore, so the retrieval pipeline can write to it
// directly.
//
// # Implementations
//
// [Memory] keeps objects in process memory and is used for tests and
// one-shot CLI runs. The mongodb sub-package stores objects in GridFS.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("object not found")
)

// ObjectStore stores immutable objects by key
type ObjectStore interface {
	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// Put stores data under key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object stored under key or ErrNotFound
	Get(ctx context.Context, key string) (*Object, error)

	// URL returns the location reported to clients for key
	URL(key string) string
}

// Object is a stored object and its metadata
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Checksum returns the hex encoded SHA-256 of data
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JoinURL appends key to base, keeping exactly one slash between them
func JoinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}
