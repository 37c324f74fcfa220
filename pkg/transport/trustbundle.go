package transport

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
)

// TrustBundleLoader returns a PEM bundle of CA certificates
type TrustBundleLoader interface {
	Load(ctx context.Context) (string, error)
}

// FileTrustBundle reads the bundle from a file on every Load
type FileTrustBundle struct {
	Path string
}

// Load implements TrustBundleLoader
func (f FileTrustBundle) Load(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("reading trust bundle %s: %w", f.Path, err)
	}
	return string(data), nil
}

// CachedTrustBundle loads the bundle once and serves it from memory.
// Concurrent first calls may each invoke the underlying loader; loading
// is idempotent, so the last writer wins.
type CachedTrustBundle struct {
	loader TrustBundleLoader
	bundle atomic.Pointer[string]
}

// NewCachedTrustBundle wraps loader
func NewCachedTrustBundle(loader TrustBundleLoader) *CachedTrustBundle {
	return &CachedTrustBundle{loader: loader}
}

// Load implements TrustBundleLoader
func (c *CachedTrustBundle) Load(ctx context.Context) (string, error) {
	if b := c.bundle.Load(); b != nil {
		return *b, nil
	}
	b, err := c.loader.Load(ctx)
	if err != nil {
		return "", err
	}
	c.bundle.Store(&b)
	return b, nil
}
