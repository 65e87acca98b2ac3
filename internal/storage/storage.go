// Package storage provides uniform byte and stream access over local
// filesystem paths and remote object-store URIs. The parser and thumbnail
// cache consume annotation files and image bytes exclusively through this
// interface so that datasets can live on either kind of backend.
package storage

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// JoinPath joins path elements onto a base that may be either a local
// path or a scheme-prefixed URI. filepath.Join would collapse the double
// slash of a URI scheme, so URIs are joined manually.
func JoinPath(base string, elem ...string) string {
	if strings.Contains(base, "://") {
		return strings.TrimSuffix(base, "/") + "/" + path.Join(elem...)
	}
	return filepath.Join(append([]string{base}, elem...)...)
}

// Entry describes one member of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Backend is the uniform access interface over one path scheme.
type Backend interface {
	// Exists reports whether the path resolves to an object or file.
	Exists(ctx context.Context, path string) (bool, error)
	// ReadBytes returns the full content at path.
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	// Open returns a streaming reader over the content at path. The
	// caller must close it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// ListDir returns the immediate children of a directory, without
	// recursing.
	ListDir(ctx context.Context, path string) ([]Entry, error)
}

// Resolver dispatches paths to the backend owning their scheme. Plain
// paths and file:// URIs resolve to the local backend, gs:// URIs to the
// Google Cloud Storage backend.
type Resolver struct {
	mu    sync.Mutex
	local Backend
	gcs   Backend
}

// NewResolver creates a resolver with a local filesystem backend. Remote
// backends are created lazily on first use.
func NewResolver() *Resolver {
	return &Resolver{local: &Local{}}
}

// ForPath returns the backend responsible for the given path.
func (r *Resolver) ForPath(ctx context.Context, path string) (Backend, error) {
	if strings.HasPrefix(path, "gs://") {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gcs == nil {
			gcs, err := NewGCS(ctx)
			if err != nil {
				return nil, err
			}
			r.gcs = gcs
		}
		return r.gcs, nil
	}
	return r.local, nil
}

// Exists resolves the path and checks existence on its backend.
func (r *Resolver) Exists(ctx context.Context, path string) (bool, error) {
	b, err := r.ForPath(ctx, path)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, path)
}

// ReadBytes resolves the path and reads its full content.
func (r *Resolver) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	b, err := r.ForPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return b.ReadBytes(ctx, path)
}

// Open resolves the path and opens a streaming reader.
func (r *Resolver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	b, err := r.ForPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, path)
}

// ListDir resolves the path and lists its immediate children.
func (r *Resolver) ListDir(ctx context.Context, path string) ([]Entry, error) {
	b, err := r.ForPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return b.ListDir(ctx, path)
}
