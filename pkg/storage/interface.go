package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Object is a single write to a backend.
type Object struct {
	Key         string
	Body        io.Reader
	Size        int64 // -1 when unknown
	ContentType string
	Metadata    map[string]string
}

// Storage is an object store keyed by slash separated paths.
type Storage interface {
	Write(ctx context.Context, obj Object) error

	// Read returns the content of key. The caller closes the reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL clients can fetch key from. Backends without
	// public addressing may return a URL that expires after expires.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
