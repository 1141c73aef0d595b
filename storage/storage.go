// Package storage defines the backend contract attachments persist through,
// plus reference backends: local filesystem, S3-compatible object storage,
// and an in-memory store for tests and zero-infrastructure setups.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Backend stores variant bytes at interpolation-resolved paths. Delete of an
// absent path is not an error on any backend.
type Backend interface {
	Write(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	URL(ctx context.Context, path string) (string, error)
}

// StorageError wraps a backend failure with the operation and path involved.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
