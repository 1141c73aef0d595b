package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem is the reference backend: a local hierarchy rooted at Root.
// Resolved paths are treated as root-relative.
type Filesystem struct {
	root    string
	baseURL string
}

// NewFilesystem returns a Filesystem backend. baseURL is prepended when
// building public URLs and may be empty for path-only URLs.
func NewFilesystem(root, baseURL string) *Filesystem {
	return &Filesystem{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (f *Filesystem) full(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// Write creates parent directories as needed and stores the bytes.
func (f *Filesystem) Write(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	full := f.full(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	dst, err := os.Create(full)
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(full)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (f *Filesystem) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(f.full(path))
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// Delete removes the file; a missing file is not an error.
func (f *Filesystem) Delete(ctx context.Context, path string) error {
	if err := os.Remove(f.full(path)); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (f *Filesystem) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(f.full(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &StorageError{Op: "exists", Path: path, Err: err}
}

func (f *Filesystem) URL(ctx context.Context, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return f.baseURL + path, nil
}
