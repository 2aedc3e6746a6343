package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	serrors "github.com/stratadb/strata/internal/errors"
)

// LocalStorage implements ObjectStorage on the local filesystem, rooted at a
// base directory. Used in tests and single-node deployments.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates local storage rooted at baseDir, creating it if
// needed.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create base directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// resolve maps an object path to a filesystem path, rejecting escapes from
// the base directory.
func (l *LocalStorage) resolve(objectPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(objectPath))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			fmt.Sprintf("invalid object path %q", objectPath))
	}
	return filepath.Join(l.baseDir, cleaned), nil
}

// Put writes the object, creating parent directories as needed. The write
// goes through a temp file and rename so readers never observe a partial
// object.
func (l *LocalStorage) Put(ctx context.Context, objectPath string, body io.Reader) (int64, error) {
	path, err := l.resolve(objectPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to create object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to create temp file", err)
	}
	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to write object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to close temp file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to finalize object", err)
	}
	return n, nil
}

// Get opens the object for reading.
func (l *LocalStorage) Get(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	path, err := l.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, serrors.New(serrors.ErrCategoryStorage, serrors.CodeObjectNotFound,
			fmt.Sprintf("object %s not found", objectPath))
	}
	if err != nil {
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "failed to open object", err)
	}
	return f, nil
}

// Delete removes one object; missing objects are ignored.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	path, err := l.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return serrors.NewStorageError(serrors.CodeUploadFailed, "failed to delete object", err)
	}
	return nil
}

// DeletePrefix removes every object under the prefix.
func (l *LocalStorage) DeletePrefix(ctx context.Context, prefix string) error {
	path, err := l.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return serrors.NewStorageError(serrors.CodeUploadFailed, "failed to delete prefix", err)
	}
	return nil
}

// Exists reports whether the object is present.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	path, err := l.resolve(objectPath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, serrors.NewStorageError(serrors.CodeDownloadFailed, "failed to stat object", err)
	}
	return true, nil
}

// List returns all object paths under the given prefix.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	root, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var objects []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.baseDir, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "failed to list objects", err)
	}
	return objects, nil
}

// Close is a no-op for local storage.
func (l *LocalStorage) Close() error { return nil }
