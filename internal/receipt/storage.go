package receipt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage. Keys are opaque
// names chosen by the service; URLs are stable and publicly retrievable.
type Storage interface {
	// Save stores data under key and returns its public URL
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get retrieves a file by key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a file
	Delete(ctx context.Context, key string) error

	// URL returns the public URL of key
	URL(key string) string
}

// LocalStorage implements the Storage interface using local filesystem.
// Files are served back by the server under /api/files/.
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, `\`) || key == "." || key == ".." {
		return "", fmt.Errorf("file key %q: %w", key, ErrInvalid)
	}
	return filepath.Join(l.basePath, key), nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(_ context.Context, key string, data []byte, _ string) (string, error) {
	path, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return l.URL(key), nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound("file", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// URL points at the server's file route.
func (l *LocalStorage) URL(key string) string {
	return l.publicURL + "/api/files/" + key
}
