package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStorage implements the Storage interface on a Google Cloud Storage
// bucket. Credentials come from Application Default Credentials.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// NewGCSStorage creates a storage client for bucket.
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

// Save uploads data and returns the object's public URL
func (g *GCSStorage) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing object %s: %w", key, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing upload of %s: %w", key, err)
	}
	return g.URL(key), nil
}

// Get downloads an object
func (g *GCSStorage) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, notFound("file", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", g.bucket, key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

// Delete removes an object
func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("deleting object %s/%s: %w", g.bucket, key, err)
	}
	return nil
}

// URL is the public object URL.
func (g *GCSStorage) URL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

// Close releases the storage client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}
