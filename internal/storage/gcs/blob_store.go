// Package gcs provides a content store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	appstorage "github.com/JakeFAU/ccextract/internal/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// ProjectID is only needed when EnsureBucket has to create the bucket.
	ProjectID string
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	client    *storage.Client
	bucket    string
	projectID string
}

var _ appstorage.Store = (*BlobStore)(nil)

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	bucket := s.client.Bucket(s.bucket)
	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to get GCS bucket %s: %w", s.bucket, err)
	}
	if s.projectID == "" {
		return fmt.Errorf("bucket %s does not exist and no project id is configured", s.bucket)
	}
	if err := bucket.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("create GCS bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := appstorage.ValidateKey(key); err != nil {
		return "", err
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
