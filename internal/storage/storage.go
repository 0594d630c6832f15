// Package storage defines the object store contract shared by the content
// store backends.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// DefaultContentType is used for extracted text objects.
const DefaultContentType = "text/plain; charset=utf-8"

// ErrEmptyKey is returned when an object key is blank.
var ErrEmptyKey = errors.New("object key is required")

// Store is a content store that can bootstrap its bucket.
type Store interface {
	pipeline.ContentStore
	// EnsureBucket creates the target bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error
}

// ValidateKey rejects blank keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
