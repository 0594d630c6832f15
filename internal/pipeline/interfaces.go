package pipeline

import (
	"context"
	"time"
)

// RangeDownloader fetches a compressed byte range and returns the decompressed bytes.
type RangeDownloader interface {
	Fetch(ctx context.Context, ptr ChunkPointer) ([]byte, error)
}

// BatchPublisher delivers one batch as one queue message.
type BatchPublisher interface {
	Publish(ctx context.Context, batch Batch) error
}

// ContentStore persists extracted documents and returns their URI.
type ContentStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// DocumentCatalog records where each extracted document was stored.
type DocumentCatalog interface {
	RecordDocument(ctx context.Context, doc DocumentRecord) error
}

// Extractor turns an archived HTTP payload into plain text. An empty result
// means nothing worth storing was found.
type Extractor interface {
	Extract(payload []byte, pageURL string) (string, error)
}

// BatchObserver receives batching-stage events.
type BatchObserver interface {
	ChunkProcessed(done, total int)
	RecordFiltered(record IndexRecord)
	BatchPublished(size int)
	PublishAttempt(attempt int, err error)
	PublishRetry(attempt int, wait time.Duration)
}

// WorkObserver receives extraction-stage events.
type WorkObserver interface {
	BatchConsumed(size int, err error)
	RecordProcessed(err error)
	DocumentStored(key string, bytes int)
}
