// Package worker implements the batch handler: for every record of a batch it
// fetches the archive segment, extracts the text of each HTTP response and
// writes it to the content store.
package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/pipeline"
	"github.com/JakeFAU/ccextract/internal/storage"
	"github.com/JakeFAU/ccextract/internal/warc"
)

// KeyScheme selects how object keys are derived.
type KeyScheme string

const (
	// KeyPerRecord gives every response its own key:
	// <filename>/<offset>-<timestamp>-<n>.extracted.txt.
	KeyPerRecord KeyScheme = "record"
	// KeyLegacy writes <filename>.extracted.txt; responses from the same
	// segment file overwrite each other.
	KeyLegacy KeyScheme = "legacy"
)

const keySuffix = ".extracted.txt"

// Config controls Worker behavior.
type Config struct {
	ContentType string
	KeyScheme   KeyScheme
}

// Worker handles one batch message at a time.
type Worker struct {
	downloader pipeline.RangeDownloader
	store      pipeline.ContentStore
	extractor  pipeline.Extractor
	catalog    pipeline.DocumentCatalog
	observer   pipeline.WorkObserver
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New constructs a Worker. catalog and observer may be nil.
func New(
	downloader pipeline.RangeDownloader,
	store pipeline.ContentStore,
	extractor pipeline.Extractor,
	catalog pipeline.DocumentCatalog,
	observer pipeline.WorkObserver,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = storage.DefaultContentType
	}
	if cfg.KeyScheme == "" {
		cfg.KeyScheme = KeyPerRecord
	}
	if observer == nil {
		observer = pipeline.NopWorkObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		downloader: downloader,
		store:      store,
		extractor:  extractor,
		catalog:    catalog,
		observer:   observer,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DecodeBatch parses a queue message body into a batch.
func DecodeBatch(body []byte) (pipeline.Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var batch pipeline.Batch
	if err := dec.Decode(&batch); err != nil {
		return nil, &pipeline.DecodeError{Input: string(body), Err: fmt.Errorf("batch: %w", err)}
	}
	return batch, nil
}

// Handle processes every record of the batch in order. The first record that
// cannot be fetched, parsed or stored aborts the batch; the caller must then
// leave the message unacknowledged.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	batch, err := DecodeBatch(body)
	if err != nil {
		w.observer.BatchConsumed(0, err)
		return err
	}
	w.logger.Info("received batch", zap.Int("records", len(batch)), zap.Int("bytes", len(body)))

	for i, rec := range batch {
		err := w.processRecord(ctx, rec)
		w.observer.RecordProcessed(err)
		if err != nil {
			w.observer.BatchConsumed(len(batch), err)
			return fmt.Errorf("record %d (%s): %w", i, rec.SURTURL, err)
		}
	}
	w.observer.BatchConsumed(len(batch), nil)
	return nil
}

func (w *Worker) processRecord(ctx context.Context, rec pipeline.IndexRecord) error {
	ptr, err := rec.ArchivePointer()
	if err != nil {
		return err
	}
	data, err := w.downloader.Fetch(ctx, ptr)
	if err != nil {
		return err
	}
	subRecords, err := warc.ReadAll(data)
	if err != nil {
		return err
	}

	ordinal := 0
	for _, sub := range subRecords {
		if !sub.IsResponse() {
			continue
		}
		n := ordinal
		ordinal++

		text := w.extract(sub, rec)
		if text == "" {
			continue
		}
		doc := pipeline.ExtractedDocument{Key: w.objectKey(ptr, rec, n), Content: []byte(text)}
		uri, err := w.put(ctx, doc)
		if err != nil {
			return err
		}
		if w.catalog != nil {
			if err := w.catalog.RecordDocument(ctx, w.document(doc, uri, ptr, rec, sub)); err != nil {
				return fmt.Errorf("catalog %s: %w", doc.Key, err)
			}
		}
	}
	return nil
}

func (w *Worker) put(ctx context.Context, doc pipeline.ExtractedDocument) (string, error) {
	uri, err := w.store.PutObject(ctx, doc.Key, w.cfg.ContentType, doc.Content)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", doc.Key, err)
	}
	w.observer.DocumentStored(doc.Key, len(doc.Content))
	w.logger.Debug("stored document", zap.String("key", doc.Key), zap.Int("bytes", len(doc.Content)))
	return uri, nil
}

// extract returns "" for responses that do not yield text. Malformed HTTP
// blocks and extractor failures are data problems of a single capture and are
// skipped rather than failing the batch.
func (w *Worker) extract(sub pipeline.ArchiveSubRecord, rec pipeline.IndexRecord) string {
	body, err := warc.HTTPBody(sub.Payload)
	if err != nil {
		w.logger.Warn("skipping unreadable http response", zap.String("record_id", sub.RecordID), zap.Error(err))
		return ""
	}
	pageURL := sub.TargetURI
	if pageURL == "" {
		pageURL = rec.TargetURL()
	}
	text, err := w.extractor.Extract(body, pageURL)
	if err != nil {
		w.logger.Warn("extraction failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func (w *Worker) objectKey(ptr pipeline.ChunkPointer, rec pipeline.IndexRecord, n int) string {
	if w.cfg.KeyScheme == KeyLegacy {
		return ptr.ResourceName + keySuffix
	}
	return fmt.Sprintf("%s/%d-%s-%d%s", ptr.ResourceName, ptr.Offset, rec.Timestamp, n, keySuffix)
}

func (w *Worker) document(
	doc pipeline.ExtractedDocument,
	uri string,
	ptr pipeline.ChunkPointer,
	rec pipeline.IndexRecord,
	sub pipeline.ArchiveSubRecord,
) pipeline.DocumentRecord {
	sum := sha256.Sum256(doc.Content)
	target := sub.TargetURI
	if target == "" {
		target = rec.TargetURL()
	}
	return pipeline.DocumentRecord{
		Key:          doc.Key,
		URI:          uri,
		ResourceName: ptr.ResourceName,
		Offset:       ptr.Offset,
		Length:       ptr.Length,
		SURTURL:      rec.SURTURL,
		Timestamp:    rec.Timestamp,
		TargetURI:    target,
		RecordID:     sub.RecordID,
		SHA256:       hex.EncodeToString(sum[:]),
		Bytes:        len(doc.Content),
		StoredAt:     w.now(),
	}
}
