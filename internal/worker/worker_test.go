package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ccextract/internal/consumer"
	"github.com/JakeFAU/ccextract/internal/pipeline"
	"github.com/JakeFAU/ccextract/internal/queue/memory"
	"github.com/JakeFAU/ccextract/internal/storage"
	memstore "github.com/JakeFAU/ccextract/internal/storage/memory"
)

func warcRecord(recType, target, block string) string {
	return fmt.Sprintf("WARC/1.0\r\nWARC-Type: %s\r\nWARC-Target-URI: %s\r\nWARC-Record-ID: <urn:uuid:%s>\r\nContent-Length: %d\r\n\r\n%s\r\n\r\n",
		recType, target, recType, len(block), block)
}

func httpBlock(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func segment(target string, pages ...string) []byte {
	var b strings.Builder
	b.WriteString(warcRecord("request", target, "GET / HTTP/1.1\r\n\r\n"))
	for _, page := range pages {
		b.WriteString(warcRecord("response", target, httpBlock(page)))
		b.WriteString(warcRecord("metadata", target, "fetchTimeMs: 1\r\n"))
	}
	return []byte(b.String())
}

type fakeDownloader struct {
	mu       sync.Mutex
	segments map[string][]byte
	fetched  []string
}

func (d *fakeDownloader) Fetch(_ context.Context, ptr pipeline.ChunkPointer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetched = append(d.fetched, ptr.ResourceName)
	data, ok := d.segments[ptr.ResourceName]
	if !ok {
		return nil, &pipeline.TransferError{Pointer: ptr, StatusCode: 503, Err: errors.New("unavailable")}
	}
	return data, nil
}

// upperExtractor returns the payload upper-cased; "empty" pages yield no
// text and "broken" pages fail extraction.
type upperExtractor struct{}

func (upperExtractor) Extract(payload []byte, _ string) (string, error) {
	switch string(payload) {
	case "empty":
		return "", nil
	case "broken":
		return "", errors.New("parse failure")
	}
	return strings.ToUpper(string(payload)), nil
}

type failingStore struct {
	*memstore.BlobStore
	failOn string
}

func (s *failingStore) PutObject(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if strings.HasPrefix(key, s.failOn) {
		return "", errors.New("bucket unavailable")
	}
	return s.BlobStore.PutObject(ctx, key, contentType, data)
}

type recordingCatalog struct {
	docs []pipeline.DocumentRecord
}

func (c *recordingCatalog) RecordDocument(_ context.Context, doc pipeline.DocumentRecord) error {
	c.docs = append(c.docs, doc)
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	batches   []error
	records   []error
	documents []string
}

func (o *countingObserver) BatchConsumed(_ int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, err)
}

func (o *countingObserver) RecordProcessed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, err)
}

func (o *countingObserver) DocumentStored(key string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.documents = append(o.documents, key)
}

func record(filename string, offset int) pipeline.IndexRecord {
	return pipeline.IndexRecord{
		SURTURL:   "com,example)/" + filename,
		Timestamp: "20240101000000",
		Metadata: map[string]any{
			"url":      "https://example.com/" + filename,
			"filename": filename,
			"offset":   fmt.Sprint(offset),
			"length":   "512",
		},
	}
}

func encode(t *testing.T, batch pipeline.Batch) []byte {
	t.Helper()
	body, err := json.Marshal(batch)
	require.NoError(t, err)
	return body
}

func TestHandleStoresEveryResponse(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"seg-a.warc.gz": segment("https://example.com/a", "first page", "second page"),
		"seg-b.warc.gz": segment("https://example.com/b", "empty", "broken", "third page"),
	}}
	store := memstore.NewBlobStore("worker")
	catalog := &recordingCatalog{}
	obs := &countingObserver{}
	w := New(dl, store, upperExtractor{}, catalog, obs, Config{}, nil)

	err := w.Handle(context.Background(), encode(t, pipeline.Batch{record("seg-a.warc.gz", 10), record("seg-b.warc.gz", 20)}))
	require.NoError(t, err)

	require.Equal(t, []string{
		"seg-a.warc.gz/10-20240101000000-0.extracted.txt",
		"seg-a.warc.gz/10-20240101000000-1.extracted.txt",
		"seg-b.warc.gz/20-20240101000000-2.extracted.txt",
	}, store.Keys())
	got, _ := store.Get("seg-a.warc.gz/10-20240101000000-1.extracted.txt")
	require.Equal(t, "SECOND PAGE", string(got))
	require.Equal(t, storage.DefaultContentType, store.ContentType("seg-b.warc.gz/20-20240101000000-2.extracted.txt"))

	require.Len(t, catalog.docs, 3)
	doc := catalog.docs[2]
	require.Equal(t, "memory://worker/seg-b.warc.gz/20-20240101000000-2.extracted.txt", doc.URI)
	require.Equal(t, uint64(20), doc.Offset)
	require.Equal(t, uint64(512), doc.Length)
	require.Equal(t, "https://example.com/b", doc.TargetURI)
	require.Len(t, doc.SHA256, 64)
	require.Equal(t, len("THIRD PAGE"), doc.Bytes)

	require.Equal(t, []error{nil}, obs.batches)
	require.Equal(t, []error{nil, nil}, obs.records)
	require.Len(t, obs.documents, 3)
}

func TestHandleUsesConfiguredContentType(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"seg.warc.gz": segment("https://example.com/", "page"),
	}}
	store := memstore.NewBlobStore("worker")
	catalog := &recordingCatalog{}
	w := New(dl, store, upperExtractor{}, catalog, nil, Config{ContentType: "text/markdown"}, nil)

	require.NoError(t, w.Handle(context.Background(), encode(t, pipeline.Batch{record("seg.warc.gz", 0)})))
	key := "seg.warc.gz/0-20240101000000-0.extracted.txt"
	require.Equal(t, "text/markdown", store.ContentType(key))
	require.Len(t, catalog.docs, 1)
	require.Equal(t, key, catalog.docs[0].Key)
	require.Equal(t, len("PAGE"), catalog.docs[0].Bytes)
}

func TestHandleLegacyKeys(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"seg.warc.gz": segment("https://example.com/", "one", "two"),
	}}
	store := memstore.NewBlobStore("worker")
	w := New(dl, store, upperExtractor{}, nil, nil, Config{KeyScheme: KeyLegacy}, nil)

	require.NoError(t, w.Handle(context.Background(), encode(t, pipeline.Batch{record("seg.warc.gz", 0)})))
	require.Equal(t, []string{"seg.warc.gz.extracted.txt"}, store.Keys())
	require.Equal(t, 2, store.Puts())
	got, _ := store.Get("seg.warc.gz.extracted.txt")
	require.Equal(t, "TWO", string(got))
}

func TestHandleIsIdempotentAcrossRedelivery(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"seg.warc.gz": segment("https://example.com/", "one", "two"),
	}}
	store := memstore.NewBlobStore("worker")
	w := New(dl, store, upperExtractor{}, nil, nil, Config{}, nil)
	body := encode(t, pipeline.Batch{record("seg.warc.gz", 5)})

	require.NoError(t, w.Handle(context.Background(), body))
	first := store.Keys()
	require.NoError(t, w.Handle(context.Background(), body))
	require.Equal(t, first, store.Keys())
}

func TestHandleStopsAtFailingRecord(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"seg-1.warc.gz": segment("https://example.com/1", "page one"),
		"seg-2.warc.gz": segment("https://example.com/2", "page two"),
		"seg-3.warc.gz": segment("https://example.com/3", "page three"),
	}}
	store := &failingStore{BlobStore: memstore.NewBlobStore("worker"), failOn: "seg-2.warc.gz/"}
	obs := &countingObserver{}
	w := New(dl, store, upperExtractor{}, nil, obs, Config{}, nil)

	batch := pipeline.Batch{record("seg-1.warc.gz", 1), record("seg-2.warc.gz", 2), record("seg-3.warc.gz", 3)}
	err := w.Handle(context.Background(), encode(t, batch))
	require.ErrorContains(t, err, "record 1")
	require.ErrorContains(t, err, "bucket unavailable")

	require.Equal(t, []string{"seg-1.warc.gz", "seg-2.warc.gz"}, dl.fetched)
	require.Equal(t, []string{"seg-1.warc.gz/1-20240101000000-0.extracted.txt"}, store.Keys())
	require.Len(t, obs.records, 2)
	require.Error(t, obs.batches[0])
}

func TestHandleErrors(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"bad.warc.gz": []byte("WARC/1.0\r\nContent-Length: 99\r\n\r\nshort"),
	}}
	w := New(dl, memstore.NewBlobStore("worker"), upperExtractor{}, nil, nil, Config{}, nil)

	err := w.Handle(context.Background(), []byte("not json"))
	var derr *pipeline.DecodeError
	require.ErrorAs(t, err, &derr)

	missing := pipeline.IndexRecord{SURTURL: "x", Metadata: map[string]any{"offset": "1", "length": "1"}}
	err = w.Handle(context.Background(), encode(t, pipeline.Batch{missing}))
	require.ErrorAs(t, err, &derr)

	err = w.Handle(context.Background(), encode(t, pipeline.Batch{record("absent.warc.gz", 0)}))
	var terr *pipeline.TransferError
	require.ErrorAs(t, err, &terr)

	err = w.Handle(context.Background(), encode(t, pipeline.Batch{record("bad.warc.gz", 0)}))
	require.ErrorAs(t, err, &derr)
}

func TestHandleEmptyBatch(t *testing.T) {
	t.Parallel()

	w := New(&fakeDownloader{}, memstore.NewBlobStore("worker"), upperExtractor{}, nil, nil, Config{}, nil)
	require.NoError(t, w.Handle(context.Background(), []byte("[]")))
}

func TestFailedBatchIsNotAcknowledged(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{segments: map[string][]byte{
		"seg-1.warc.gz": segment("https://example.com/1", "page one"),
		"seg-3.warc.gz": segment("https://example.com/3", "page three"),
	}}
	store := memstore.NewBlobStore("worker")
	w := New(dl, store, upperExtractor{}, nil, nil, Config{}, nil)

	q := memory.NewQueue(2)
	batch := pipeline.Batch{record("seg-1.warc.gz", 1), record("seg-2.warc.gz", 2), record("seg-3.warc.gz", 3)}
	require.NoError(t, q.Publish(context.Background(), encode(t, batch)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.New(q, w, consumer.Config{}, nil).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		dl.mu.Lock()
		defer dl.mu.Unlock()
		return len(dl.fetched) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Empty(t, q.Acked())
	dl.mu.Lock()
	defer dl.mu.Unlock()
	require.NotContains(t, dl.fetched, "seg-3.warc.gz")
}
