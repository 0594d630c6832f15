package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

func sampleDocument() pipeline.DocumentRecord {
	return pipeline.DocumentRecord{
		Key:          "crawl-data/seg.warc.gz/100-20240101000000-0.extracted.txt",
		URI:          "s3://worker/crawl-data/seg.warc.gz/100-20240101000000-0.extracted.txt",
		ResourceName: "crawl-data/seg.warc.gz",
		Offset:       100,
		Length:       2048,
		SURTURL:      "com,example)/",
		Timestamp:    "20240101000000",
		TargetURI:    "https://example.com/",
		RecordID:     "<urn:uuid:1>",
		SHA256:       "abc123",
		Bytes:        42,
		StoredAt:     time.Unix(1700000000, 0).UTC(),
	}
}

func TestRecordDocumentUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "documents")
	require.NoError(t, err)
	id := uuid.MustParse("01890000-0000-7000-8000-000000000001")
	store.newID = func() (uuid.UUID, error) { return id, nil }

	doc := sampleDocument()
	mock.ExpectExec(`(?s)INSERT INTO documents.*ON CONFLICT \(object_key\) DO UPDATE`).
		WithArgs(
			id,
			doc.Key,
			doc.URI,
			doc.ResourceName,
			int64(100),
			int64(2048),
			doc.SURTURL,
			doc.Timestamp,
			doc.TargetURI,
			doc.RecordID,
			doc.SHA256,
			doc.Bytes,
			doc.StoredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordDocument(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDocumentWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("connection reset"))
	err = store.RecordDocument(context.Background(), sampleDocument())
	require.ErrorContains(t, err, "upsert document: connection reset")

	require.ErrorContains(t, store.RecordDocument(context.Background(), pipeline.DocumentRecord{}), "key is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "docs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS docs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "documents")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "docs; DROP TABLE x")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
