package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexRecordLanguages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  any
		want []string
	}{
		{name: "comma string", raw: "eng,fra", want: []string{"eng", "fra"}},
		{name: "single", raw: "eng", want: []string{"eng"}},
		{name: "json array", raw: []any{"deu", "eng"}, want: []string{"deu", "eng"}},
		{name: "empty string", raw: "", want: nil},
		{name: "missing", raw: nil, want: nil},
		{name: "wrong type", raw: 12.0, want: nil},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := IndexRecord{Metadata: map[string]any{}}
			if tc.raw != nil {
				rec.Metadata[MetaLanguages] = tc.raw
			}
			require.Equal(t, tc.want, rec.Languages())
		})
	}
}

func TestIndexRecordArchivePointer(t *testing.T) {
	t.Parallel()

	rec := IndexRecord{
		SURTURL: "com,example)/",
		Metadata: map[string]any{
			MetaFilename: "crawl-data/CC-MAIN-2024-10/segments/1/warc/a.warc.gz",
			MetaOffset:   "1024",
			MetaLength:   json.Number("512"),
		},
	}
	ptr, err := rec.ArchivePointer()
	require.NoError(t, err)
	require.Equal(t, ChunkPointer{
		ResourceName: "crawl-data/CC-MAIN-2024-10/segments/1/warc/a.warc.gz",
		Offset:       1024,
		Length:       512,
	}, ptr)
}

func TestIndexRecordArchivePointerErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]map[string]any{
		"missing filename": {MetaOffset: "1", MetaLength: "2"},
		"bad offset":       {MetaFilename: "f", MetaOffset: "x", MetaLength: "2"},
		"missing length":   {MetaFilename: "f", MetaOffset: "1"},
		"negative float":   {MetaFilename: "f", MetaOffset: -1.0, MetaLength: "2"},
	}
	for name, meta := range tests {
		meta := meta
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := IndexRecord{Metadata: meta}.ArchivePointer()
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestIndexRecordStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "200", IndexRecord{Metadata: map[string]any{MetaStatus: "200"}}.Status())
	require.Equal(t, "404", IndexRecord{Metadata: map[string]any{MetaStatus: 404.0}}.Status())
	require.Empty(t, IndexRecord{}.Status())
}

func TestTypedErrorsUnwrap(t *testing.T) {
	t.Parallel()

	root := errors.New("boom")
	transfer := &TransferError{Pointer: ChunkPointer{ResourceName: "r", Offset: 1, Length: 2}, StatusCode: 503, Err: root}
	require.ErrorIs(t, transfer, root)
	require.Equal(t, "transfer r@1+2: status 503: boom", transfer.Error())

	decode := &DecodeError{Input: "line", Err: root}
	require.ErrorIs(t, decode, root)

	delivery := &DeliveryError{Attempts: 3, Err: root}
	require.ErrorIs(t, delivery, root)
	require.Equal(t, "deliver batch after 3 attempt(s): boom", delivery.Error())
}

func TestBatchJSONShape(t *testing.T) {
	t.Parallel()

	batch := Batch{{SURTURL: "com,example)/", Timestamp: "20240101000000", Metadata: map[string]any{"status": "200"}}}
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	require.JSONEq(t, `[{"surt_url":"com,example)/","timestamp":"20240101000000","metadata":{"status":"200"}}]`, string(data))
}
