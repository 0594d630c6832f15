package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	bucket  bool
	created string
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/worker":
		if !f.bucket {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && r.URL.Path == "/worker":
		body, _ := io.ReadAll(r.Body)
		f.created = string(body)
		f.bucket = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/worker/"):
		body, _ := io.ReadAll(r.Body)
		f.objects[strings.TrimPrefix(r.URL.Path, "/worker/")] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStore(t *testing.T, region string) (*BlobStore, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Config{
		Bucket:    "worker",
		Region:    region,
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Endpoint:  srv.URL,
	})
	require.NoError(t, err)
	return store, fake
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), Config{Bucket: "worker"})
	require.Error(t, err)
}

func TestEnsureBucketCreatesWithLocation(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t, "eu-west-1")
	require.NoError(t, store.EnsureBucket(context.Background()))
	require.True(t, fake.bucket)
	require.Contains(t, fake.created, "eu-west-1")
	require.NoError(t, store.EnsureBucket(context.Background()))
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t, "us-east-1")
	uri, err := store.PutObject(context.Background(), "seg.warc.gz/1-2-0.extracted.txt", "text/plain", []byte("body text"))
	require.NoError(t, err)
	require.Equal(t, "s3://worker/seg.warc.gz/1-2-0.extracted.txt", uri)
	require.Contains(t, fake.objects["seg.warc.gz/1-2-0.extracted.txt"], "body text")
}
