package minio

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal path-style S3 endpoint holding a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  bool
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodHead && path == "/worker":
		if !f.bucket {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && path == "/worker":
		f.bucket = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && len(path) > len("/worker/"):
		body, _ := io.ReadAll(r.Body)
		key := path[len("/worker/"):]
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStore(t *testing.T) (*BlobStore, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	store, err := New(Config{
		Endpoint:  u.Host,
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "worker",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return store, fake
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Bucket: "worker"})
	require.Error(t, err)
	_, err = New(Config{Endpoint: "127.0.0.1:9000"})
	require.Error(t, err)
}

func TestEnsureBucketCreatesOnce(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	require.NoError(t, store.EnsureBucket(context.Background()))
	require.True(t, fake.bucket)
	require.NoError(t, store.EnsureBucket(context.Background()))
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	uri, err := store.PutObject(context.Background(), "seg.warc.gz/1-2-0.extracted.txt", "text/plain; charset=utf-8", []byte("some text"))
	require.NoError(t, err)
	require.Equal(t, "s3://worker/seg.warc.gz/1-2-0.extracted.txt", uri)
	require.Contains(t, string(fake.objects["seg.warc.gz/1-2-0.extracted.txt"]), "some text")
	require.Equal(t, "text/plain; charset=utf-8", fake.types["seg.warc.gz/1-2-0.extracted.txt"])

	_, err = store.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
