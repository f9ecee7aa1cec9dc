package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"quiz-backend/internal/domain"
)

type fakeBackend struct {
	objects map[string][]byte
	deleted []string
	err     error
}

func (f *fakeBackend) Exists(_ context.Context, bucket, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeBackend) Fetch(_ context.Context, bucket, key string, limit int64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return readLimited(bytes.NewReader(f.objects[bucket+"/"+key]), limit)
}

func (f *fakeBackend) Delete(_ context.Context, bucket, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, bucket+"/"+key)
	delete(f.objects, bucket+"/"+key)
	return nil
}

func mustRef(t *testing.T, raw string) domain.DocumentRef {
	t.Helper()
	ref, err := domain.ParseDocumentRef(raw)
	require.NoError(t, err)
	return ref
}

func TestStore_RoutesByScheme(t *testing.T) {
	gcs := &fakeBackend{objects: map[string][]byte{"bucket1/in.pdf": []byte("%PDF-gs")}}
	s3b := &fakeBackend{objects: map[string][]byte{"bucket2/docs/in.pdf": []byte("%PDF-s3")}}
	store := New(WithBackend("GS", gcs), WithBackend(domain.SchemeS3, s3b))
	ctx := context.Background()

	ok, err := store.Exists(ctx, mustRef(t, "gs://bucket1/in.pdf"))
	require.NoError(t, err)
	require.True(t, ok)

	data, err := store.Fetch(ctx, mustRef(t, "s3://bucket2/docs/in.pdf"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-s3", string(data))

	require.NoError(t, store.Delete(ctx, mustRef(t, "gs://bucket1/in.pdf")))
	require.Equal(t, []string{"bucket1/in.pdf"}, gcs.deleted)
	require.Empty(t, s3b.deleted)
}

func TestStore_UnsupportedScheme(t *testing.T) {
	store := New(WithBackend(domain.SchemeGCS, &fakeBackend{}))
	ctx := context.Background()

	for _, raw := range []string{"s3://bucket/key.pdf", "ftp://host/file.pdf", "just-a-name.pdf", "gs://bucket-only"} {
		_, err := store.Exists(ctx, mustRef(t, raw))
		require.ErrorIs(t, err, ErrUnsupportedScheme, raw)
		require.ErrorIs(t, store.Delete(ctx, mustRef(t, raw)), ErrUnsupportedScheme, raw)
	}
}

func TestStore_FetchHonoursLimit(t *testing.T) {
	gcs := &fakeBackend{objects: map[string][]byte{"b/big.pdf": bytes.Repeat([]byte("x"), 11)}}
	store := New(WithBackend(domain.SchemeGCS, gcs), WithMaxBytes(10))

	_, err := store.Fetch(context.Background(), mustRef(t, "gs://b/big.pdf"))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestStore_FetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "%PDF-http")
	}))
	t.Cleanup(srv.Close)

	store := New()
	ctx := context.Background()

	data, err := store.Fetch(ctx, mustRef(t, srv.URL+"/doc.pdf"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-http", string(data))

	_, err = store.Fetch(ctx, mustRef(t, srv.URL+"/missing.pdf"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	// http refs are not addressable, so they are never deleted
	require.ErrorIs(t, store.Delete(ctx, mustRef(t, srv.URL+"/doc.pdf")), ErrUnsupportedScheme)
}

type fakeS3 struct {
	headErr   error
	getErr    error
	deleteErr error
	body      string
	deleted   *s3.DeleteObjectInput
}

func (f *fakeS3) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = in
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewS3_NilAPI(t *testing.T) {
	_, err := NewS3(nil)
	require.Error(t, err)
}

func TestS3Backend_Exists(t *testing.T) {
	ctx := context.Background()

	b, err := NewS3(&fakeS3{})
	require.NoError(t, err)
	ok, err := b.Exists(ctx, "bucket", "key.pdf")
	require.NoError(t, err)
	require.True(t, ok)

	b, _ = NewS3(&fakeS3{headErr: &types.NotFound{}})
	ok, err = b.Exists(ctx, "bucket", "key.pdf")
	require.NoError(t, err)
	require.False(t, ok)

	b, _ = NewS3(&fakeS3{headErr: errors.New("access denied")})
	_, err = b.Exists(ctx, "bucket", "key.pdf")
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3://bucket/key.pdf")
}

func TestS3Backend_FetchAndDelete(t *testing.T) {
	ctx := context.Background()
	api := &fakeS3{body: "%PDF-1.7"}
	b, err := NewS3(api)
	require.NoError(t, err)

	data, err := b.Fetch(ctx, "bucket", "key.pdf", DefaultMaxBytes)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(data))

	_, err = b.Fetch(ctx, "bucket", "key.pdf", 3)
	require.ErrorIs(t, err, ErrTooLarge)

	require.NoError(t, b.Delete(ctx, "bucket", "key.pdf"))
	require.Equal(t, "bucket", aws.ToString(api.deleted.Bucket))
	require.Equal(t, "key.pdf", aws.ToString(api.deleted.Key))

	api.deleteErr = errors.New("boom")
	require.Error(t, b.Delete(ctx, "bucket", "key.pdf"))

	api.getErr = errors.New("no such key")
	_, err = b.Fetch(ctx, "bucket", "key.pdf", DefaultMaxBytes)
	require.Error(t, err)
}

func TestClientOptionsFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	require.Empty(t, ClientOptionsFromEnv())

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/gcp/key.json")
	require.Len(t, ClientOptionsFromEnv(), 1)

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", `{"type":"service_account"}`)
	require.Len(t, ClientOptionsFromEnv(), 1)
}
