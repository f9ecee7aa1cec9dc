package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"quiz-backend/internal/domain"
)

const DefaultMaxBytes int64 = 20 << 20

var (
	ErrUnsupportedScheme = errors.New("blobstore: unsupported document scheme")
	ErrTooLarge          = errors.New("blobstore: document exceeds size limit")
)

// Backend addresses objects by bucket and key within a single store.
type Backend interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Fetch(ctx context.Context, bucket, key string, limit int64) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Store routes document references to the backend registered for their
// scheme. Plain http(s) references can be fetched but not checked or deleted.
type Store struct {
	backends map[string]Backend
	http     *resty.Client
	maxBytes int64
}

type Option func(*Store)

func WithBackend(scheme string, b Backend) Option {
	return func(s *Store) {
		s.backends[strings.ToLower(scheme)] = b
	}
}

func WithHTTPClient(client *resty.Client) Option {
	return func(s *Store) {
		s.http = client
	}
}

func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		backends: make(map[string]Backend),
		http:     resty.New().SetTimeout(30 * time.Second),
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) backend(ref domain.DocumentRef) (Backend, error) {
	if !ref.Addressable() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref.Raw)
	}
	b, ok := s.backends[ref.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref.Scheme)
	}
	return b, nil
}

func (s *Store) Exists(ctx context.Context, ref domain.DocumentRef) (bool, error) {
	b, err := s.backend(ref)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, ref.Bucket, ref.Key)
}

func (s *Store) Delete(ctx context.Context, ref domain.DocumentRef) error {
	b, err := s.backend(ref)
	if err != nil {
		return err
	}
	return b.Delete(ctx, ref.Bucket, ref.Key)
}

// Fetch returns the document content, refusing anything above the size limit.
func (s *Store) Fetch(ctx context.Context, ref domain.DocumentRef) ([]byte, error) {
	if ref.Scheme == "http" || ref.Scheme == "https" {
		return s.fetchURL(ctx, ref.Raw)
	}
	b, err := s.backend(ref)
	if err != nil {
		return nil, err
	}
	return b.Fetch(ctx, ref.Bucket, ref.Key, s.maxBytes)
}

func (s *Store) fetchURL(ctx context.Context, url string) ([]byte, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", url, err)
	}
	body := res.RawBody()
	defer func() { _ = body.Close() }()

	if !res.IsSuccess() {
		return nil, fmt.Errorf("blobstore: get %s: unexpected status %d", url, res.StatusCode())
	}
	return readLimited(body, s.maxBytes)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("blobstore: read document: %w", err)
	}
	if int64(len(buf)) > limit {
		return nil, ErrTooLarge
	}
	return buf, nil
}
