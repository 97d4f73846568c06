// Package gcskv implements kv.Store on a Google Cloud Storage bucket.
// Every key is one object under a common prefix.
package gcskv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/walletsync/internal/kv"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Options configures the bucket connection.
type Options struct {
	// URI locates the store, e.g. "gs://my-bucket/walletsync".
	URI string
	// CredentialsFile is an optional service account key file.
	// Application Default Credentials are used when empty.
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for a local emulator.
	Endpoint string
}

// Store is a kv.Store backed by GCS objects.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// Open creates a storage client for the bucket named in opts.URI.
func Open(ctx context.Context, opts Options) (*Store, error) {
	bucketName, prefix, err := ParseURI(opts.URI)
	if err != nil {
		return nil, err
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Store{
		client: client,
		bucket: client.Bucket(bucketName),
		prefix: prefix,
	}, nil
}

// ParseURI splits "gs://bucket/some/prefix" into bucket and object prefix.
// A non-empty prefix always ends with "/".
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}

	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
		if prefix != "" {
			prefix += "/"
		}
	}
	return bucket, prefix, nil
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(s.prefix + key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader %q: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object %q: %w", key, err)
	}
	return data, nil
}

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.bucket.Object(s.prefix + key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("write GCS object %q: %w", key, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize GCS object %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(s.prefix + key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete GCS object %q: %w", key, err)
	}
	return nil
}

// Keys implements kv.Store. GCS lists objects in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects %q: %w", prefix, err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, s.prefix))
	}
	return keys, nil
}

// Close implements kv.Store.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
