package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/pdf"
)

const (
	gcsWriteTimeout = 2 * time.Minute
	gcsReadTimeout  = 30 * time.Second
)

// GCSStore keeps documents as objects in a Google Cloud Storage bucket.
// The client honours STORAGE_EMULATOR_HOST.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStoreFromConfig creates a client with application default credentials.
func NewGCSStoreFromConfig(ctx context.Context, cfg config.StorageConfig, opts ...option.ClientOption) (*GCSStore, error) {
	if cfg.GCSBucket == "" {
		return nil, domain.NewValidationError("gcs_bucket", "bucket is required for the gcs backend")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewGCSStore(client, cfg.GCSBucket, cfg.GCSPrefix), nil
}

// NewGCSStore wraps an existing client.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *GCSStore) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Path returns the gs:// URL of key.
func (s *GCSStore) Path(key string) string {
	return "gs://" + s.bucket + "/" + s.object(key)
}

// Exists reads the object header and checks the PDF signature.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsReadTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(s.object(key)).NewRangeReader(ctx, 0, headerProbeSize)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: open gcs object %s: %w", domain.ErrStorage, key, err)
	}
	defer r.Close()

	head, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("%w: read gcs object %s: %w", domain.ErrStorage, key, err)
	}
	return pdf.HasSignature(head), nil
}

// Put uploads data. GCS objects become visible only when the writer closes
// successfully, so a failed upload leaves no partial object.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.object(key)).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: write gcs object %s: %w", domain.ErrStorage, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: close gcs writer %s: %w", domain.ErrStorage, key, err)
	}
	return s.Path(key), nil
}

// Delete removes the object for key.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsReadTimeout)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(s.object(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: delete gcs object %s: %w", domain.ErrStorage, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
