package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// blobPrefix is the key prefix vault documents live under in the bucket.
const blobPrefix = "documents"

// BlobConfig holds configuration for the object-storage adapter.
type BlobConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// BlobStore vaults documents in an S3-compatible bucket. Object keys are
// documents/<source-id>_<timestamp>_<name>, so a key alone identifies the
// original document and when it was stored.
type BlobStore struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewBlobStore creates an object-storage adapter.
func NewBlobStore(cfg BlobConfig, logger zerolog.Logger) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("backend: bucket name is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "blob_store").Logger(),
	}, nil
}

// Kind reports the bucket backend family.
func (s *BlobStore) Kind() Kind { return KindBucket }

// Ensure creates the vault bucket if missing and enables versioning so
// overwrites never destroy prior document generations.
func (s *BlobStore) Ensure(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", ErrUnavailable, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("created vault bucket")
	}

	if err := s.client.EnableVersioning(ctx, s.bucket); err != nil {
		// Not all deployments grant the versioning permission.
		s.logger.Warn().Err(err).Str("bucket", s.bucket).Msg("could not enable bucket versioning")
	}
	return nil
}

// Put stores content under documents/<source-id>_<timestamp>_<name>.
func (s *BlobStore) Put(ctx context.Context, sourceID, name string, data []byte, meta Metadata) (Address, error) {
	storedAt := meta.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
		meta.StoredAt = storedAt
	}

	key := objectKey(sourceID, name, storedAt)
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta.toMap(),
	})
	if err != nil {
		return Address{}, fmt.Errorf("%w: put %q: %v", ErrUnavailable, key, err)
	}

	s.logger.Info().
		Str("source_id", sourceID).
		Str("key", key).
		Int64("size", info.Size).
		Bool("encrypted", meta.Encrypted).
		Msg("stored document in bucket")

	return Address{Kind: KindBucket, Path: key}, nil
}

// Get returns the stored content and metadata at the addressed key.
func (s *BlobStore) Get(ctx context.Context, addr Address) ([]byte, Metadata, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, addr.Path, minio.GetObjectOptions{})
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: get %q: %v", ErrUnavailable, addr.Path, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return nil, Metadata{}, fmt.Errorf("%w: stat %q: %v", ErrUnavailable, addr.Path, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("read %q: %w", addr.Path, err)
	}

	return data, metadataFromMap(stat.UserMetadata), nil
}

// List returns vault documents most recent first. prefix filters by source
// ID or original name; limit caps the result (default 100).
func (s *BlobStore) List(ctx context.Context, prefix string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       blobPrefix + "/",
		Recursive:    true,
		WithMetadata: true,
	})

	var records []Record
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, object.Err)
		}

		meta := metadataFromMap(object.UserMetadata)
		if meta.StoredAt.IsZero() {
			meta.StoredAt = object.LastModified
		}
		if prefix != "" && !matchesPrefix(meta, object.Key, prefix) {
			continue
		}

		records = append(records, Record{
			Address:  Address{Kind: KindBucket, Path: object.Key},
			Metadata: meta,
			Size:     object.Size,
			Created:  meta.StoredAt,
			Updated:  object.LastModified,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete removes the addressed object. Deleting an absent key is reported
// as ErrNotFound, so removal checks existence first.
func (s *BlobStore) Delete(ctx context.Context, addr Address) error {
	if _, err := s.client.StatObject(ctx, s.bucket, addr.Path, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return fmt.Errorf("%w: stat %q: %v", ErrUnavailable, addr.Path, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, addr.Path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrUnavailable, addr.Path, err)
	}

	s.logger.Info().Str("key", addr.Path).Msg("deleted document from bucket")
	return nil
}

// Exists reports whether the addressed object is present.
func (s *BlobStore) Exists(ctx context.Context, addr Address) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, addr.Path, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %q: %v", ErrUnavailable, addr.Path, err)
	}
	return true, nil
}

// HealthCheck reports whether the bucket is reachable.
func (s *BlobStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// PutRaw writes arbitrary bytes under an explicit key, outside the document
// namespace. The audit log uses this for its JSON entries.
func (s *BlobStore) PutRaw(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("%w: put %q: %v", ErrUnavailable, key, err)
	}
	return nil
}

// GetRaw reads the bytes at an explicit key.
func (s *BlobStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", ErrUnavailable, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

// ListRaw returns object keys under an explicit prefix. limit <= 0 lists
// everything.
func (s *BlobStore) ListRaw(ctx context.Context, prefix string, limit int) ([]string, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var keys []string
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("%w: list %q: %v", ErrUnavailable, prefix, object.Err)
		}
		keys = append(keys, object.Key)
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, nil
}

// objectKey builds documents/<source-id>_<timestamp>_<name>.
func objectKey(sourceID, name string, storedAt time.Time) string {
	return blobPrefix + "/" + vaultFileName(sourceID, name, storedAt)
}

// matchesPrefix accepts the full object key (the wire form callers list
// with, e.g. "documents/"), the source ID, the original name, or the key
// with the documents prefix stripped.
func matchesPrefix(meta Metadata, key, prefix string) bool {
	return strings.HasPrefix(key, prefix) ||
		strings.HasPrefix(meta.SourceID, prefix) ||
		strings.HasPrefix(meta.Name, prefix) ||
		strings.HasPrefix(strings.TrimPrefix(key, blobPrefix+"/"), prefix)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
