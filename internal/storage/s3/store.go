// Package s3 implements storage.ObjectStore on any S3-compatible endpoint
// through minio-go. All keys live under an optional store-wide prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/askdb/askdb/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// client is the subset of bucket operations the store needs. Keys passed
// in are absolute within the bucket.
type client interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	client client
	bucket string
	keys   keyspace
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewWithClient(cfg.Bucket, cfg.Prefix, mc)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket, prefix string, c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	return &Store{client: c, bucket: bucket, keys: newKeyspace(prefix)}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Put(ctx, s.bucket, full, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, failed("put", full, err)
	}
	info.Key = s.keys.relative(info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Get(ctx, s.bucket, full)
	if err != nil {
		return nil, failed("get", full, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, s.bucket, full)
	if err != nil {
		return storage.ObjectInfo{}, failed("stat", full, err)
	}
	info.Key = s.keys.relative(info.Key)
	return info, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full, err := s.keys.listPrefix(prefix)
	if err != nil {
		return nil, err
	}
	objects, err := s.client.List(ctx, s.bucket, full)
	if err != nil {
		return nil, failed("list", full, err)
	}
	for i := range objects {
		objects[i].Key = s.keys.relative(objects[i].Key)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.keys.resolve(key)
	if err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.bucket, full); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return failed("delete", full, err)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// failed keeps storage.ErrObjectNotFound matchable with errors.Is.
func failed(op, key string, err error) error {
	return fmt.Errorf("%s object %q: %w", op, key, err)
}

// keyspace maps store-relative keys to bucket keys under a fixed prefix
// and refuses keys that would escape it.
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = path.Clean("/" + strings.TrimSpace(prefix))
	return keyspace{prefix: strings.TrimPrefix(prefix, "/")}
}

func (k keyspace) resolve(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return path.Join(k.prefix, cleaned), nil
}

// listPrefix keeps a trailing slash so "a/" does not match "ab/...".
func (k keyspace) listPrefix(prefix string) (string, error) {
	if strings.TrimSpace(strings.Trim(prefix, "/")) == "" {
		if k.prefix == "" {
			return "", nil
		}
		return k.prefix + "/", nil
	}
	full, err := k.resolve(prefix)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(prefix, "/") {
		full += "/"
	}
	return full, nil
}

func (k keyspace) relative(key string) string {
	if k.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, k.prefix+"/")
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{client: mc}, nil
}

// parseEndpoint accepts host[:port] or a URL. An https URL forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint host is required")
	}
	switch parsed.Scheme {
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{
		Key:          uploaded.Key,
		Size:         uploaded.Size,
		ETag:         uploaded.ETag,
		LastModified: uploaded.LastModified,
		Metadata:     opts.Metadata,
	}, nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	obj, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return objectInfo(obj), nil
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	// WithMetadata is a MinIO extension; other backends ignore it.
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true, WithMetadata: true}) {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}
		out = append(out, objectInfo(obj))
	}
	return out, nil
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	return mapMinioErr(m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	return exists, mapMinioErr(err)
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket, region string) error {
	return mapMinioErr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func objectInfo(obj minio.ObjectInfo) storage.ObjectInfo {
	info := storage.ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}
	if len(obj.UserMetadata) > 0 {
		info.Metadata = make(map[string]string, len(obj.UserMetadata))
		for k, v := range obj.UserMetadata {
			info.Metadata[strings.ToLower(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"))] = v
		}
	}
	return info
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, response.Message)
		}
	}
	return err
}
