// Package storage abstracts the S3-compatible bucket that holds lake tables
// and memory archives.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Metadata keys written on memory archives.
const (
	MetaRecordCount = "askdb-record-count"
	MetaOldestAt    = "askdb-oldest-at"
	MetaNewestAt    = "askdb-newest-at"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	// Metadata holds user metadata without the x-amz-meta- prefix. Keys
	// are lower case. Backends that cannot return it on listing leave it
	// nil there and fill it on Stat.
	Metadata map[string]string
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the objects under prefix ordered by key. Keys are
	// relative to the store, the same form Get accepts.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete removes key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
}
