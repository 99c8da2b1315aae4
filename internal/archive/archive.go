// Package archive exports conversation memory snapshots to object storage
// as parquet files.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/storage"
)

var ErrEmptyMemory = errors.New("conversation memory is empty")

type Snapshotter interface {
	Records() []memory.Record
}

type Config struct {
	Prefix string
	// Keep bounds how many archives remain under Prefix after a run.
	// Zero keeps every archive.
	Keep int
}

type Result struct {
	Key         string     `json:"key"`
	RecordCount int64      `json:"record_count"`
	SizeBytes   int64      `json:"size_bytes"`
	CreatedAt   time.Time  `json:"created_at"`
	OldestAt    *time.Time `json:"oldest_at,omitempty"`
	NewestAt    *time.Time `json:"newest_at,omitempty"`
	Pruned      []string   `json:"pruned,omitempty"`
}

type Archiver struct {
	Memory      Snapshotter
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

func (a *Archiver) Archive(ctx context.Context) (Result, error) {
	records := a.Memory.Records()
	if len(records) == 0 {
		return Result{}, ErrEmptyMemory
	}

	encoded, err := EncodeRecords(records)
	if err != nil {
		return Result{}, fmt.Errorf("encode memory to parquet: %w", err)
	}

	now := a.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	key, err := storage.BuildArchiveKey(a.prefix(), id, now)
	if err != nil {
		return Result{}, fmt.Errorf("build archive key: %w", err)
	}

	info, err := a.ObjectStore.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    archiveMetadata(encoded),
	})
	if err != nil {
		return Result{}, fmt.Errorf("put archive object: %w", err)
	}

	result := Result{
		Key:         key,
		RecordCount: encoded.RecordCount,
		SizeBytes:   info.Size,
		CreatedAt:   now,
		OldestAt:    encoded.MinTime,
		NewestAt:    encoded.MaxTime,
	}
	if result.SizeBytes == 0 {
		result.SizeBytes = int64(len(encoded.Data))
	}

	if a.Config.Keep > 0 {
		pruned, err := a.Prune(ctx, a.Config.Keep)
		if err != nil {
			a.logger().WarnContext(ctx, "archive prune failed", slog.String("error", err.Error()))
		}
		result.Pruned = pruned
	}

	a.logger().InfoContext(ctx, "memory archived",
		slog.String("key", key),
		slog.Int64("records", result.RecordCount),
		slog.Int64("size_bytes", result.SizeBytes),
	)
	return result, nil
}

// List returns archives oldest first.
func (a *Archiver) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	objects, err := a.ObjectStore.List(ctx, a.prefix()+"/")
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if strings.HasSuffix(object.Key, ".parquet") {
			out = append(out, object)
		}
	}
	return out, nil
}

// Prune deletes the oldest archives until at most keep remain.
func (a *Archiver) Prune(ctx context.Context, keep int) ([]string, error) {
	objects, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for len(objects)-len(deleted) > keep {
		key := objects[len(deleted)].Key
		if err := a.ObjectStore.Delete(ctx, key); err != nil {
			return deleted, fmt.Errorf("delete archive %s: %w", key, err)
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// Load reads back the records of one archive.
func (a *Archiver) Load(ctx context.Context, key string) ([]memory.Record, error) {
	reader, err := a.ObjectStore.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get archive %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", key, err)
	}
	return DecodeRecords(data)
}

func archiveMetadata(encoded EncodeResult) map[string]string {
	meta := map[string]string{storage.MetaRecordCount: strconv.FormatInt(encoded.RecordCount, 10)}
	if encoded.MinTime != nil {
		meta[storage.MetaOldestAt] = encoded.MinTime.UTC().Format(time.RFC3339)
	}
	if encoded.MaxTime != nil {
		meta[storage.MetaNewestAt] = encoded.MaxTime.UTC().Format(time.RFC3339)
	}
	return meta
}

func (a *Archiver) prefix() string {
	prefix := strings.Trim(a.Config.Prefix, "/")
	if prefix == "" {
		return "memory-archive"
	}
	return prefix
}

func (a *Archiver) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

func (a *Archiver) logger() *slog.Logger {
	return observability.OrDiscard(a.Logger)
}
