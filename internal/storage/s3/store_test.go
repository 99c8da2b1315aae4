package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/storage"
)

func TestPutUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "askdb/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/memory-archive/date=2026-02-19/archive-1.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastPutBucket)
	}
	if fake.lastPutKey != "askdb/prod/memory-archive/date=2026-02-19/archive-1.parquet" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
}

func TestPutForwardsMetadataAndReturnsRelativeKey(t *testing.T) {
	fake := &fakeClient{}
	store, _ := NewWithClient("bucket-a", "askdb", fake)

	info, err := store.Put(context.Background(), "memory-archive/a.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{storage.MetaRecordCount: "3"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "memory-archive/a.parquet" {
		t.Fatalf("Put().Key = %q", info.Key)
	}
	if fake.lastPutOpts.ContentType != "application/vnd.apache.parquet" || fake.lastPutOpts.Metadata[storage.MetaRecordCount] != "3" {
		t.Fatalf("put options = %+v", fake.lastPutOpts)
	}
}

func TestKeyspaceResolve(t *testing.T) {
	tests := []struct {
		prefix  string
		key     string
		want    string
		wantErr bool
	}{
		{prefix: "", key: "lake/orders.parquet", want: "lake/orders.parquet"},
		{prefix: "/askdb/", key: "/lake/orders.parquet", want: "askdb/lake/orders.parquet"},
		{prefix: "askdb", key: "lake/./orders.parquet", want: "askdb/lake/orders.parquet"},
		{prefix: "askdb", key: "  ", wantErr: true},
		{prefix: "askdb", key: "..", wantErr: true},
		{prefix: "askdb", key: "lake/../../etc/passwd", wantErr: true},
	}
	for _, tc := range tests {
		got, err := newKeyspace(tc.prefix).resolve(tc.key)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("resolve(%q, %q) = %q, want error", tc.prefix, tc.key, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("resolve(%q, %q) = %q, %v; want %q", tc.prefix, tc.key, got, err, tc.want)
		}
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	_, err = store.Put(context.Background(), "../secrets.txt", bytes.NewBufferString("x"), 1, storage.PutOptions{})
	if err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeClient{bucketExists: false}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !fake.createBucketCalled {
		t.Fatal("expected CreateBucket to be called")
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	fake := &fakeClient{deleteErr: storage.ErrObjectNotFound}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.Delete(context.Background(), "missing/file.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestListStripsStorePrefixAndSorts(t *testing.T) {
	fake := &fakeClient{listed: []storage.ObjectInfo{
		{Key: "askdb/prod/memory-archive/date=2026-02-20/archive-2.parquet", Size: 20},
		{Key: "askdb/prod/memory-archive/date=2026-02-19/archive-1.parquet", Size: 10},
	}}
	store, err := NewWithClient("bucket-a", "askdb/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	objects, err := store.List(context.Background(), "memory-archive/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastListPrefix != "askdb/prod/memory-archive/" {
		t.Fatalf("list prefix = %q", fake.lastListPrefix)
	}
	if len(objects) != 2 || objects[0].Key != "memory-archive/date=2026-02-19/archive-1.parquet" {
		t.Fatalf("List() = %#v", objects)
	}
}

func TestListWithoutPrefixUsesStoreRoot(t *testing.T) {
	fake := &fakeClient{}
	store, _ := NewWithClient("bucket-a", "root", fake)
	if _, err := store.List(context.Background(), ""); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastListPrefix != "root/" {
		t.Fatalf("list prefix = %q", fake.lastListPrefix)
	}
}

func TestGetMapsNotFound(t *testing.T) {
	fake := &fakeClient{getErr: storage.ErrObjectNotFound}
	store, _ := NewWithClient("bucket-a", "", fake)
	if _, err := store.Get(context.Background(), "lake/orders.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{raw: "https://minio.example.com", wantHost: "minio.example.com", wantSecure: true},
		{raw: "http://localhost:9000", wantHost: "localhost:9000"},
		{raw: "localhost:9000", useSSL: true, wantHost: "localhost:9000", wantSecure: true},
	}
	for _, tc := range tests {
		host, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if host != tc.wantHost || secure != tc.wantSecure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tc.raw, host, secure)
		}
	}
	if _, _, err := parseEndpoint("ftp://minio.example.com", false); err == nil {
		t.Fatal("parseEndpoint(ftp) expected error")
	}
}

type fakeClient struct {
	lastPutBucket      string
	lastPutKey         string
	lastPutOpts        storage.PutOptions
	bucketExists       bool
	createBucketCalled bool
	deleteErr          error
	getErr             error
	listed             []storage.ObjectInfo
	lastListPrefix     string
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	f.lastPutBucket = bucket
	f.lastPutKey = key
	f.lastPutOpts = opts
	_, _ = io.Copy(io.Discard, reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1", Metadata: opts.Metadata}, nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeClient) List(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	f.lastListPrefix = prefix
	return append([]storage.ObjectInfo(nil), f.listed...), nil
}

func (f *fakeClient) Delete(_ context.Context, _, _ string) error {
	return f.deleteErr
}

func (f *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) CreateBucket(_ context.Context, _, _ string) error {
	f.createBucketCalled = true
	return nil
}
