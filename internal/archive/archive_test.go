package archive

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/storage"
	"github.com/askdb/askdb/internal/storage/storagetest"
)

func seededMemory(t *testing.T) *memory.Store {
	t.Helper()
	at := time.Date(2026, time.February, 19, 10, 0, 0, 0, time.UTC)
	store := memory.Open(filepath.Join(t.TempDir(), "memory.json"), memory.Options{
		Now: func() time.Time {
			at = at.Add(time.Minute)
			return at
		},
	})
	store.Append(context.Background(), memory.Interaction{
		Question: "top 5 products by sales",
		SQL:      "SELECT name FROM sales LIMIT 5",
		Summary:  "Anvil leads.",
		Results:  []map[string]any{{"name": "anvil", "total": 120}},
	})
	store.Append(context.Background(), memory.Interaction{
		Question: "how many customers",
		Summary:  "There are 12 customers.",
	})
	return store
}

func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestArchiveWritesParquetObject(t *testing.T) {
	objects := storagetest.New()
	mem := seededMemory(t)
	archiver := &Archiver{
		Memory:      mem,
		ObjectStore: objects,
		Config:      Config{Prefix: "/exports/"},
		Clock:       steppingClock(time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)),
	}

	result, err := archiver.Archive(context.Background())
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if !strings.HasPrefix(result.Key, "exports/date=2026-03-01/archive-") || !strings.HasSuffix(result.Key, ".parquet") {
		t.Fatalf("Key = %q", result.Key)
	}
	if result.RecordCount != 2 || result.SizeBytes == 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.OldestAt == nil || !result.OldestAt.Equal(time.Date(2026, time.February, 19, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("OldestAt = %v", result.OldestAt)
	}
	if _, ok := objects.Object(result.Key); !ok {
		t.Fatalf("object %q not written", result.Key)
	}
	info, err := objects.Stat(context.Background(), result.Key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Metadata[storage.MetaRecordCount] != "2" || info.Metadata[storage.MetaOldestAt] != "2026-02-19T10:01:00Z" {
		t.Fatalf("metadata = %#v", info.Metadata)
	}

	loaded, err := archiver.Load(context.Background(), result.Key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := mem.Records()
	if len(loaded) != len(want) {
		t.Fatalf("Load() records = %d, want %d", len(loaded), len(want))
	}
	for i := range want {
		if loaded[i].Question != want[i].Question || !loaded[i].Timestamp.Equal(want[i].Timestamp) {
			t.Fatalf("record %d = %+v, want %+v", i, loaded[i], want[i])
		}
		if !reflect.DeepEqual(loaded[i].QuestionTokens, want[i].QuestionTokens) {
			t.Fatalf("record %d tokens = %v, want %v", i, loaded[i].QuestionTokens, want[i].QuestionTokens)
		}
		if !reflect.DeepEqual(loaded[i].SQLQuery, want[i].SQLQuery) || !reflect.DeepEqual(loaded[i].Summary, want[i].Summary) {
			t.Fatalf("record %d optional fields differ", i)
		}
		if !reflect.DeepEqual(loaded[i].Results, want[i].Results) {
			t.Fatalf("record %d results = %#v, want %#v", i, loaded[i].Results, want[i].Results)
		}
	}
	if loaded[1].SQLQuery != nil {
		t.Fatalf("record 1 SQLQuery = %v, want nil", *loaded[1].SQLQuery)
	}
}

func TestArchiveEmptyMemory(t *testing.T) {
	archiver := &Archiver{
		Memory:      memory.Open(filepath.Join(t.TempDir(), "memory.json"), memory.Options{}),
		ObjectStore: storagetest.New(),
	}
	if _, err := archiver.Archive(context.Background()); !errors.Is(err, ErrEmptyMemory) {
		t.Fatalf("Archive() error = %v, want ErrEmptyMemory", err)
	}
}

func TestArchivePrunesOldest(t *testing.T) {
	objects := storagetest.New()
	objects.Set("memory-archive/README.txt", []byte("not an archive"))
	archiver := &Archiver{
		Memory:      seededMemory(t),
		ObjectStore: objects,
		Config:      Config{Keep: 2},
		Clock:       steppingClock(time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)),
	}

	var keys []string
	for i := 0; i < 3; i++ {
		result, err := archiver.Archive(context.Background())
		if err != nil {
			t.Fatalf("Archive() #%d error = %v", i, err)
		}
		keys = append(keys, result.Key)
	}

	listed, err := archiver.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 2 || listed[0].Key != keys[1] || listed[1].Key != keys[2] {
		t.Fatalf("List() = %+v, want %v", listed, keys[1:])
	}
	if _, ok := objects.Object(keys[0]); ok {
		t.Fatalf("oldest archive %q was not pruned", keys[0])
	}
	if _, ok := objects.Object("memory-archive/README.txt"); !ok {
		t.Fatal("non-archive object was pruned")
	}
}

func TestEncodeRecordsRequiresRecords(t *testing.T) {
	if _, err := EncodeRecords(nil); err == nil {
		t.Fatal("EncodeRecords() expected error")
	}
}
