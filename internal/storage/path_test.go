package storage

import (
	"testing"
	"time"
)

func TestBuildArchiveKey(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 23, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildArchiveKey("/memory-archive/", "01J0000000000000000000000A", ts)
	if err != nil {
		t.Fatalf("BuildArchiveKey() error = %v", err)
	}
	want := "memory-archive/date=2026-02-20/archive-01J0000000000000000000000A.parquet"
	if key != want {
		t.Fatalf("BuildArchiveKey() = %q, want %q", key, want)
	}
}

func TestBuildArchiveKeyNestedPrefix(t *testing.T) {
	key, err := BuildArchiveKey("exports/memory", "abc", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildArchiveKey() error = %v", err)
	}
	if key != "exports/memory/date=2026-01-02/archive-abc.parquet" {
		t.Fatalf("BuildArchiveKey() = %q", key)
	}
}

func TestBuildArchiveKeyRejectsInvalidComponents(t *testing.T) {
	if _, err := BuildArchiveKey("../up", "abc", time.Now()); err == nil {
		t.Fatal("expected invalid prefix error")
	}
	if _, err := BuildArchiveKey("archive", "a/b", time.Now()); err == nil {
		t.Fatal("expected invalid id error")
	}
	if _, err := BuildArchiveKey("", "abc", time.Now()); err == nil {
		t.Fatal("expected empty prefix error")
	}
}
