// Package storagetest provides an in-memory storage.ObjectStore for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/storage"
)

type Store struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	gets     int
}

func New() *Store {
	return &Store{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

// Set stores data under key without going through Put.
func (s *Store) Set(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

// Object returns the bytes stored under key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// Gets reports how many times Get was called.
func (s *Store) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	s.Set(key, data)
	s.mu.Lock()
	s.metadata[key] = opts.Metadata
	s.mu.Unlock()
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now().UTC(), Metadata: opts.Metadata}, nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: s.metadata[key]}, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.ObjectInfo, 0)
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: s.metadata[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.metadata, key)
	return nil
}
