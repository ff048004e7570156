// Package memory is an in-process blob store for local runs and tests.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/storage"
)

type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func New() *Store {
	return &Store{objects: map[string][]byte{}}
}

func (s *Store) Upload(_ context.Context, category enums.FileStorageCategory, reference string, content []byte) error {
	key, err := storage.ObjectKey(category, reference)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), content...)
	return nil
}

func (s *Store) Download(_ context.Context, category enums.FileStorageCategory, reference string) (io.ReadCloser, error) {
	key, err := storage.ObjectKey(category, reference)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *Store) DeleteIfExists(_ context.Context, category enums.FileStorageCategory, references []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reference := range references {
		key, err := storage.ObjectKey(category, reference)
		if err != nil {
			return err
		}
		delete(s.objects, key)
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
