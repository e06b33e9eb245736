package memory

import (
	"context"
	"sync"

	"telemetry-pipeline/internal/archive"
)

// Object is one stored object.
type Object struct {
	Data        []byte
	ContentType string
}

// Store keeps objects in a map and counts puts.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
	puts    int
	err     error
}

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]Object)}
}

// FailWith makes every following Put return err. A nil err clears it.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := archive.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.err != nil {
		return s.err
	}
	s.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

// Get returns the object under key.
func (s *Store) Get(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Puts returns the number of Put calls, failed ones included.
func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
