package store

import (
	"context"
	"sync"
)

// DefaultKey is the slot key holding the serialized queue.
const DefaultKey = "sms_queue"

// Slot is a string-keyed persistence primitive. Get reports found=false for a
// missing key; it only returns an error when the backend itself failed.
type Slot interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemorySlot keeps values in process memory. Nothing survives a restart.
type MemorySlot struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{vals: make(map[string]string)}
}

func (s *MemorySlot) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *MemorySlot) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}

func (s *MemorySlot) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vals, key)
	return nil
}
