package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/records-live-go/internal/clock"
)

// MemoryStore is a process-local Store. It backs single-node dev mode and
// tests; expiry is checked lazily against the injected clock.
type MemoryStore struct {
	mu     sync.Mutex
	clock  clock.Clock
	values map[string]memoryValue
	sets   map[string]map[string]struct{}
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

// NewMemory returns an empty MemoryStore. A nil clock uses real time.
func NewMemory(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{
		clock:  c,
		values: make(map[string]memoryValue),
		sets:   make(map[string]map[string]struct{}),
	}
}

// lookup returns the live value for key, dropping it if expired.
// Callers hold s.mu.
func (s *MemoryStore) lookup(key string) (memoryValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expiresAt.IsZero() && !s.clock.Now().Before(v.expiresAt) {
		delete(s.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value, 0)
}

func (s *MemoryStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set %q: non-positive ttl %v", key, ttl)
	}
	return s.put(ctx, key, value, ttl)
}

func (s *MemoryStore) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, len(value))
	copy(data, value)
	v := memoryValue{data: data}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		v.expiresAt = s.clock.Now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *MemoryStore) Members(ctx context.Context, set string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.sets[set]))
	for m := range s.sets[set] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[set] == nil {
		s.sets[set] = make(map[string]struct{})
	}
	s.sets[set][member] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[set], member)
	if len(s.sets[set]) == 0 {
		delete(s.sets, set)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
