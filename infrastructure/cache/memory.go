// Package cache provides in-process implementations of ports.CacheStore.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ahrav/go-versus/internal/ports"
)

var _ ports.CacheStore = (*MemoryStore)(nil)

// MemoryStore is a ports.CacheStore backed by go-cache. Expired entries are
// swept every cleanup interval.
type MemoryStore struct {
	items *gocache.Cache
}

// NewMemoryStore creates a store whose entries expire after ttl unless a
// call overrides it. A non-positive ttl keeps entries until deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryStore{items: gocache.New(ttl, 2*ttl)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := s.items.Get(key)
	return v, ok, nil
}

// Set stores value under key. A zero expiration uses the store default.
func (s *MemoryStore) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if expiration == 0 {
		expiration = gocache.DefaultExpiration
	}
	s.items.Set(key, value, expiration)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.items.Delete(key)
	return nil
}

// Len reports the number of entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int { return s.items.ItemCount() }
