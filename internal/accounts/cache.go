package accounts

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	account  Account
	loadedAt time.Time
}

// CachedStore fronts a Repository with a bounded, time-limited cache so the
// switch avoids a storage round trip per packet. It is explicitly
// constructed and owned by its caller; tests build isolated instances.
type CachedStore struct {
	repo       Repository
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewCachedStore builds a cache holding at most maxEntries accounts, each
// for at most ttl.
func NewCachedStore(repo Repository, ttl time.Duration, maxEntries int) *CachedStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{
		repo:       repo,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// FindByID returns the cached account when fresh, loading and caching it
// otherwise.
func (s *CachedStore) FindByID(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok && s.now().Sub(entry.loadedAt) < s.ttl {
		s.mu.Unlock()
		return entry.account, nil
	}
	s.mu.Unlock()

	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[id] = cacheEntry{account: account, loadedAt: s.now()}
	s.mu.Unlock()
	return account, nil
}

// Invalidate drops the cached entry for id, forcing the next lookup to hit
// the repository.
func (s *CachedStore) Invalidate(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *CachedStore) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.entries {
		if oldestID == "" || e.loadedAt.Before(oldest) {
			oldestID = id
			oldest = e.loadedAt
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
	}
}
