package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the background sweeper evicts expired entries.
const DefaultSweepInterval = 60 * time.Second

// Config holds configuration options for the memory store
type Config struct {
	// SweepInterval controls the background sweep; zero uses DefaultSweepInterval,
	// a negative value disables the sweeper.
	SweepInterval time.Duration
	Logger        *zap.Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type entry struct {
	value     any
	expiresAt time.Time
}

// MemoryStore provides TTL-based caching using in-memory storage
type MemoryStore struct {
	data   map[string]entry
	mutex  sync.RWMutex
	now    func() time.Time
	logger *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a new in-memory store with a 60s background sweep
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(&Config{})
}

// NewMemoryStoreWithConfig creates a new in-memory store and starts its sweeper
func NewMemoryStoreWithConfig(config *Config) *MemoryStore {
	if config == nil {
		config = &Config{}
	}

	s := &MemoryStore{
		data:   make(map[string]entry),
		now:    config.Now,
		logger: config.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("cache")

	interval := config.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go s.sweep(interval)
	} else {
		close(s.done)
	}

	return s
}

// Get retrieves a value if it exists and hasn't expired
func (s *MemoryStore) Get(key string) (any, bool) {
	s.mutex.RLock()
	e, exists := s.data[key]
	s.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if !s.now().Before(e.expiresAt) {
		s.evictIfExpired(key)
		return nil, false
	}

	return e.value, true
}

// Set stores a value in the cache with TTL
func (s *MemoryStore) Set(key string, value any, ttl time.Duration) {
	e := entry{value: value, expiresAt: s.now().Add(ttl)}

	s.mutex.Lock()
	s.data[key] = e
	s.mutex.Unlock()
}

// Delete removes key from the store
func (s *MemoryStore) Delete(key string) {
	s.mutex.Lock()
	delete(s.data, key)
	s.mutex.Unlock()
}

// Clear drops every entry
func (s *MemoryStore) Clear() {
	s.mutex.Lock()
	s.data = make(map[string]entry)
	s.mutex.Unlock()
}

// Size returns the number of stored entries, including expired ones not yet swept
func (s *MemoryStore) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.data)
}

// CleanExpired removes expired entries from the cache.
// Keys are collected under the read lock and evicted one at a time so a
// large sweep never holds the write lock for the whole scan.
func (s *MemoryStore) CleanExpired() int {
	now := s.now()

	s.mutex.RLock()
	var expired []string
	for key, e := range s.data {
		if !now.Before(e.expiresAt) {
			expired = append(expired, key)
		}
	}
	s.mutex.RUnlock()

	removed := 0
	for _, key := range expired {
		if s.evictIfExpired(key) {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned expired cache entries", zap.Int("removed", removed))
	}

	return removed
}

// evictIfExpired deletes key only if it is still expired; a concurrent Set
// may have refreshed it since it was observed.
func (s *MemoryStore) evictIfExpired(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, exists := s.data[key]
	if !exists || s.now().Before(e.expiresAt) {
		return false
	}
	delete(s.data, key)
	return true
}

func (s *MemoryStore) sweep(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanExpired()
		case <-s.stop:
			return
		}
	}
}

// Close stops the sweeper and drops all entries. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done

	s.Clear()
	return nil
}

// GetStats returns cache statistics
func (s *MemoryStore) GetStats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := s.now()
	stats := Stats{TotalEntries: len(s.data)}

	for _, e := range s.data {
		if !now.Before(e.expiresAt) {
			stats.ExpiredEntries++
		}
	}
	stats.ValidEntries = stats.TotalEntries - stats.ExpiredEntries

	return stats
}
