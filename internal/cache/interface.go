package cache

import (
	"time"
)

// Store defines the interface for a TTL key/value store shared by every
// upstream resource family in the process.
type Store interface {
	// Get retrieves a value if it exists and hasn't expired
	Get(key string) (any, bool)

	// Set stores a value with TTL, replacing any existing entry
	Set(key string, value any, ttl time.Duration)

	// Delete removes a single key
	Delete(key string)

	// Clear removes every entry
	Clear()

	// Size returns the number of physically stored entries, expired or not
	Size() int

	// CleanExpired removes expired entries and reports how many were evicted
	CleanExpired() int

	// GetStats returns cache statistics
	GetStats() Stats

	// Close stops background work and releases resources
	Close() error
}

// Stats summarises the entries held by a Store.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	ExpiredEntries int `json:"expired_entries"`
	ValidEntries   int `json:"valid_entries"`
}

// GetAs reads key from store and asserts it to T. A value of a different
// type is reported as a miss.
func GetAs[T any](store Store, key string) (T, bool) {
	var zero T
	raw, ok := store.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// StaleKey returns the long-TTL shadow key for a primary key.
func StaleKey(key string) string {
	return key + ":stale"
}
