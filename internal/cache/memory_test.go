package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock *fakeClock) *MemoryStore {
	t.Helper()
	s := NewMemoryStoreWithConfig(&Config{SweepInterval: -1, Now: clock.Now})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore_TTL(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		advance time.Duration
		want    bool
	}{
		{name: "before expiry", ttl: 10 * time.Second, advance: 9 * time.Second, want: true},
		{name: "exactly at expiry", ttl: 10 * time.Second, advance: 10 * time.Second, want: false},
		{name: "after expiry", ttl: 10 * time.Second, advance: time.Minute, want: false},
		{name: "zero ttl", ttl: 0, advance: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := newTestStore(t, clock)

			s.Set("k", "v", tt.ttl)
			clock.Advance(tt.advance)

			got, ok := s.Get("k")
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, "v", got)
			}
		})
	}
}

func TestMemoryStore_ExpiredReadEvicts(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	s.Set("k", 1, time.Second)
	clock.Advance(2 * time.Second)
	require.Equal(t, 1, s.Size())

	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Size(), "expired entry should be evicted on read")
}

func TestMemoryStore_Isolation(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	s.Set("a", "first", time.Minute)
	s.Set("b", "second", time.Minute)
	s.Set("a", "overwritten", time.Minute)

	b, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "second", b)

	a, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "overwritten", a)

	s.Delete("a")
	_, ok = s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.True(t, ok)
}

func TestMemoryStore_CleanExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	s.Set("short-1", 1, time.Second)
	s.Set("short-2", 2, time.Second)
	s.Set("long", 3, time.Hour)

	clock.Advance(5 * time.Second)

	stats := s.GetStats()
	assert.Equal(t, Stats{TotalEntries: 3, ExpiredEntries: 2, ValidEntries: 1}, stats)

	assert.Equal(t, 2, s.CleanExpired())
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 0, s.CleanExpired())
}

func TestMemoryStore_ClearAndClose(t *testing.T) {
	s := NewMemoryStoreWithConfig(&Config{SweepInterval: 10 * time.Millisecond})

	s.Set("a", 1, time.Minute)
	s.Set("b", 2, time.Minute)
	s.Clear()
	assert.Equal(t, 0, s.Size())

	s.Set("c", 3, time.Minute)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close must be idempotent")
	assert.Equal(t, 0, s.Size())
}

func TestMemoryStore_BackgroundSweep(t *testing.T) {
	s := NewMemoryStoreWithConfig(&Config{SweepInterval: 5 * time.Millisecond})
	defer s.Close()

	s.Set("gone", 1, time.Millisecond)

	assert.Eventually(t, func() bool {
		return s.Size() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestGetAs(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	s.Set("ints", []int{1, 2}, time.Minute)

	ints, ok := GetAs[[]int](s, "ints")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, ints)

	_, ok = GetAs[string](s, "ints")
	assert.False(t, ok, "type mismatch should be a miss")

	_, ok = GetAs[[]int](s, "missing")
	assert.False(t, ok)
}

func TestStaleKey(t *testing.T) {
	assert.Equal(t, "qiita:articles:10:stale", StaleKey("qiita:articles:10"))
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStoreWithConfig(&Config{SweepInterval: time.Millisecond})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("w%d:%d", worker, j%10)
				s.Set(key, j, time.Millisecond*time.Duration(j%3))
				s.Get(key)
				if j%7 == 0 {
					s.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Size(), 16*10)
}
