package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/ratelimit"
)

// testClock is a fake clock that the fake sleep advances.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_714_564_800, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *testClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestFetcher(t *testing.T, clock *testClock, policy Policy) (*Fetcher, *ratelimit.Tracker) {
	t.Helper()
	store := cache.NewMemoryStoreWithConfig(&cache.Config{SweepInterval: -1, Now: clock.Now})
	t.Cleanup(func() { _ = store.Close() })

	tracker := ratelimit.NewTracker(store, "github:ratelimit").WithClock(clock.Now)
	f := New(Config{
		Provider: "github",
		Policy:   policy,
		Headers:  ratelimit.GitHubHeaders,
		Tracker:  tracker,
		Sleep:    clock.Sleep,
		Now:      clock.Now,
		Jitter:   func(time.Duration) time.Duration { return 0 },
	})
	return f, tracker
}

func testPolicy(retries int) Policy {
	return Policy{
		MaxRetries:       retries,
		Timeout:          2 * time.Second,
		BaseDelay:        400 * time.Millisecond,
		MaxJitter:        200 * time.Millisecond,
		ResetBuffer:      time.Second,
		MaxRateLimitWait: time.Minute,
	}
}

func getCall(url string) Call {
	var out map[string]any
	return JSON(http.DefaultClient, GetRequest(url, nil), &out)
}

func TestFetcher_RetryBound(t *testing.T) {
	for retries := 0; retries <= 3; retries++ {
		t.Run(strconv.Itoa(retries), func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			clock := newTestClock()
			f, _ := newTestFetcher(t, clock, testPolicy(retries))

			_, err := f.Do(context.Background(), "list", getCall(server.URL))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrServiceUnavailable))

			var unavailable *UnavailableError
			require.True(t, errors.As(err, &unavailable))
			assert.Equal(t, retries+1, unavailable.Attempts)
			assert.Equal(t, http.StatusServiceUnavailable, unavailable.Status)

			assert.Equal(t, int32(retries+1), atomic.LoadInt32(&hits))
			assert.Len(t, clock.Sleeps(), retries)
		})
	}
}

func TestFetcher_BackoffDelays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(3))

	_, err := f.Do(context.Background(), "list", getCall(server.URL))
	require.Error(t, err)

	assert.Equal(t, []time.Duration{
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}, clock.Sleeps())
}

func TestFetcher_SuccessRecordsRateLimit(t *testing.T) {
	clock := newTestClock()
	reset := clock.Now().Add(time.Hour).Unix()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4321")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	f, tracker := newTestFetcher(t, clock, testPolicy(2))

	var out struct {
		OK bool `json:"ok"`
	}
	result, err := f.Do(context.Background(), "get", JSON(nil, GetRequest(server.URL, nil), &out))
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 1, result.Attempts)
	require.NotNil(t, result.RateLimit)
	assert.Equal(t, uint32(4321), result.RateLimit.Remaining)

	info, ok := tracker.Last()
	require.True(t, ok)
	assert.Equal(t, ratelimit.Info{Limit: 5000, Remaining: 4321, ResetAt: reset}, *info)

	viaFetcher, ok := f.RateLimit()
	require.True(t, ok)
	assert.Equal(t, *info, *viaFetcher)
}

func TestFetcher_TransientThenSuccess(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	result, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []time.Duration{400 * time.Millisecond}, clock.Sleeps())
}

func TestFetcher_NonRetryableStatus(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusUnauthorized, http.StatusInternalServerError, http.StatusForbidden} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "30")
				w.Header().Set("X-RateLimit-Reset", "1714568400")
				w.WriteHeader(status)
			}))
			defer server.Close()

			clock := newTestClock()
			f, tracker := newTestFetcher(t, clock, testPolicy(3))

			_, err := f.Do(context.Background(), "get", getCall(server.URL))
			require.ErrorIs(t, err, ErrServiceUnavailable)
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
			assert.Empty(t, clock.Sleeps())

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, status, statusErr.StatusCode)

			_, ok := tracker.Last()
			assert.False(t, ok, "terminal responses do not update the rate limit record")
		})
	}
}

func TestFetcher_RateLimitWaitsForReset(t *testing.T) {
	clock := newTestClock()
	reset := clock.Now().Add(5 * time.Second)

	var (
		mu       sync.Mutex
		attempts []time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, clock.Now())
		n := len(attempts)
		mu.Unlock()

		if n == 1 {
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f, tracker := newTestFetcher(t, clock, testPolicy(2))

	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.NoError(t, err)

	require.Len(t, attempts, 2)
	assert.False(t, attempts[1].Before(reset.Add(time.Second)),
		"retry at %s happened before reset %s plus buffer", attempts[1], reset)
	assert.Equal(t, []time.Duration{6 * time.Second}, clock.Sleeps())

	_, ok := tracker.Last()
	assert.False(t, ok, "rate limit record expires at the reset time")
}

func TestFetcher_ForbiddenWithZeroRemainingIsRateLimited(t *testing.T) {
	clock := newTestClock()
	reset := clock.Now().Add(10 * time.Second).Unix()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t, clock, testPolicy(1))

	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{11 * time.Second}, clock.Sleeps())
}

func TestFetcher_RateLimitedWithoutResetUsesBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, clock.Sleeps())
}

func TestFetcher_RateLimitResetTooFar(t *testing.T) {
	clock := newTestClock()
	reset := clock.Now().Add(time.Hour).Unix()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t, clock, testPolicy(2))

	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, clock.Sleeps())
}

func TestFetcher_NetworkErrorRetries(t *testing.T) {
	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	var calls int32
	call := func(ctx context.Context) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection refused")
	}

	_, err := f.Do(context.Background(), "get", call)
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.ErrorContains(t, errors.Unwrap(err), "connection refused")
}

func TestFetcher_PermanentErrorDoesNotRetry(t *testing.T) {
	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	var calls int32
	call := func(ctx context.Context) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Permanent(errors.New("bad url"))
	}

	_, err := f.Do(context.Background(), "get", call)
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetcher_MalformedBodyIsTerminal(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetcher_AttemptTimeout(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	clock := newTestClock()
	policy := testPolicy(1)
	policy.Timeout = 50 * time.Millisecond
	f, _ := newTestFetcher(t, clock, policy)

	start := time.Now()
	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetcher_CancelDuringWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := New(Config{
		Provider: "qiita",
		Policy:   Policy{MaxRetries: 3, Timeout: time.Second, BaseDelay: 10 * time.Second},
		Headers:  ratelimit.QiitaHeaders,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.Do(ctx, "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetcher_CanceledBeforeStart(t *testing.T) {
	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := f.Do(ctx, "get", func(ctx context.Context) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 0, unavailable.Attempts)
}

func TestFetcher_CircuitBreakerOpens(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	clock := newTestClock()
	f := New(Config{
		Provider: "github",
		Policy:   testPolicy(0),
		Headers:  ratelimit.GitHubHeaders,
		Breaker:  &BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute},
		Sleep:    clock.Sleep,
		Now:      clock.Now,
	})

	for i := 0; i < 2; i++ {
		_, err := f.Do(context.Background(), "get", getCall(server.URL))
		require.ErrorIs(t, err, ErrServiceUnavailable)
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, err := f.Do(context.Background(), "get", getCall(server.URL))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "open breaker must not reach upstream")
}

func TestFetcher_WithPolicy(t *testing.T) {
	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(2))

	narrowed := f.WithPolicy(Policy{MaxRetries: 0})
	assert.Equal(t, 0, narrowed.Policy().MaxRetries)
	assert.Equal(t, 2*time.Second, narrowed.Policy().Timeout, "timeout falls back to the parent's")
	assert.Equal(t, 2, f.Policy().MaxRetries, "parent is unchanged")
}

func TestPostJSONRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"echo": "ok"}`))
	}))
	defer server.Close()

	clock := newTestClock()
	f, _ := newTestFetcher(t, clock, testPolicy(0))

	header := http.Header{}
	header.Set("Authorization", "Bearer abc")

	var out struct {
		Echo string `json:"echo"`
	}
	_, err := f.Do(context.Background(), "post", JSON(nil, PostJSONRequest(server.URL, header, map[string]string{"q": "x"}), &out))
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Echo)
}

func TestNew_DefaultsTimeout(t *testing.T) {
	f := New(Config{Provider: "test", Policy: Policy{MaxRetries: 1}})
	assert.Equal(t, 8*time.Second, f.Policy().Timeout)
	assert.Equal(t, 1, f.Policy().MaxRetries)
}
