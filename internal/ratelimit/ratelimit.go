// Package ratelimit normalises provider rate-limit headers and remembers
// the last value each provider reported.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
)

// LowRemainingThreshold is the remaining-request count below which callers warn.
const LowRemainingThreshold = 10

// Info is the normalised rate-limit state reported by a provider.
type Info struct {
	Limit     uint32 `json:"limit"`
	Remaining uint32 `json:"remaining"`
	// ResetAt is the reset time in epoch seconds.
	ResetAt int64 `json:"reset_at"`
}

// Low reports whether the remaining budget is under LowRemainingThreshold.
func (i Info) Low() bool {
	return i.Remaining < LowRemainingThreshold
}

// ResetTime returns ResetAt as a time.Time.
func (i Info) ResetTime() time.Time {
	return time.Unix(i.ResetAt, 0)
}

// Headers names the three headers a provider uses for rate limiting.
type Headers struct {
	Limit     string
	Remaining string
	Reset     string
}

var (
	GitHubHeaders = Headers{
		Limit:     "X-Ratelimit-Limit",
		Remaining: "X-Ratelimit-Remaining",
		Reset:     "X-Ratelimit-Reset",
	}
	QiitaHeaders = Headers{
		Limit:     "Rate-Limit",
		Remaining: "Rate-Remaining",
		Reset:     "Rate-Reset",
	}
)

// Parse extracts Info from response headers. It returns false when any of
// the three headers is missing or not numeric.
func Parse(h http.Header, names Headers) (*Info, bool) {
	if h == nil {
		return nil, false
	}

	limit, ok := parseUint(h.Get(names.Limit))
	if !ok {
		return nil, false
	}
	remaining, ok := parseUint(h.Get(names.Remaining))
	if !ok {
		return nil, false
	}
	reset, err := strconv.ParseInt(strings.TrimSpace(h.Get(names.Reset)), 10, 64)
	if err != nil {
		return nil, false
	}

	return &Info{Limit: limit, Remaining: remaining, ResetAt: reset}, true
}

func parseUint(raw string) (uint32, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Tracker stores the most recent Info for one provider in the shared cache.
type Tracker struct {
	store cache.Store
	key   string
	now   func() time.Time
}

// NewTracker creates a tracker writing under key, e.g. "github:ratelimit".
func NewTracker(store cache.Store, key string) *Tracker {
	return &Tracker{store: store, key: key, now: time.Now}
}

// WithClock overrides the clock used to compute the entry TTL.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Key returns the cache key this tracker writes to.
func (t *Tracker) Key() string {
	return t.key
}

// Record replaces the stored value. The entry lives until the provider's
// reset time; a reset in the past stores it with zero TTL.
func (t *Tracker) Record(info Info) {
	ttl := info.ResetTime().Sub(t.now())
	if ttl < 0 {
		ttl = 0
	}
	t.store.Set(t.key, info, ttl)
}

// Last returns the most recently recorded Info without any network call.
func (t *Tracker) Last() (*Info, bool) {
	info, ok := cache.GetAs[Info](t.store, t.key)
	if !ok {
		return nil, false
	}
	return &info, true
}
