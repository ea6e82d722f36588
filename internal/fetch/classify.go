package fetch

import (
	"net/http"
	"time"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/ratelimit"
)

// Outcome is the retry classification of a single upstream response.
type Outcome int

const (
	Success Outcome = iota
	RateLimited
	Transient
	Terminal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify maps an HTTP status (and any parsed rate-limit info) to an Outcome.
// A 403 counts as rate limited only when the provider reports zero remaining.
func Classify(status int, info *ratelimit.Info) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusForbidden && info != nil && info.Remaining == 0:
		return RateLimited
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return Transient
	default:
		return Terminal
	}
}

// maxBackoffShift keeps base<<attempt from overflowing.
const maxBackoffShift = 16

// Backoff returns base * 2^attempt + jitter. jitter is the already drawn
// random component, so the result is deterministic.
func Backoff(attempt int, base, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return base*time.Duration(1<<attempt) + jitter
}

// RateLimitWait returns how long to wait for the provider's reset:
// max(0, reset - now) + buffer.
func RateLimitWait(info ratelimit.Info, now time.Time, buffer time.Duration) time.Duration {
	wait := info.ResetTime().Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait + buffer
}
