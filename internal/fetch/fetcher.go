// Package fetch performs upstream HTTP calls with bounded retries,
// exponential backoff and provider rate-limit awareness.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/metrics"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/ratelimit"
)

// Policy configures retry behavior for one provider or call site.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	Timeout    time.Duration // deadline for each attempt
	BaseDelay  time.Duration // backoff base
	MaxJitter  time.Duration // upper bound of the random backoff component
	// ResetBuffer is added to a rate-limit reset wait.
	ResetBuffer time.Duration
	// MaxRateLimitWait bounds how long a rate-limit reset is waited for;
	// longer waits fail the call at once. Zero means no bound.
	MaxRateLimitWait time.Duration
}

// defaultTimeout applies when a Policy leaves Timeout unset.
const defaultTimeout = 8 * time.Second

// BreakerConfig enables a circuit breaker around each logical call.
type BreakerConfig struct {
	MaxRequests         uint32        // requests allowed while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open-state duration before half-open
	ConsecutiveFailures uint32        // failures that trip the breaker
}

// Call performs a single attempt. It returns the response, which may be
// nil on transport failure, and any error. Implementations must have
// consumed and closed the body; the fetcher only reads status and headers.
// A non-nil error alongside a 2xx response marks a malformed payload.
type Call func(ctx context.Context) (*http.Response, error)

// Config holds the dependencies of a Fetcher.
type Config struct {
	Provider string
	Policy   Policy
	Headers  ratelimit.Headers
	Tracker  *ratelimit.Tracker
	Breaker  *BreakerConfig
	Logger   *zap.Logger
	Metrics  *metrics.Collector

	// Sleep, Now and Jitter are overridable for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Jitter func(max time.Duration) time.Duration
}

// RetryContext is the per-call retry state.
type RetryContext struct {
	Attempt     int
	MaxAttempts int
	LastErr     error
	LastStatus  int

	made int
}

// Result describes a successful call.
type Result struct {
	StatusCode int
	RateLimit  *ratelimit.Info
	Attempts   int
}

// Fetcher runs Calls for one provider.
type Fetcher struct {
	provider string
	policy   Policy
	headers  ratelimit.Headers
	tracker  *ratelimit.Tracker
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *metrics.Collector

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

// New creates a Fetcher from cfg.
func New(cfg Config) *Fetcher {
	f := &Fetcher{
		provider: cfg.Provider,
		policy:   cfg.Policy,
		headers:  cfg.Headers,
		tracker:  cfg.Tracker,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		sleep:    cfg.Sleep,
		now:      cfg.Now,
		jitter:   cfg.Jitter,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.logger = f.logger.Named("fetch").With(zap.String("provider", cfg.Provider))
	if f.sleep == nil {
		f.sleep = sleepContext
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.jitter == nil {
		f.jitter = randomJitter
	}
	if f.policy.Timeout <= 0 {
		f.policy.Timeout = defaultTimeout
	}
	if cfg.Breaker != nil {
		f.breaker = newBreaker(cfg.Provider, *cfg.Breaker, f.logger)
	}
	return f
}

// WithPolicy returns a Fetcher sharing f's tracker and breaker but using p.
func (f *Fetcher) WithPolicy(p Policy) *Fetcher {
	c := *f
	if p.Timeout <= 0 {
		p.Timeout = f.policy.Timeout
	}
	c.policy = p
	return &c
}

// Policy returns the active retry policy.
func (f *Fetcher) Policy() Policy {
	return f.policy
}

// RateLimit returns the last recorded rate-limit info for the provider.
func (f *Fetcher) RateLimit() (*ratelimit.Info, bool) {
	if f.tracker == nil {
		return nil, false
	}
	return f.tracker.Last()
}

// Do runs call under the retry policy. Every failure it returns matches
// errors.Is(err, ErrServiceUnavailable).
func (f *Fetcher) Do(ctx context.Context, op string, call Call) (*Result, error) {
	start := f.now()
	defer func() {
		f.metrics.ObserveCall(f.provider, f.now().Sub(start))
	}()

	if f.breaker == nil {
		return f.retry(ctx, op, call)
	}

	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.retry(ctx, op, call)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			f.logger.Warn("circuit breaker rejected call", zap.String("op", op), zap.Error(err))
			return nil, &UnavailableError{Provider: f.provider, Op: op, Cause: err}
		}
		return nil, err
	}
	return out.(*Result), nil
}

func (f *Fetcher) retry(ctx context.Context, op string, call Call) (*Result, error) {
	rc := RetryContext{MaxAttempts: f.policy.MaxRetries + 1}
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}

	for rc.Attempt = 0; rc.Attempt < rc.MaxAttempts; rc.Attempt++ {
		if err := ctx.Err(); err != nil {
			rc.LastErr = err
			return nil, f.unavailable(op, rc)
		}

		resp, err := f.attempt(ctx, call)
		rc.made++

		var (
			outcome Outcome
			info    *ratelimit.Info
		)
		if resp == nil {
			if ctx.Err() != nil {
				rc.LastErr = ctx.Err()
				return nil, f.unavailable(op, rc)
			}
			outcome = Transient
			if isPermanent(err) {
				outcome = Terminal
			}
			rc.LastErr = err
			rc.LastStatus = 0
		} else {
			info, _ = ratelimit.Parse(resp.Header, f.headers)
			outcome = Classify(resp.StatusCode, info)
			rc.LastStatus = resp.StatusCode
			rc.LastErr = err
			if outcome == Success && err != nil {
				outcome = Terminal
			}
			if rc.LastErr == nil && outcome != Success {
				rc.LastErr = &StatusError{StatusCode: resp.StatusCode}
			}
		}

		f.metrics.RecordAttempt(f.provider, outcome.String())
		if info != nil && (outcome == Success || outcome == RateLimited) {
			f.recordRateLimit(*info)
		}

		switch outcome {
		case Success:
			if rc.Attempt > 0 {
				f.logger.Info("upstream call succeeded after retry",
					zap.String("op", op),
					zap.Int("attempt", rc.Attempt+1),
				)
			}
			return &Result{StatusCode: resp.StatusCode, RateLimit: info, Attempts: rc.made}, nil
		case Terminal:
			f.logger.Warn("upstream call failed with non-retryable response",
				zap.String("op", op),
				zap.Int("status", rc.LastStatus),
				zap.Error(rc.LastErr),
			)
			return nil, f.unavailable(op, rc)
		}

		if rc.Attempt+1 >= rc.MaxAttempts {
			break
		}

		delay := Backoff(rc.Attempt, f.policy.BaseDelay, f.jitter(f.policy.MaxJitter))
		if outcome == RateLimited && info != nil {
			delay = RateLimitWait(*info, f.now(), f.policy.ResetBuffer)
			if f.policy.MaxRateLimitWait > 0 && delay > f.policy.MaxRateLimitWait {
				f.logger.Warn("rate limit reset too far away, giving up",
					zap.String("op", op),
					zap.Duration("wait", delay),
					zap.Time("reset", info.ResetTime()),
				)
				return nil, f.unavailable(op, rc)
			}
		}

		f.logger.Warn("retrying upstream call",
			zap.String("op", op),
			zap.String("outcome", outcome.String()),
			zap.Int("attempt", rc.Attempt+1),
			zap.Int("max_attempts", rc.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(rc.LastErr),
		)

		if err := f.sleep(ctx, delay); err != nil {
			rc.LastErr = err
			return nil, f.unavailable(op, rc)
		}
	}

	f.logger.Error("upstream call exhausted retries",
		zap.String("op", op),
		zap.Int("attempts", rc.MaxAttempts),
		zap.Int("status", rc.LastStatus),
		zap.Error(rc.LastErr),
	)
	return nil, f.unavailable(op, rc)
}

func (f *Fetcher) attempt(ctx context.Context, call Call) (*http.Response, error) {
	actx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()
	return call(actx)
}

func (f *Fetcher) recordRateLimit(info ratelimit.Info) {
	if f.tracker != nil {
		f.tracker.Record(info)
	}
	if info.Low() {
		f.logger.Warn("rate limit running low",
			zap.Uint32("remaining", info.Remaining),
			zap.Uint32("limit", info.Limit),
			zap.Time("reset", info.ResetTime()),
		)
	}
}

func (f *Fetcher) unavailable(op string, rc RetryContext) error {
	return &UnavailableError{
		Provider: f.provider,
		Op:       op,
		Attempts: rc.made,
		Status:   rc.LastStatus,
		Cause:    rc.LastErr,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
