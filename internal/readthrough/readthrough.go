// Package readthrough composes the shared cache store with an upstream
// loader: serve fresh entries, fetch on miss, fall back to the stale copy
// when the upstream call fails.
package readthrough

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/fetch"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/metrics"
)

const (
	DefaultFreshTTL = 900 * time.Second
	DefaultStaleTTL = 3600 * time.Second
)

// Loader fetches the upstream value for one key.
type Loader[T any] func(ctx context.Context) (T, error)

// Config holds configuration options for a Family
type Config struct {
	FreshTTL time.Duration
	StaleTTL time.Duration
	// Coalesce shares one upstream call among concurrent misses of a key.
	Coalesce bool
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Family is the read-through cache for one logical resource family,
// e.g. GitHub repositories or Qiita articles.
type Family[T any] struct {
	name     string
	store    cache.Store
	freshTTL time.Duration
	staleTTL time.Duration
	coalesce bool
	group    singleflight.Group
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewFamily creates a Family named name over store
func NewFamily[T any](name string, store cache.Store, config *Config) *Family[T] {
	if config == nil {
		config = &Config{}
	}

	f := &Family[T]{
		name:     name,
		store:    store,
		freshTTL: config.FreshTTL,
		staleTTL: config.StaleTTL,
		coalesce: config.Coalesce,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}
	if f.freshTTL <= 0 {
		f.freshTTL = DefaultFreshTTL
	}
	if f.staleTTL <= 0 {
		f.staleTTL = DefaultStaleTTL
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.logger = f.logger.Named("readthrough").With(zap.String("family", name))

	return f
}

// Name returns the family name used in logs and metrics
func (f *Family[T]) Name() string {
	return f.name
}

// Fetch returns the value for key: the fresh cache entry if present,
// otherwise the result of load (written to both the fresh and stale keys),
// otherwise the stale entry. With neither, the error matches
// fetch.ErrServiceUnavailable.
func (f *Family[T]) Fetch(ctx context.Context, key string, load Loader[T]) (T, error) {
	if v, ok := cache.GetAs[T](f.store, key); ok {
		f.metrics.RecordHit(f.name)
		f.logger.Debug("cache hit", zap.String("key", key))
		return v, nil
	}
	f.metrics.RecordMiss(f.name)

	value, err := f.load(ctx, key, load)
	if err == nil {
		return value, nil
	}

	if stale, ok := cache.GetAs[T](f.store, cache.StaleKey(key)); ok {
		f.metrics.RecordStale(f.name)
		f.logger.Warn("upstream failed, serving stale cache",
			zap.String("key", key),
			zap.Error(err),
		)
		return stale, nil
	}

	f.metrics.RecordUnavailable(f.name)
	f.logger.Error("upstream failed and no stale cache available",
		zap.String("key", key),
		zap.Error(err),
	)

	var zero T
	if errors.Is(err, fetch.ErrServiceUnavailable) {
		return zero, err
	}
	return zero, fmt.Errorf("%s %s: %w: %w", f.name, key, fetch.ErrServiceUnavailable, err)
}

func (f *Family[T]) load(ctx context.Context, key string, load Loader[T]) (T, error) {
	if !f.coalesce {
		return f.loadAndStore(ctx, key, load)
	}

	out, err, shared := f.group.Do(key, func() (interface{}, error) {
		return f.loadAndStore(ctx, key, load)
	})
	if shared {
		f.logger.Debug("coalesced concurrent miss", zap.String("key", key))
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

func (f *Family[T]) loadAndStore(ctx context.Context, key string, load Loader[T]) (T, error) {
	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	f.store.Set(key, value, f.freshTTL)
	f.store.Set(cache.StaleKey(key), value, f.staleTTL)
	f.logger.Debug("cached upstream value",
		zap.String("key", key),
		zap.Duration("fresh_ttl", f.freshTTL),
		zap.Duration("stale_ttl", f.staleTTL),
	)
	return value, nil
}

// Invalidate drops the fresh entry for key, keeping the stale copy
func (f *Family[T]) Invalidate(key string) {
	f.store.Delete(key)
}
