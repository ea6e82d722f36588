// Package aiarticles builds the AI-articles snapshot from many Qiita tag
// queries and keeps it available through the cache and durable storage.
package aiarticles

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/metrics"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/qiita"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/snapshot"
)

const (
	CacheKey = "qiita:ai-articles"

	DefaultPerTag      = 20
	DefaultMaxArticles = 100
	DefaultDelay       = 200 * time.Millisecond
	DefaultCacheTTL    = 24 * time.Hour
)

// DefaultTags is the tag list queried when none is configured.
var DefaultTags = []string{
	"AI",
	"機械学習",
	"生成AI",
	"ChatGPT",
	"LLM",
	"OpenAI",
	"ClaudeCode",
	"RAG",
	"深層学習",
	"PyTorch",
}

// TagSource returns the newest articles for one tag
type TagSource interface {
	TagArticles(ctx context.Context, tag string, perPage int) ([]qiita.Article, error)
}

// Config holds configuration options for the Aggregator
type Config struct {
	Tags        []string
	PerTag      int
	MaxArticles int
	Delay       time.Duration
	CacheTTL    time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// TagResult is the outcome of one tag query within a run
type TagResult struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
	Err   error  `json:"-"`
}

// OK reports whether the tag query succeeded
func (r TagResult) OK() bool {
	return r.Err == nil
}

// Report describes one finished batch run
type Report struct {
	RunID     string
	Snapshot  *snapshot.Snapshot
	Results   []TagResult
	Persisted bool
	// Replaced is false when every tag failed and the previous snapshot
	// was kept.
	Replaced bool
}

// Failed returns the tags whose query failed
func (r *Report) Failed() []string {
	var failed []string
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res.Tag)
		}
	}
	return failed
}

// Aggregator owns the AI-articles snapshot
type Aggregator struct {
	source    TagSource
	store     cache.Store
	snapshots snapshot.Store

	tags        []string
	perTag      int
	maxArticles int
	delay       time.Duration
	cacheTTL    time.Duration

	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	// runs are serialized so two triggers never interleave writes
	mu sync.Mutex
}

// New creates an Aggregator reading tags from source and writing the
// snapshot to store and snapshots.
func New(source TagSource, store cache.Store, snapshots snapshot.Store, config *Config) *Aggregator {
	if config == nil {
		config = &Config{}
	}

	a := &Aggregator{
		source:      source,
		store:       store,
		snapshots:   snapshots,
		tags:        config.Tags,
		perTag:      config.PerTag,
		maxArticles: config.MaxArticles,
		delay:       config.Delay,
		cacheTTL:    config.CacheTTL,
		logger:      config.Logger,
		metrics:     config.Metrics,
		now:         config.Now,
		sleep:       config.Sleep,
	}
	if len(a.tags) == 0 {
		a.tags = DefaultTags
	}
	if a.perTag <= 0 {
		a.perTag = DefaultPerTag
	}
	if a.maxArticles <= 0 {
		a.maxArticles = DefaultMaxArticles
	}
	if a.delay < 0 {
		a.delay = 0
	}
	if a.cacheTTL <= 0 {
		a.cacheTTL = DefaultCacheTTL
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.logger = a.logger.Named("aiarticles")
	if a.now == nil {
		a.now = time.Now
	}
	if a.sleep == nil {
		a.sleep = sleepContext
	}
	return a
}

// Tags returns the configured tag list
func (a *Aggregator) Tags() []string {
	return a.tags
}

// FetchAndSave runs a full refresh and returns the resulting snapshot.
func (a *Aggregator) FetchAndSave(ctx context.Context) (*snapshot.Snapshot, error) {
	report, err := a.Run(ctx)
	if err != nil {
		return nil, err
	}
	return report.Snapshot, nil
}

// Run queries every tag, merges the results and replaces the snapshot.
// Per-tag failures are recorded in the report; the run itself only fails
// when ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) (*Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &Report{RunID: uuid.NewString()}
	logger := a.logger.With(zap.String("run_id", report.RunID))
	logger.Info("starting AI articles refresh", zap.Strings("tags", a.tags))

	var collected []snapshot.Article
	for i, tag := range a.tags {
		if i > 0 && a.delay > 0 {
			if err := a.sleep(ctx, a.delay); err != nil {
				a.metrics.RecordBatch("canceled", 0, nil)
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			a.metrics.RecordBatch("canceled", 0, nil)
			return nil, err
		}

		articles, err := a.source.TagArticles(ctx, tag, a.perTag)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				a.metrics.RecordBatch("canceled", 0, nil)
				return nil, ctxErr
			}
			logger.Warn("tag query failed, skipping", zap.String("tag", tag), zap.Error(err))
			report.Results = append(report.Results, TagResult{Tag: tag, Err: err})
			continue
		}

		logger.Debug("tag query succeeded", zap.String("tag", tag), zap.Int("articles", len(articles)))
		report.Results = append(report.Results, TagResult{Tag: tag, Count: len(articles)})
		for _, article := range articles {
			collected = append(collected, fromQiita(article))
		}
	}

	succeeded := make([]string, 0, len(report.Results))
	for _, res := range report.Results {
		if res.OK() {
			succeeded = append(succeeded, res.Tag)
		}
	}

	if len(succeeded) == 0 {
		logger.Error("every tag query failed, keeping previous snapshot",
			zap.Int("tags", len(a.tags)),
		)
		report.Snapshot = a.current(ctx, logger)
		a.metrics.RecordBatch("degraded", len(report.Snapshot.Articles), report.Failed())
		return report, nil
	}

	// Tags lists the queried tags that answered, not the union of the
	// articles' own tags.
	snap := &snapshot.Snapshot{
		LastUpdated: a.now().UTC(),
		Articles:    Merge(collected, a.maxArticles),
		Tags:        succeeded,
	}

	if err := a.snapshots.Save(ctx, snap); err != nil {
		logger.Error("failed to persist snapshot, serving in-memory result", zap.Error(err))
	} else {
		report.Persisted = true
	}
	a.store.Set(CacheKey, snap, a.cacheTTL)

	report.Snapshot = snap
	report.Replaced = true

	failed := report.Failed()
	result := "success"
	if len(failed) > 0 {
		result = "partial"
	}
	a.metrics.RecordBatch(result, len(snap.Articles), failed)

	logger.Info("AI articles refresh finished",
		zap.Int("articles", len(snap.Articles)),
		zap.Int("collected", len(collected)),
		zap.Strings("succeeded_tags", succeeded),
		zap.Strings("failed_tags", failed),
		zap.Bool("persisted", report.Persisted),
	)
	return report, nil
}

// GetSnapshot returns the current snapshot without touching the network:
// the cached copy, else the durable copy (re-cached), else an empty one.
func (a *Aggregator) GetSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.current(ctx, a.logger), nil
}

func (a *Aggregator) current(ctx context.Context, logger *zap.Logger) *snapshot.Snapshot {
	if snap, ok := cache.GetAs[*snapshot.Snapshot](a.store, CacheKey); ok {
		return snap
	}

	snap, err := a.snapshots.Load(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		logger.Debug("no stored snapshot yet")
		return snapshot.Empty()
	case err != nil:
		logger.Warn("failed to load stored snapshot", zap.Error(err))
		return snapshot.Empty()
	}

	a.store.Set(CacheKey, snap, a.cacheTTL)
	return snap
}

// EnsureSnapshot runs a refresh when no durable snapshot exists yet. It
// reports whether a refresh ran.
func (a *Aggregator) EnsureSnapshot(ctx context.Context) (bool, error) {
	snap, err := a.snapshots.Load(ctx)
	if err == nil {
		a.store.Set(CacheKey, snap, a.cacheTTL)
		a.logger.Info("stored snapshot found, skipping startup refresh",
			zap.Time("last_updated", snap.LastUpdated),
			zap.Int("articles", len(snap.Articles)),
		)
		return false, nil
	}
	if !errors.Is(err, snapshot.ErrNotFound) {
		a.logger.Warn("failed to load stored snapshot, refreshing", zap.Error(err))
	}

	if _, err := a.Run(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func fromQiita(a qiita.Article) snapshot.Article {
	return snapshot.Article{
		ID:          a.ID,
		Title:       a.Title,
		URL:         a.URL,
		LikesCount:  a.LikesCount,
		StocksCount: a.StocksCount,
		Tags:        a.Tags,
		Author: snapshot.Author{
			ID:              a.Author.ID,
			Name:            a.Author.Name,
			ProfileImageURL: a.Author.ProfileImageURL,
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
