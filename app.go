package main

import (
	"io"
	"os"
	"time"

	"github.com/tucnak/climax"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/aiarticles"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/config"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/github"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/logging"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/metrics"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/output"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/qiita"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/snapshot"
)

// app is the wired component graph shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	format  output.Format
	verbose bool
	out     io.Writer
	errOut  io.Writer

	store      *cache.MemoryStore
	github     *github.Client
	qiita      *qiita.Client
	snapshots  snapshot.Store
	aggregator *aiarticles.Aggregator

	closers []func() error
}

func newApp(ctx climax.Context, service bool) (*app, error) {
	configPath, _ := ctx.Get("config")
	formatFlag, _ := ctx.Get("output")

	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath, ".env")
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if service {
		logger, err = logging.New(ctx.Is("verbose"), zapcore.InfoLevel)
	} else {
		logger, err = logging.New(ctx.Is("verbose"))
	}
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, logger, format, os.Stdout)
	if err != nil {
		return nil, err
	}
	a.verbose = ctx.Is("verbose")
	a.errOut = os.Stderr
	return a, nil
}

// build wires every component from cfg
func build(cfg *config.Config, logger *zap.Logger, format output.Format, out io.Writer) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(cfg.Metrics.Namespace),
		format:  format,
		out:     out,
		errOut:  io.Discard,
	}

	a.store = cache.NewMemoryStoreWithConfig(&cache.Config{
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        logger,
	})
	a.closers = append(a.closers, a.store.Close)

	gh, err := github.NewClientWithConfig(a.store, &github.Config{
		Username:   cfg.GitHub.Username,
		Token:      cfg.GitHub.Token,
		BaseURL:    cfg.GitHub.BaseURL,
		GraphQLURL: cfg.GitHub.GraphQLURL,
		Policy:     cfg.GitHub.Retry.Policy(),
		Breaker:    cfg.GitHub.Breaker.Fetch(),
		FreshTTL:   cfg.Cache.FreshTTL,
		StaleTTL:   cfg.Cache.StaleTTL,
		Coalesce:   cfg.Cache.Coalesce,
		Logger:     logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.github = gh

	qc, err := qiita.NewClientWithConfig(a.store, &qiita.Config{
		UserID:   cfg.Qiita.UserID,
		Token:    cfg.Qiita.Token,
		BaseURL:  cfg.Qiita.BaseURL,
		Policy:   cfg.Qiita.Retry.Policy(),
		Breaker:  cfg.Qiita.Breaker.Fetch(),
		FreshTTL: cfg.Cache.FreshTTL,
		StaleTTL: cfg.Cache.StaleTTL,
		Coalesce: cfg.Cache.Coalesce,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.qiita = qc

	switch cfg.Snapshot.Backend {
	case "sqlite":
		s, err := snapshot.NewSQLiteStore(cfg.Snapshot.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.snapshots = s
		a.closers = append(a.closers, s.Close)
	default:
		a.snapshots = snapshot.NewFileStore(cfg.Snapshot.Path)
	}

	a.aggregator = aiarticles.New(a.qiita, a.store, a.snapshots, &aiarticles.Config{
		Tags:        cfg.AIArticles.Tags,
		PerTag:      cfg.AIArticles.PerTag,
		MaxArticles: cfg.AIArticles.MaxArticles,
		Delay:       cfg.AIArticles.Delay,
		CacheTTL:    cfg.AIArticles.CacheTTL,
		Logger:      logger,
		Metrics:     a.metrics,
	})

	logger.Debug("components wired",
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
		zap.String("snapshot_path", cfg.Snapshot.Path),
		zap.Strings("ai_tags", cfg.AIArticles.Tags),
	)
	return a, nil
}

// Close releases resources in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *app) write(v any, text func(w io.Writer) error) int {
	if err := output.Write(a.out, a.format, v, text); err != nil {
		return fail(err)
	}
	return 0
}

// logRateLimits reports the last known upstream quotas on stderr in verbose mode
func (a *app) logRateLimits() {
	if !a.verbose {
		return
	}
	now := time.Now()
	info, ok := a.github.RateLimit()
	_ = output.WriteRateLimit(a.errOut, "github", info, ok, now)
	info, ok = a.qiita.RateLimit()
	_ = output.WriteRateLimit(a.errOut, "qiita", info, ok, now)
}
