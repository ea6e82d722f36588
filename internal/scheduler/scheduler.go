// Package scheduler drives the AI-articles refresh: once at startup when
// no snapshot exists and then on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/snapshot"
)

const (
	// DefaultSpec runs the refresh daily at 03:00.
	DefaultSpec       = "0 3 * * *"
	DefaultRunTimeout = 10 * time.Minute
)

// Job is the refresh entry point shared by every trigger
type Job interface {
	EnsureSnapshot(ctx context.Context) (bool, error)
	FetchAndSave(ctx context.Context) (*snapshot.Snapshot, error)
}

// Config holds configuration options for the Scheduler
type Config struct {
	Spec       string
	Location   *time.Location
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// Scheduler runs Job on a cron schedule
type Scheduler struct {
	cron       *cron.Cron
	entry      cron.EntryID
	job        Job
	runTimeout time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Scheduler. The cron schedule is validated here so a bad schedule
// fails at startup.
func New(job Job, config *Config) (*Scheduler, error) {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	spec := config.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	loc := config.Location
	if loc == nil {
		loc = time.Local
	}
	runTimeout := config.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}

	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       c,
		job:        job,
		runTimeout: runTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	id, err := c.AddFunc(spec, s.scheduledRefresh)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id

	return s, nil
}

// Start runs the startup check in the background and starts the schedule.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
		defer cancel()

		ran, err := s.job.EnsureSnapshot(ctx)
		if err != nil {
			s.logger.Error("startup snapshot check failed", zap.Error(err))
			return
		}
		s.logger.Info("startup snapshot check finished", zap.Bool("refreshed", ran))
	}()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next_run", s.Next()))
}

// Next returns the time of the next scheduled refresh
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Trigger runs a refresh immediately, outside the schedule.
func (s *Scheduler) Trigger(ctx context.Context) (*snapshot.Snapshot, error) {
	return s.job.FetchAndSave(ctx)
}

// Stop cancels any running refresh and waits for it to return. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.cron.Stop().Done()
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	})
}

func (s *Scheduler) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	snap, err := s.job.FetchAndSave(ctx)
	if err != nil {
		s.logger.Error("scheduled refresh failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled refresh finished",
		zap.Int("articles", len(snap.Articles)),
		zap.Time("next_run", s.Next()),
	)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
