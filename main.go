package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tucnak/climax"
	"go.uber.org/zap"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/output"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/readthrough"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/scheduler"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = ""

func getVersion() string {
	if version == "" {
		return "dev"
	}
	return version
}

func commonFlags() []climax.Flag {
	return []climax.Flag{
		{
			Name:     "config",
			Short:    "c",
			Usage:    `--config <file>`,
			Help:     `YAML configuration file (defaults apply when omitted)`,
			Variable: true,
		},
		{
			Name:     "output",
			Short:    "o",
			Usage:    `--output <text|json|pretty>`,
			Help:     `Output format (default: text)`,
			Variable: true,
		},
		{
			Name:     "verbose",
			Short:    "v",
			Usage:    `--verbose`,
			Help:     `Enable verbose logging (shows upstream calls, retries, cache hits and rate limits)`,
			Variable: false,
		},
	}
}

func withFlags(extra ...climax.Flag) []climax.Flag {
	return append(commonFlags(), extra...)
}

var limitFlag = climax.Flag{
	Name:     "limit",
	Short:    "l",
	Usage:    `--limit <n>`,
	Help:     `Number of items to return, 1-100`,
	Variable: true,
}

func main() {
	cli := climax.New("portfolio-proxy")
	cli.Brief = "Cached, rate-limit aware proxy for GitHub and Qiita portfolio data"
	cli.Version = getVersion()

	cli.AddCommand(climax.Command{
		Name:  "repos",
		Brief: "List GitHub repositories, most recently updated first",
		Usage: `repos [--limit <n>] [--page <n>] [--output <format>] [--verbose]`,
		Flags: withFlags(limitFlag, climax.Flag{
			Name:     "page",
			Short:    "p",
			Usage:    `--page <n>`,
			Help:     `Page number, starting at 1`,
			Variable: true,
		}),
		Handle: handleRepos,
	})

	cli.AddCommand(climax.Command{
		Name:   "contributions",
		Brief:  "Show the GitHub contribution calendar",
		Usage:  `contributions [--output <format>] [--verbose]`,
		Help:   `Requires GITHUB_USERNAME and GITHUB_TOKEN; without them the calendar is empty.`,
		Flags:  withFlags(),
		Handle: handleContributions,
	})

	cli.AddCommand(climax.Command{
		Name:   "qiita-articles",
		Brief:  "List the latest Qiita articles of the configured user",
		Usage:  `qiita-articles [--limit <n>] [--output <format>] [--verbose]`,
		Flags:  withFlags(limitFlag),
		Handle: handleQiitaArticles,
	})

	cli.AddCommand(climax.Command{
		Name:   "qiita-user",
		Brief:  "Show the configured Qiita user profile",
		Usage:  `qiita-user [--output <format>] [--verbose]`,
		Flags:  withFlags(),
		Handle: handleQiitaUser,
	})

	cli.AddCommand(climax.Command{
		Name:   "ai-articles",
		Brief:  "Show the stored AI articles snapshot (no network)",
		Usage:  `ai-articles [--limit <n>] [--output <format>]`,
		Flags:  withFlags(limitFlag),
		Handle: handleAIArticles,
	})

	cli.AddCommand(climax.Command{
		Name:   "refresh-ai",
		Brief:  "Rebuild the AI articles snapshot from all configured tags",
		Usage:  `refresh-ai [--output <format>] [--verbose]`,
		Flags:  withFlags(),
		Handle: handleRefreshAI,
	})

	cli.AddCommand(climax.Command{
		Name:  "serve",
		Brief: "Run the scheduled AI articles refresh and expose metrics",
		Usage: `serve [--metrics-addr <host:port>] [--config <file>] [--verbose]`,
		Help:  `Runs the startup snapshot check, then refreshes on the configured cron schedule until interrupted.`,
		Flags: withFlags(climax.Flag{
			Name:     "metrics-addr",
			Short:    "m",
			Usage:    `--metrics-addr <host:port>`,
			Help:     `Address for the Prometheus /metrics endpoint (or set METRICS_ADDR)`,
			Variable: true,
		}),
		Handle: handleServe,
	})

	os.Exit(cli.Run())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func intFlag(ctx climax.Context, name string) int {
	raw, _ := ctx.Get(name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func handleRepos(ctx climax.Context) int {
	a, err := newApp(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	limit := readthrough.ClampInt(intFlag(ctx, "limit"), 20)
	page, _ := ctx.Get("page")

	repos, err := a.github.Repositories(rctx, limit, readthrough.ClampPage(page))
	if err != nil {
		return fail(err)
	}
	a.logRateLimits()

	return a.write(repos, func(w io.Writer) error {
		return output.WriteRepositories(w, repos, time.Now())
	})
}

func handleContributions(ctx climax.Context) int {
	a, err := newApp(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	calendar, err := a.github.Contributions(rctx)
	if err != nil {
		return fail(err)
	}
	a.logRateLimits()

	return a.write(calendar, func(w io.Writer) error {
		return output.WriteCalendar(w, calendar)
	})
}

func handleQiitaArticles(ctx climax.Context) int {
	a, err := newApp(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	articles, err := a.qiita.Articles(rctx, intFlag(ctx, "limit"))
	if err != nil {
		return fail(err)
	}
	a.logRateLimits()

	return a.write(articles, func(w io.Writer) error {
		return output.WriteArticles(w, articles, time.Now())
	})
}

func handleQiitaUser(ctx climax.Context) int {
	a, err := newApp(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	user, err := a.qiita.User(rctx)
	if err != nil {
		return fail(err)
	}

	return a.write(user, func(w io.Writer) error {
		return output.WriteUser(w, user)
	})
}

func handleAIArticles(ctx climax.Context) int {
	a, err := newApp(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	snap, err := a.aggregator.GetSnapshot(rctx)
	if err != nil {
		return fail(err)
	}

	top := readthrough.ClampInt(intFlag(ctx, "limit"), 10)
	return a.write(snap, func(w io.Writer) error {
		return output.WriteSnapshot(w, snap, top, time.Now())
	})
}

func handleRefreshAI(ctx climax.Context) int {
	a, err := newApp(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	report, err := a.aggregator.Run(rctx)
	if err != nil {
		return fail(err)
	}
	a.logRateLimits()

	return a.write(report.Snapshot, func(w io.Writer) error {
		return output.WriteReport(w, report)
	})
}

func handleServe(ctx climax.Context) int {
	a, err := newApp(ctx, true)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	rctx, cancel := signalContext()
	defer cancel()

	sched, err := scheduler.New(a.aggregator, &scheduler.Config{
		Spec:       a.cfg.AIArticles.Schedule,
		RunTimeout: a.cfg.AIArticles.RunTimeout,
		Logger:     a.logger,
	})
	if err != nil {
		return fail(err)
	}

	addr := a.cfg.Metrics.Addr
	if flagAddr, ok := ctx.Get("metrics-addr"); ok && flagAddr != "" {
		addr = flagAddr
	}

	var server *http.Server
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		server = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("serving metrics", zap.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
				cancel()
			}
		}()
	}

	sched.Start()
	a.logger.Info("portfolio-proxy running",
		zap.String("version", getVersion()),
		zap.String("schedule", a.cfg.AIArticles.Schedule),
	)

	<-rctx.Done()
	a.logger.Info("shutting down")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	sched.Stop()

	return 0
}
