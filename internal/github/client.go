package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v65/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/fetch"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/metrics"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/ratelimit"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/readthrough"
)

const (
	// DefaultRepositoryLimit is the page size used when the caller gives none.
	DefaultRepositoryLimit = 20

	RateLimitKey = "github:ratelimit"

	defaultGraphQLURL = "https://api.github.com/graphql"
)

// RepositoriesKey is the cache key for one page of repositories
func RepositoriesKey(limit, page int) string {
	return fmt.Sprintf("github:repositories:%d:page%d", limit, page)
}

// ContributionsKey is the cache key for a user's contribution calendar
func ContributionsKey(username string) string {
	return "github:contributions:" + username
}

// DefaultPolicy is the retry policy for GitHub calls
func DefaultPolicy() fetch.Policy {
	return fetch.Policy{
		MaxRetries:       2,
		Timeout:          8 * time.Second,
		BaseDelay:        time.Second,
		MaxJitter:        500 * time.Millisecond,
		ResetBuffer:      time.Second,
		MaxRateLimitWait: time.Minute,
	}
}

// Config holds configuration options for the GitHub client
type Config struct {
	Username string
	Token    string

	// BaseURL overrides the REST API root (tests, GitHub Enterprise).
	BaseURL    string
	GraphQLURL string

	Policy   fetch.Policy
	Breaker  *fetch.BreakerConfig
	FreshTTL time.Duration
	StaleTTL time.Duration
	Coalesce bool

	Logger  *zap.Logger
	Metrics *metrics.Collector

	// Sleep replaces the retry wait; tests use it to skip real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client serves GitHub data through the shared cache
type Client struct {
	client     *github.Client
	httpClient *http.Client
	graphqlURL string
	username   string
	hasToken   bool

	fetcher       *fetch.Fetcher
	repositories  *readthrough.Family[[]Repository]
	contributions *readthrough.Family[*ContributionCalendar]
	logger        *zap.Logger
}

// NewClientWithConfig creates a GitHub client backed by store
func NewClientWithConfig(store cache.Store, config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{}
	if config.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: config.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(httpClient)
	if config.BaseURL != "" {
		base := config.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL %q: %w", config.BaseURL, err)
		}
		client.BaseURL = u
	}

	graphqlURL := config.GraphQLURL
	if graphqlURL == "" {
		graphqlURL = defaultGraphQLURL
	}

	policy := config.Policy
	if policy == (fetch.Policy{}) {
		policy = DefaultPolicy()
	}

	fetcher := fetch.New(fetch.Config{
		Provider: "github",
		Policy:   policy,
		Headers:  ratelimit.GitHubHeaders,
		Tracker:  ratelimit.NewTracker(store, RateLimitKey),
		Breaker:  config.Breaker,
		Logger:   logger,
		Metrics:  config.Metrics,
		Sleep:    config.Sleep,
	})

	familyConfig := &readthrough.Config{
		FreshTTL: config.FreshTTL,
		StaleTTL: config.StaleTTL,
		Coalesce: config.Coalesce,
		Logger:   logger,
		Metrics:  config.Metrics,
	}

	logger.Named("github").Debug("GitHub client initialized",
		zap.String("username", config.Username),
		zap.Bool("authenticated", config.Token != ""),
		zap.String("base_url", client.BaseURL.String()),
	)

	return &Client{
		client:        client,
		httpClient:    httpClient,
		graphqlURL:    graphqlURL,
		username:      config.Username,
		hasToken:      config.Token != "",
		fetcher:       fetcher,
		repositories:  readthrough.NewFamily[[]Repository]("github.repositories", store, familyConfig),
		contributions: readthrough.NewFamily[*ContributionCalendar]("github.contributions", store, familyConfig),
		logger:        logger.Named("github"),
	}, nil
}

// RateLimit returns the last rate-limit info GitHub reported
func (c *Client) RateLimit() (*ratelimit.Info, bool) {
	return c.fetcher.RateLimit()
}

// Repositories returns one page of the configured user's repositories,
// most recently updated first. Without a username it returns an empty list.
func (c *Client) Repositories(ctx context.Context, limit, page int) ([]Repository, error) {
	if c.username == "" {
		c.logger.Debug("no GitHub username configured, returning no repositories")
		return []Repository{}, nil
	}

	limit = readthrough.ClampInt(limit, DefaultRepositoryLimit)
	if page < 1 {
		page = 1
	}

	return c.repositories.Fetch(ctx, RepositoriesKey(limit, page), func(ctx context.Context) ([]Repository, error) {
		return c.listRepositories(ctx, limit, page)
	})
}

func (c *Client) listRepositories(ctx context.Context, limit, page int) ([]Repository, error) {
	opts := &github.RepositoryListByUserOptions{
		Type:      "owner",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: limit,
			Page:    page,
		},
	}

	var repos []*github.Repository
	_, err := c.fetcher.Do(ctx, "list repositories", func(ctx context.Context) (*http.Response, error) {
		c.logger.Debug("GET user repositories",
			zap.String("user", c.username),
			zap.Int("per_page", opts.PerPage),
			zap.Int("page", opts.Page),
		)

		rs, resp, err := c.client.Repositories.ListByUser(ctx, c.username, opts)
		if resp == nil {
			return nil, err
		}
		repos = rs
		fillRateLimitHeaders(resp.Response, err, time.Now())
		return resp.Response, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Repository, 0, len(repos))
	for _, repo := range repos {
		out = append(out, newRepository(repo))
	}
	return out, nil
}

// fillRateLimitHeaders makes a go-github rate-limit error visible in the
// response headers. While a primary limit is active go-github answers from
// its remembered state without calling GitHub, so its synthesized 403 has
// no headers. Secondary limits only carry Retry-After, which is folded into
// a zero-remaining reset.
func fillRateLimitHeaders(resp *http.Response, err error, now time.Time) {
	if resp == nil || err == nil {
		return
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	names := ratelimit.GitHubHeaders

	var (
		limit, remaining int
		reset            time.Time
	)
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr):
		if resp.Header.Get(names.Reset) != "" {
			return
		}
		limit = rateErr.Rate.Limit
		remaining = rateErr.Rate.Remaining
		reset = rateErr.Rate.Reset.Time
	case errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil:
		limit, _ = strconv.Atoi(resp.Header.Get(names.Limit))
		// round up to the next whole second
		reset = now.Add(*abuseErr.RetryAfter + time.Second - 1)
	default:
		return
	}
	if reset.IsZero() {
		return
	}

	resp.Header.Set(names.Limit, strconv.Itoa(limit))
	resp.Header.Set(names.Remaining, strconv.Itoa(remaining))
	resp.Header.Set(names.Reset, strconv.FormatInt(reset.Unix(), 10))
}
