// Package qiita serves Qiita articles and the user profile through the
// shared read-through cache.
package qiita

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/cache"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/fetch"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/metrics"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/ratelimit"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/readthrough"
)

const (
	DefaultBaseURL      = "https://qiita.com"
	DefaultArticleLimit = 10

	RateLimitKey = "qiita:ratelimit"
)

// ArticlesKey is the cache key for the user's latest articles
func ArticlesKey(limit int) string {
	return fmt.Sprintf("qiita:articles:%d", limit)
}

// UserKey is the cache key for a user profile
func UserKey(userID string) string {
	return "qiita:user:" + userID
}

// TagKey is the cache key for one tag query
func TagKey(tag string, perPage int) string {
	return fmt.Sprintf("qiita:tag:%s:%d", tag, perPage)
}

// DefaultPolicy is the retry policy for Qiita calls
func DefaultPolicy() fetch.Policy {
	return fetch.Policy{
		MaxRetries:       2,
		Timeout:          8 * time.Second,
		BaseDelay:        400 * time.Millisecond,
		MaxJitter:        200 * time.Millisecond,
		ResetBuffer:      time.Second,
		MaxRateLimitWait: time.Minute,
	}
}

// Config holds configuration options for the Qiita client
type Config struct {
	UserID  string
	Token   string
	BaseURL string

	Policy   fetch.Policy
	Breaker  *fetch.BreakerConfig
	FreshTTL time.Duration
	StaleTTL time.Duration
	Coalesce bool

	Logger  *zap.Logger
	Metrics *metrics.Collector
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Client serves Qiita data through the shared cache
type Client struct {
	httpClient *http.Client
	baseURL    string
	userID     string

	fetcher  *fetch.Fetcher
	articles *readthrough.Family[[]Article]
	tagged   *readthrough.Family[[]Article]
	users    *readthrough.Family[*User]
	logger   *zap.Logger
}

// NewClientWithConfig creates a Qiita client backed by store
func NewClientWithConfig(store cache.Store, config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid Qiita base URL %q: %w", config.BaseURL, err)
	}

	httpClient := &http.Client{}
	if config.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	policy := config.Policy
	if policy == (fetch.Policy{}) {
		policy = DefaultPolicy()
	}

	fetcher := fetch.New(fetch.Config{
		Provider: "qiita",
		Policy:   policy,
		Headers:  ratelimit.QiitaHeaders,
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

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		userID:     config.UserID,
		fetcher:    fetcher,
		articles:   readthrough.NewFamily[[]Article]("qiita.articles", store, familyConfig),
		tagged:     readthrough.NewFamily[[]Article]("qiita.tag", store, familyConfig),
		users:      readthrough.NewFamily[*User]("qiita.user", store, familyConfig),
		logger:     logger.Named("qiita"),
	}, nil
}

// RateLimit returns the last rate-limit info Qiita reported
func (c *Client) RateLimit() (*ratelimit.Info, bool) {
	return c.fetcher.RateLimit()
}

// Articles returns the configured user's latest articles. Without a user
// id it returns an empty list.
func (c *Client) Articles(ctx context.Context, limit int) ([]Article, error) {
	if c.userID == "" {
		c.logger.Debug("no Qiita user configured, returning no articles")
		return []Article{}, nil
	}

	limit = readthrough.ClampInt(limit, DefaultArticleLimit)
	endpoint := c.endpoint("/api/v2/users/"+url.PathEscape(c.userID)+"/items", limit)

	return c.articles.Fetch(ctx, ArticlesKey(limit), func(ctx context.Context) ([]Article, error) {
		return c.getItems(ctx, "user articles", endpoint)
	})
}

// TagArticles returns the newest articles carrying tag
func (c *Client) TagArticles(ctx context.Context, tag string, perPage int) ([]Article, error) {
	perPage = readthrough.ClampInt(perPage, DefaultArticleLimit)
	endpoint := c.endpoint("/api/v2/tags/"+url.PathEscape(tag)+"/items", perPage)

	return c.tagged.Fetch(ctx, TagKey(tag, perPage), func(ctx context.Context) ([]Article, error) {
		return c.getItems(ctx, "tag articles "+tag, endpoint)
	})
}

// User returns the configured user's profile, or nil when no user id is
// configured.
func (c *Client) User(ctx context.Context) (*User, error) {
	if c.userID == "" {
		return nil, nil
	}

	endpoint := c.baseURL + "/api/v2/users/" + url.PathEscape(c.userID)
	return c.users.Fetch(ctx, UserKey(c.userID), func(ctx context.Context) (*User, error) {
		var raw apiUser
		call := fetch.JSON(c.httpClient, fetch.GetRequest(endpoint, nil), &raw)
		if _, err := c.fetcher.Do(ctx, "user", call); err != nil {
			return nil, err
		}
		return raw.user(), nil
	})
}

func (c *Client) getItems(ctx context.Context, op, endpoint string) ([]Article, error) {
	var items []apiItem
	call := fetch.JSON(c.httpClient, fetch.GetRequest(endpoint, nil), &items)

	c.logger.Debug("GET items", zap.String("op", op), zap.String("url", endpoint))
	if _, err := c.fetcher.Do(ctx, op, func(ctx context.Context) (*http.Response, error) {
		items = nil
		return call(ctx)
	}); err != nil {
		return nil, err
	}
	return articles(items), nil
}

func (c *Client) endpoint(path string, perPage int) string {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("per_page", strconv.Itoa(perPage))
	return c.baseURL + path + "?" + q.Encode()
}
