package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/fetch"
)

const contributionsQuery = `query($login: String!) {
  user(login: $login) {
    contributionsCollection {
      contributionCalendar {
        totalContributions
        weeks {
          contributionDays {
            date
            contributionCount
            color
          }
        }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type contributionsResponse struct {
	Data struct {
		User *struct {
			ContributionsCollection struct {
				ContributionCalendar ContributionCalendar `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Contributions returns the contribution calendar of the configured user.
// The GraphQL API needs a token, so without a username or token the
// calendar is empty.
func (c *Client) Contributions(ctx context.Context) (*ContributionCalendar, error) {
	if c.username == "" || !c.hasToken {
		c.logger.Debug("GitHub username or token not configured, returning empty calendar")
		return EmptyCalendar(), nil
	}

	return c.contributions.Fetch(ctx, ContributionsKey(c.username), c.loadContributions)
}

func (c *Client) loadContributions(ctx context.Context) (*ContributionCalendar, error) {
	payload := graphQLRequest{
		Query:     contributionsQuery,
		Variables: map[string]any{"login": c.username},
	}

	var out contributionsResponse
	post := fetch.JSON(c.httpClient, fetch.PostJSONRequest(c.graphqlURL, nil, payload), &out)

	_, err := c.fetcher.Do(ctx, "contributions", func(ctx context.Context) (*http.Response, error) {
		out = contributionsResponse{}
		resp, err := post(ctx)
		if err != nil || resp == nil || resp.StatusCode/100 != 2 {
			return resp, err
		}
		// GraphQL reports failures in the body of a 200.
		if len(out.Errors) > 0 {
			return resp, fmt.Errorf("graphql: %s", out.Errors[0].Message)
		}
		if out.Data.User == nil {
			return resp, errors.New("graphql: user not found")
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	calendar := out.Data.User.ContributionsCollection.ContributionCalendar
	if calendar.Weeks == nil {
		calendar.Weeks = []ContributionWeek{}
	}
	c.logger.Debug("fetched contribution calendar",
		zap.String("user", c.username),
		zap.Int("total", calendar.TotalContributions),
	)
	return &calendar, nil
}
