package github

import (
	"time"

	"github.com/google/go-github/v65/github"
)

// Repository represents a GitHub repository as served to callers
type Repository struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"fullName"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Homepage    string    `json:"homepage,omitempty"`
	Language    string    `json:"language,omitempty"`
	StarCount   int       `json:"starCount"`
	ForkCount   int       `json:"forkCount"`
	Topics      []string  `json:"topics"`
	Fork        bool      `json:"fork"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newRepository(repo *github.Repository) Repository {
	topics := repo.Topics
	if topics == nil {
		topics = []string{}
	}
	return Repository{
		ID:          repo.GetID(),
		Name:        repo.GetName(),
		FullName:    repo.GetFullName(),
		Description: repo.GetDescription(),
		URL:         repo.GetHTMLURL(),
		Homepage:    repo.GetHomepage(),
		Language:    repo.GetLanguage(),
		StarCount:   repo.GetStargazersCount(),
		ForkCount:   repo.GetForksCount(),
		Topics:      topics,
		Fork:        repo.GetFork(),
		UpdatedAt:   repo.GetUpdatedAt().Time,
	}
}

// ContributionCalendar is the contribution graph of one user
type ContributionCalendar struct {
	TotalContributions int                `json:"totalContributions"`
	Weeks              []ContributionWeek `json:"weeks"`
}

// ContributionWeek is one column of the calendar
type ContributionWeek struct {
	Days []ContributionDay `json:"contributionDays"`
}

// ContributionDay is a single cell of the calendar
type ContributionDay struct {
	Date              string `json:"date"`
	ContributionCount int    `json:"contributionCount"`
	Color             string `json:"color"`
}

// EmptyCalendar is returned when contributions cannot be requested at all.
func EmptyCalendar() *ContributionCalendar {
	return &ContributionCalendar{Weeks: []ContributionWeek{}}
}
