package qiita

import "time"

// Article is a Qiita item as served to callers
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	LikesCount  int       `json:"likesCount"`
	StocksCount int       `json:"stocksCount"`
	Tags        []string  `json:"tags"`
	Author      Author    `json:"author"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Author is the short user record embedded in an article
type Author struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// User is a Qiita user profile
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profileImageUrl"`
	WebsiteURL      string `json:"websiteUrl,omitempty"`
	GitHubLogin     string `json:"githubLoginName,omitempty"`
	FollowersCount  int    `json:"followersCount"`
	FolloweesCount  int    `json:"followeesCount"`
	ItemsCount      int    `json:"itemsCount"`
}

// Wire shapes of the Qiita v2 API.

type apiTag struct {
	Name string `json:"name"`
}

type apiUser struct {
	ID              string  `json:"id"`
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	ProfileImageURL string  `json:"profile_image_url"`
	WebsiteURL      *string `json:"website_url"`
	GitHubLoginName *string `json:"github_login_name"`
	FollowersCount  int     `json:"followers_count"`
	FolloweesCount  int     `json:"followees_count"`
	ItemsCount      int     `json:"items_count"`
}

type apiItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	LikesCount  int       `json:"likes_count"`
	StocksCount int       `json:"stocks_count"`
	Tags        []apiTag  `json:"tags"`
	User        apiUser   `json:"user"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (it apiItem) article() Article {
	tags := make([]string, 0, len(it.Tags))
	for _, t := range it.Tags {
		tags = append(tags, t.Name)
	}
	return Article{
		ID:          it.ID,
		Title:       it.Title,
		URL:         it.URL,
		LikesCount:  it.LikesCount,
		StocksCount: it.StocksCount,
		Tags:        tags,
		Author: Author{
			ID:              it.User.ID,
			Name:            deref(it.User.Name),
			ProfileImageURL: it.User.ProfileImageURL,
		},
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

func articles(items []apiItem) []Article {
	out := make([]Article, 0, len(items))
	for _, it := range items {
		out = append(out, it.article())
	}
	return out
}

func (u apiUser) user() *User {
	return &User{
		ID:              u.ID,
		Name:            deref(u.Name),
		Description:     deref(u.Description),
		ProfileImageURL: u.ProfileImageURL,
		WebsiteURL:      deref(u.WebsiteURL),
		GitHubLogin:     deref(u.GitHubLoginName),
		FollowersCount:  u.FollowersCount,
		FolloweesCount:  u.FolloweesCount,
		ItemsCount:      u.ItemsCount,
	}
}
