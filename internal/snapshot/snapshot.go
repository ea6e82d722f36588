// Package snapshot persists the aggregated AI-articles snapshot so it
// survives restarts.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// Author is the Qiita user who wrote an article
type Author struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// Article is one entry of the aggregated snapshot
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

// Snapshot is the full result of one batch run. It is always replaced
// as a whole, never patched.
type Snapshot struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Articles    []Article `json:"articles"`
	Tags        []string  `json:"tags"`
}

// Empty returns a snapshot with no articles, used when nothing is stored.
func Empty() *Snapshot {
	return &Snapshot{Articles: []Article{}, Tags: []string{}}
}

// IsZero reports whether the snapshot was never populated by a run.
func (s *Snapshot) IsZero() bool {
	return s == nil || s.LastUpdated.IsZero()
}

// Store is durable storage for the latest snapshot
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}
