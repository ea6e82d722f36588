package aiarticles

import (
	"sort"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/snapshot"
)

// Merge drops duplicate ids (the first occurrence wins), orders the rest
// by likes, highest first, and keeps at most limit articles. Ties keep their
// input order.
func Merge(articles []snapshot.Article, limit int) []snapshot.Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]snapshot.Article, 0, len(articles))
	for _, a := range articles {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LikesCount > out[j].LikesCount
	})

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
