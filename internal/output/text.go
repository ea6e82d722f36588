package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/aiarticles"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/github"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/qiita"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/ratelimit"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/snapshot"
)

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// WriteRepositories prints one line per repository
func WriteRepositories(w io.Writer, repos []github.Repository, now time.Time) error {
	if len(repos) == 0 {
		_, err := fmt.Fprintln(w, "No repositories found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLANGUAGE\tSTARS\tFORKS\tUPDATED")
	for _, r := range repos {
		lang := r.Language
		if lang == "" {
			lang = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, lang, humanize.Comma(int64(r.StarCount)), humanize.Comma(int64(r.ForkCount)), ago(r.UpdatedAt, now))
	}
	return tw.Flush()
}

// WriteCalendar prints the contribution total and the busiest day
func WriteCalendar(w io.Writer, cal *github.ContributionCalendar) error {
	days := 0
	var best github.ContributionDay
	for _, week := range cal.Weeks {
		for _, d := range week.Days {
			days++
			if d.ContributionCount > best.ContributionCount {
				best = d
			}
		}
	}

	if _, err := fmt.Fprintf(w, "%s contributions over %d days\n",
		humanize.Comma(int64(cal.TotalContributions)), days); err != nil {
		return err
	}
	if best.ContributionCount > 0 {
		_, err := fmt.Fprintf(w, "Busiest day: %s (%d)\n", best.Date, best.ContributionCount)
		return err
	}
	return nil
}

// WriteArticles prints one line per article
func WriteArticles(w io.Writer, articles []qiita.Article, now time.Time) error {
	if len(articles) == 0 {
		_, err := fmt.Fprintln(w, "No articles found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tLIKES\tTAGS\tCREATED")
	for _, a := range articles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.Title, humanize.Comma(int64(a.LikesCount)), strings.Join(a.Tags, ","), ago(a.CreatedAt, now))
	}
	return tw.Flush()
}

// WriteUser prints a Qiita profile
func WriteUser(w io.Writer, u *qiita.User) error {
	if u == nil {
		_, err := fmt.Fprintln(w, "No Qiita user configured.")
		return err
	}
	name := u.Name
	if name == "" {
		name = u.ID
	}
	_, err := fmt.Fprintf(w, "%s (@%s): %s articles, %s followers\n",
		name, u.ID, humanize.Comma(int64(u.ItemsCount)), humanize.Comma(int64(u.FollowersCount)))
	return err
}

// WriteSnapshot prints the AI-articles snapshot header and top entries
func WriteSnapshot(w io.Writer, snap *snapshot.Snapshot, top int, now time.Time) error {
	if snap.IsZero() {
		_, err := fmt.Fprintln(w, "No AI articles snapshot yet.")
		return err
	}

	fmt.Fprintf(w, "%d articles from %d tags, updated %s\n",
		len(snap.Articles), len(snap.Tags), ago(snap.LastUpdated, now))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, a := range snap.Articles {
		if i >= top {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.Ordinal(i+1), humanize.Comma(int64(a.LikesCount)), a.Title)
	}
	return tw.Flush()
}

// WriteReport prints the per-tag outcome of a refresh run
func WriteReport(w io.Writer, r *aiarticles.Report) error {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, res := range r.Results {
		status := "ok"
		if !res.OK() {
			status = "failed: " + res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", res.Tag, res.Count, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case !r.Replaced:
		_, err := fmt.Fprintln(w, "Every tag failed; previous snapshot kept.")
		return err
	case !r.Persisted:
		_, err := fmt.Fprintf(w, "%d articles cached but NOT persisted.\n", len(r.Snapshot.Articles))
		return err
	default:
		_, err := fmt.Fprintf(w, "%d articles saved.\n", len(r.Snapshot.Articles))
		return err
	}
}

// WriteRateLimit prints the last known rate-limit state of a provider
func WriteRateLimit(w io.Writer, provider string, info *ratelimit.Info, ok bool, now time.Time) error {
	if !ok {
		_, err := fmt.Fprintf(w, "%s rate limit: unknown\n", provider)
		return err
	}
	_, err := fmt.Fprintf(w, "%s rate limit: %s/%s remaining, resets %s\n",
		provider,
		humanize.Comma(int64(info.Remaining)),
		humanize.Comma(int64(info.Limit)),
		ago(info.ResetTime(), now))
	return err
}
