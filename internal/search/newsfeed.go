package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
)

// NewsFeed searches a news RSS endpoint whose URL template takes the
// escaped query in place of %s (Google News RSS by default).
type NewsFeed struct {
	template string
	parser   *gofeed.Parser
}

// NewNewsFeed creates a feed searcher.
func NewNewsFeed(template, userAgent string) *NewsFeed {
	p := gofeed.NewParser()
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	return &NewsFeed{template: template, parser: p}
}

func (f *NewsFeed) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if !strings.Contains(f.template, "%s") {
		return nil, fmt.Errorf("feed url template %q has no %%s placeholder", f.template)
	}
	feedURL := fmt.Sprintf(f.template, url.QueryEscape(query))

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("news feed: %w", err)
	}

	var results []Result
	for _, item := range feed.Items {
		if len(results) >= limit {
			break
		}
		link := item.Link
		if link == "" {
			link = item.GUID
		}
		title := strings.TrimSpace(item.Title)
		if link == "" || title == "" {
			continue
		}
		results = append(results, Result{
			URL:     link,
			Title:   title,
			Snippet: stripTags(item.Description),
		})
	}
	log.Debug().Int("results", len(results)).Str("query", query).Msg("news feed search")
	return results, nil
}

// stripTags flattens the small HTML fragments feeds put in descriptions.
func stripTags(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&quot;", `"`, "&#39;", "'").Replace(b.String())
	return strings.Join(strings.Fields(out), " ")
}
