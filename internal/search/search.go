// Package search finds candidate source URLs for a research query.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/pegasus/internal/config"
)

// Result is one search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher returns at most limit results for a query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// New builds the searcher named by cfg.Provider.
func New(cfg config.Search) (Searcher, error) {
	if strings.EqualFold(cfg.Provider, "multi") {
		var backends []Searcher
		for _, name := range cfg.Providers {
			if strings.EqualFold(name, "multi") {
				return nil, errors.New("search provider multi cannot include itself")
			}
			s, err := newBackend(name, cfg)
			if err != nil {
				return nil, err
			}
			backends = append(backends, s)
		}
		if len(backends) == 0 {
			return nil, errors.New("search provider multi needs at least one entry in providers")
		}
		return NewMulti(backends...), nil
	}
	return newBackend(cfg.Provider, cfg)
}

func newBackend(name string, cfg config.Search) (Searcher, error) {
	switch strings.ToLower(name) {
	case "", "duckduckgo":
		return NewDuckDuckGo(cfg.UserAgent), nil
	case "newsfeed":
		return NewNewsFeed(cfg.FeedURL, cfg.UserAgent), nil
	case "newsapi":
		c := NewNewsAPI(cfg.NewsAPI.APIKeyEnv)
		if !c.IsConfigured() {
			return nil, fmt.Errorf("newsapi search needs %s to be set", cfg.NewsAPI.APIKeyEnv)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
}

// Multi queries backends in order until limit unique URLs are found.
// A failing backend is logged and skipped; an error is returned only
// when every backend failed.
type Multi struct {
	backends []Searcher
}

// NewMulti combines backends.
func NewMulti(backends ...Searcher) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	seen := make(map[string]struct{})
	var (
		out  []Result
		errs []error
	)
	for _, b := range m.backends {
		if len(out) >= limit {
			break
		}
		results, err := b.Search(ctx, query, limit)
		if err != nil {
			log.Debug().Err(err).Str("query", query).Msg("search backend failed")
			errs = append(errs, err)
			continue
		}
		for _, r := range results {
			if len(out) >= limit {
				break
			}
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}
			out = append(out, r)
		}
	}
	if len(out) == 0 && len(errs) == len(m.backends) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
