package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const newsAPIEndpoint = "https://newsapi.org/v2/everything"

// NewsAPI searches newsapi.org. It needs an API key.
type NewsAPI struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewNewsAPI reads the API key from apiKeyEnv.
func NewNewsAPI(apiKeyEnv string) *NewsAPI {
	return &NewsAPI{
		endpoint: newsAPIEndpoint,
		apiKey:   os.Getenv(apiKeyEnv),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPI) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *NewsAPI) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("newsapi: no API key")
	}
	pageSize := min(max(limit, 1), 100)

	params := url.Values{
		"q":        {query},
		"language": {"en"},
		"pageSize": {strconv.Itoa(pageSize)},
		"sortBy":   {"relevancy"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("newsapi decode: %w", err)
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %s: %s", body.Status, body.Message)
	}

	var results []Result
	for _, a := range body.Articles {
		if len(results) >= limit {
			break
		}
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		results = append(results, Result{
			URL:     a.URL,
			Title:   strings.TrimSpace(a.Title),
			Snippet: strings.TrimSpace(a.Description),
		})
	}
	log.Debug().Int("results", len(results)).Str("query", query).Msg("newsapi search")
	return results, nil
}
