package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/pegasus/internal/config"
)

const ddgPage = `<html><body>
<div class="results">
  <div class="result results_links results_links_deep web-result">
    <h2 class="result__title">
      <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Facme.example%2Fabout&amp;rut=abc">Acme <b>Widgets</b> Inc</a>
    </h2>
    <a class="result__snippet" href="#">Acme makes widgets.</a>
  </div>
  <div class="result results_links web-result">
    <a class="result__a" href="https://news.example/acme">Acme news</a>
  </div>
  <div class="result results_links web-result">
    <a class="result__a" href="https://third.example/">Third</a>
  </div>
  <div class="result results_links web-result">
    <span>no link here</span>
  </div>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.UserAgent()
		fmt.Fprint(w, ddgPage)
	}))
	defer srv.Close()

	d := NewDuckDuckGo("pegasus-test")
	d.endpoint = srv.URL

	results, err := d.Search(context.Background(), "Acme Widgets market analysis", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Acme Widgets market analysis", gotQuery)
	assert.Equal(t, "pegasus-test", gotUA)
	assert.Equal(t, "https://acme.example/about", results[0].URL)
	assert.Equal(t, "Acme Widgets Inc", results[0].Title)
	assert.Equal(t, "Acme makes widgets.", results[0].Snippet)
	assert.Equal(t, "https://news.example/acme", results[1].URL)
}

func TestDuckDuckGoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDuckDuckGo("")
	d.endpoint = srv.URL
	_, err := d.Search(context.Background(), "x", 3)
	assert.ErrorContains(t, err, "429")
}

func TestUnwrapRedirect(t *testing.T) {
	assert.Equal(t, "https://a.example/x?y=1",
		unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fx%3Fy%3D1&rut=z"))
	assert.Equal(t, "https://plain.example/", unwrapRedirect("https://plain.example/"))
}

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Acme raises prices</title><link>https://n.example/1</link><description>&lt;b&gt;Acme&lt;/b&gt; said</description></item>
<item><title></title><link>https://n.example/skip</link></item>
<item><title>Acme expands</title><link>https://n.example/2</link></item>
<item><title>Acme third</title><link>https://n.example/3</link></item>
</channel></rss>`

func TestNewsFeedSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed)
	}))
	defer srv.Close()

	f := NewNewsFeed(srv.URL+"/rss?q=%s", "pegasus-test")
	results, err := f.Search(context.Background(), "Acme Widgets", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Acme Widgets", gotQuery)
	assert.Equal(t, "https://n.example/1", results[0].URL)
	assert.Equal(t, "Acme said", results[0].Snippet)
	assert.Equal(t, "https://n.example/2", results[1].URL)
}

func TestNewsFeedRejectsTemplateWithoutPlaceholder(t *testing.T) {
	f := NewNewsFeed("https://n.example/rss", "")
	_, err := f.Search(context.Background(), "x", 1)
	assert.Error(t, err)
}

func TestNewsAPISearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "3", r.URL.Query().Get("pageSize"))
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"url":"https://a.example/1","title":"One","description":"first"},
			{"url":"https://removed.com","title":"[Removed]"},
			{"url":"","title":"No URL"},
			{"url":"https://a.example/2","title":" Two "}
		]}`)
	}))
	defer srv.Close()

	c := &NewsAPI{endpoint: srv.URL, apiKey: "secret", client: srv.Client()}
	results, err := c.Search(context.Background(), "acme", 3)
	require.NoError(t, err)
	assert.Equal(t, []Result{
		{URL: "https://a.example/1", Title: "One", Snippet: "first"},
		{URL: "https://a.example/2", Title: "Two"},
	}, results)
}

func TestNewsAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","message":"apiKeyInvalid"}`)
	}))
	defer srv.Close()

	c := &NewsAPI{endpoint: srv.URL, apiKey: "bad", client: srv.Client()}
	_, err := c.Search(context.Background(), "acme", 3)
	assert.ErrorContains(t, err, "apiKeyInvalid")
}

type staticSearcher struct {
	results []Result
	err     error
	calls   int
}

func (s *staticSearcher) Search(_ context.Context, _ string, limit int) ([]Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) > limit {
		return s.results[:limit], nil
	}
	return s.results, nil
}

func TestMultiDedupesAndFillsInOrder(t *testing.T) {
	a := &staticSearcher{results: []Result{{URL: "u1", Title: "1"}, {URL: "u2", Title: "2"}}}
	broken := &staticSearcher{err: errors.New("down")}
	b := &staticSearcher{results: []Result{{URL: "u2", Title: "dup"}, {URL: "u3", Title: "3"}, {URL: "u4", Title: "4"}}}

	m := NewMulti(a, broken, b)
	results, err := m.Search(context.Background(), "q", 3)
	require.NoError(t, err)

	var urls []string
	for _, r := range results {
		urls = append(urls, r.URL)
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, urls)
}

func TestMultiStopsWhenFull(t *testing.T) {
	a := &staticSearcher{results: []Result{{URL: "u1"}, {URL: "u2"}}}
	b := &staticSearcher{results: []Result{{URL: "u3"}}}

	_, err := NewMulti(a, b).Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, b.calls)
}

func TestMultiAllFailed(t *testing.T) {
	m := NewMulti(&staticSearcher{err: errors.New("a down")}, &staticSearcher{err: errors.New("b down")})
	_, err := m.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "a down") && strings.Contains(err.Error(), "b down"))
}

func TestNewFromConfig(t *testing.T) {
	s, err := New(config.Search{Provider: "duckduckgo"})
	require.NoError(t, err)
	assert.IsType(t, &DuckDuckGo{}, s)

	s, err = New(config.Search{Provider: "multi", Providers: []string{"duckduckgo", "newsfeed"}, FeedURL: "https://n.example/?q=%s"})
	require.NoError(t, err)
	assert.IsType(t, &Multi{}, s)

	t.Setenv("PEGASUS_TEST_NEWSAPI", "")
	_, err = New(config.Search{Provider: "newsapi", NewsAPI: config.NewsAPIConfig{APIKeyEnv: "PEGASUS_TEST_NEWSAPI"}})
	assert.Error(t, err)

	_, err = New(config.Search{Provider: "bing"})
	assert.Error(t, err)

	_, err = New(config.Search{Provider: "multi"})
	assert.Error(t, err)
}
