// Package extract pulls readable text out of web pages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// ErrNoContent is returned when a page has no extractable text.
var ErrNoContent = errors.New("no extractable content")

// Extractor returns the main text of the page at a URL.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// Readability extracts article text with go-readability.
type Readability struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewReadability creates an extractor. A zero timeout means 15s.
func NewReadability(timeout time.Duration, userAgent string) *Readability {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Readability{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  5 << 20,
	}
}

func (r *Readability) Extract(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, r.maxBytes), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", pageURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}
