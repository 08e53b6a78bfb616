// Package mine turns query vectors into summarized research data.
package mine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/extract"
	"github.com/TobiSchelling/pegasus/internal/llm"
	"github.com/TobiSchelling/pegasus/internal/search"
)

const summarizePrompt = "Summarize verified intelligence for: %s. Focus only on consensus-backed facts.\n%s"

const mindmapPrompt = "You must output ONLY a valid Mermaid mindmap.\n" +
	"Always start with 'mindmap'\n" +
	"Use 2 spaces per indent level\n" +
	"Wrap node text in ( )\n\n"

var mindmapRe = regexp.MustCompile(`(?is)mindmap.*`)

// VectorSummary is the summarized intelligence for one query.
type VectorSummary struct {
	Query   string
	Summary string
}

// Text renders the summary the way it is fed to synthesis.
func (v VectorSummary) Text() string {
	return fmt.Sprintf("RESEARCH DATA FOR %s: %s", v.Query, v.Summary)
}

// Options bounds the work done per vector.
type Options struct {
	MaxSources        int
	MaxCharsPerSource int
	FetchTimeout      time.Duration
	Concurrency       int
	AnalyticalMaps    bool
}

// Miner searches, extracts and summarizes query vectors.
type Miner struct {
	session   *llm.Session
	searcher  search.Searcher
	extractor extract.Extractor
	emit      events.Emitter
	opts      Options

	mu       sync.Mutex
	done     int
	total    int
	progress int
}

// NewMiner creates a miner.
func NewMiner(session *llm.Session, s search.Searcher, x extract.Extractor, emit events.Emitter, opts Options) *Miner {
	if emit == nil {
		emit = events.Discard
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = 3
	}
	if opts.MaxCharsPerSource <= 0 {
		opts.MaxCharsPerSource = 2000
	}
	return &Miner{session: session, searcher: s, extractor: x, emit: emit, opts: opts}
}

// MineAll mines every query and returns the successful summaries in
// query order. Failures are logged and leave no entry.
func (m *Miner) MineAll(ctx context.Context, queries []string) []VectorSummary {
	m.mu.Lock()
	m.done, m.total, m.progress = 0, len(queries), 0
	m.mu.Unlock()

	slots := make([]*VectorSummary, len(queries))

	if m.opts.Concurrency <= 1 {
		for i, q := range queries {
			if vs, ok := m.MineVector(ctx, q); ok {
				slots[i] = &vs
			}
			m.vectorDone()
		}
	} else {
		var (
			g        errgroup.Group
			panicked any
			once     sync.Once
		)
		g.SetLimit(m.opts.Concurrency)
		for i, q := range queries {
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						once.Do(func() { panicked = r })
					}
				}()
				if vs, ok := m.MineVector(ctx, q); ok {
					slots[i] = &vs
				}
				m.vectorDone()
				return nil
			})
		}
		_ = g.Wait()
		// re-raise on the caller's goroutine so the orchestrator can recover it
		if panicked != nil {
			panic(panicked)
		}
	}

	var out []VectorSummary
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// vectorDone advances mining progress over the 0-50 band.
func (m *Miner) vectorDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done++
	p := int(float64(m.done) / float64(m.total) * 50)
	if p < m.progress {
		return
	}
	m.progress = p
	m.emit.Emit(events.Event{Kind: events.KindProgress, Progress: p})
}

// MineVector runs search, extraction and summarization for one query.
// It reports false when no summary was produced.
func (m *Miner) MineVector(ctx context.Context, query string) (VectorSummary, bool) {
	m.emit.Emit(events.Event{Kind: events.KindQueryDiscovered, Query: query})
	events.Logf(m.emit, events.SeverityAIThought, "Mining Vector: %s", query)

	texts := m.collect(ctx, query)
	if len(texts) == 0 {
		events.Logf(m.emit, events.SeverityWarn, "No text extracted for vector: %s", query)
		return VectorSummary{}, false
	}

	summary, err := m.session.Prompt(ctx, BuildSummaryPrompt(query, texts))
	if err != nil {
		events.Logf(m.emit, events.SeverityWarn, "Failed to summarize vector '%s': %v", query, err)
		return VectorSummary{}, false
	}

	m.emit.Emit(events.Event{Kind: events.KindVectorIntelReady, Query: query, Content: summary})
	if m.opts.AnalyticalMaps {
		m.analyticalMap(ctx, query, summary)
	}
	return VectorSummary{Query: query, Summary: summary}, true
}

// collect returns the truncated text of every source that could be read.
func (m *Miner) collect(ctx context.Context, query string) []string {
	results, err := m.search(ctx, query)
	if err != nil {
		events.Logf(m.emit, events.SeverityWarn, "Search failed for '%s': %v", query, err)
		return nil
	}
	if len(results) > m.opts.MaxSources {
		results = results[:m.opts.MaxSources]
	}

	var texts []string
	for _, r := range results {
		m.emit.Emit(events.Event{Kind: events.KindURLDiscovered, Query: query, URL: r.URL})

		text, err := m.extract(ctx, r.URL)
		if err != nil {
			events.Logf(m.emit, events.SeverityWarn, "Extraction failed for %s: %v", r.URL, err)
			continue
		}
		if text == "" {
			continue
		}
		texts = append(texts, Truncate(text, m.opts.MaxCharsPerSource))
	}
	return texts
}

func (m *Miner) extract(ctx context.Context, url string) (string, error) {
	if m.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.FetchTimeout)
		defer cancel()
	}
	return m.extractor.Extract(ctx, url)
}

func (m *Miner) search(ctx context.Context, query string) ([]search.Result, error) {
	if m.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.FetchTimeout)
		defer cancel()
	}
	return m.searcher.Search(ctx, query, m.opts.MaxSources)
}

func (m *Miner) analyticalMap(ctx context.Context, query, summary string) {
	reply, err := m.session.Prompt(ctx, mindmapPrompt+summary)
	if err != nil {
		events.Logf(m.emit, events.SeverityWarn, "Analytical map failed for '%s': %v", query, err)
		return
	}
	diagram, ok := ExtractMindmap(reply)
	if !ok {
		events.Logf(m.emit, events.SeverityWarn, "Analytical map for '%s' is not a Mermaid mindmap", query)
		return
	}
	m.emit.Emit(events.Event{Kind: events.KindAnalyticalMap, Query: query, Content: diagram})
}

// BuildSummaryPrompt renders the per-vector summarization prompt.
func BuildSummaryPrompt(query string, texts []string) string {
	return fmt.Sprintf(summarizePrompt, query, strings.Join(texts, "\n"))
}

// ExtractMindmap returns the Mermaid mindmap in reply, starting at the
// "mindmap" keyword. Diagrams with fewer than two lines are rejected.
func ExtractMindmap(reply string) (string, bool) {
	diagram := strings.TrimSpace(mindmapRe.FindString(llm.StripCodeFence(reply)))
	diagram = strings.TrimSpace(strings.TrimSuffix(diagram, "```"))
	var lines int
	for _, l := range strings.Split(diagram, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	if lines < 2 {
		return "", false
	}
	return diagram, true
}

// Truncate keeps the first n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
