// Package vectors generates the search queries a research run mines.
package vectors

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/llm"
)

const vectorPrompt = `Generate a list of exactly %d distinct market research queries for deep due diligence on: %s.
Return ONLY the list as a JSON array of strings, for example ["query one", "query two"].`

// Generator asks the LLM for query vectors.
type Generator struct {
	session *llm.Session
	emit    events.Emitter
}

// NewGenerator creates a generator.
func NewGenerator(session *llm.Session, emit events.Emitter) *Generator {
	if emit == nil {
		emit = events.Discard
	}
	return &Generator{session: session, emit: emit}
}

// Generate returns the query vectors for target. An unparseable reply
// yields DefaultQueries; only LLM exhaustion is returned as an error.
// The count is not enforced and duplicates are kept.
func (g *Generator) Generate(ctx context.Context, target string, n int) ([]string, error) {
	events.Logf(g.emit, events.SeverityAIThought, "Formulating %d research vectors for %s", n, target)

	reply, err := g.session.Prompt(ctx, BuildPrompt(target, n))
	if err != nil {
		return nil, fmt.Errorf("generating query vectors: %w", err)
	}

	queries, err := ParseQueryList(reply)
	if err != nil {
		events.Logf(g.emit, events.SeverityWarn, "Could not parse query vectors (%v); using default vectors", err)
		return DefaultQueries(target), nil
	}
	return queries, nil
}

// BuildPrompt renders the vector generation prompt.
func BuildPrompt(target string, n int) string {
	return fmt.Sprintf(vectorPrompt, n, target)
}

// DefaultQueries is the deterministic fallback list for target.
func DefaultQueries(target string) []string {
	return []string{
		target + " market analysis",
		target + " competitors",
		target + " industry trends",
		target + " financial performance",
		target + " strategic position",
	}
}
