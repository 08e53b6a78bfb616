package synthesize

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/llm"
	"github.com/TobiSchelling/pegasus/internal/mine"
)

const sectionPrompt = `You are the Pegasus Lead Partner. Using ONLY the following research data, write the '%s' section of a report for %s. %s Be professional, use Markdown headers, and do not truncate. Provide the full text for this section.

RESEARCH DATA:
%s`

// SectionDef is a configured report section.
type SectionDef struct {
	Title       string
	Instruction string
}

// Section is a generated report section. Failed sections carry a
// placeholder as their content.
type Section struct {
	Title   string
	Content string
	Failed  bool
}

// Synthesizer writes report sections from aggregated research data.
type Synthesizer struct {
	session *llm.Session
	emit    events.Emitter
}

// NewSynthesizer creates a new sectional synthesizer.
func NewSynthesizer(session *llm.Session, emit events.Emitter) *Synthesizer {
	if emit == nil {
		emit = events.Discard
	}
	return &Synthesizer{session: session, emit: emit}
}

// AggregateContext joins the vector summaries and caps the result at limit
// characters. A non-positive limit means no cap.
func AggregateContext(summaries []mine.VectorSummary, limit int) string {
	parts := make([]string, len(summaries))
	for i, s := range summaries {
		parts[i] = s.Text()
	}
	return mine.Truncate(strings.Join(parts, "\n\n"), limit)
}

// BuildPrompt renders the prompt for one section.
func BuildPrompt(target string, def SectionDef, aggregated string) string {
	return fmt.Sprintf(sectionPrompt, def.Title, target, def.Instruction, aggregated)
}

// Synthesize generates every section in order. A section whose LLM call
// fails gets a placeholder, so the result always has len(defs) entries.
func (s *Synthesizer) Synthesize(ctx context.Context, target string, defs []SectionDef, aggregated string) []Section {
	events.Logf(s.emit, events.SeveritySystem, "Executing Sectional Master Synthesis...")

	sections := make([]Section, 0, len(defs))
	failed := 0
	for i, def := range defs {
		events.Logf(s.emit, events.SeverityAI, "Streaming Master Section: %s", def.Title)

		content, err := s.session.Prompt(ctx, BuildPrompt(target, def, aggregated))
		sec := Section{Title: def.Title, Content: content}
		if err != nil {
			events.Logf(s.emit, events.SeverityError, "Failed to generate section '%s': %v", def.Title, err)
			sec.Content = fmt.Sprintf("*Section generation failed: %v*", err)
			sec.Failed = true
			failed++
		}
		sections = append(sections, sec)
		s.emit.Emit(events.Event{Kind: events.KindSectionReady, Title: sec.Title, Content: sec.Content})
		s.emit.Emit(events.Event{Kind: events.KindProgress, Progress: 50 + int(float64(i+1)/float64(len(defs))*50)})
	}

	log.Info().Int("sections", len(sections)).Int("failed", failed).Msg("Synthesis complete")
	return sections
}
