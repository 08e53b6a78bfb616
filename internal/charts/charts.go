// Package charts asks the LLM for structured visualization data about a
// research target.
package charts

import (
	"context"
	"errors"
	"fmt"

	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/llm"
	"github.com/TobiSchelling/pegasus/internal/mine"
)

const chartPrompt = `From the following research data, generate visualization data.

Return STRICT JSON ONLY in this exact format:

{
  "market_projection": {
    "years": [2024, 2025, 2026, 2027, 2028, 2029, 2030],
    "values": [500, 505, 512.6, 522.8, 536.9, 553.0, 575.1]
  },
  "regional_split": {"USA": 38, "China": 32, "EU": 18, "Rest of World": 12},
  "swot": {"Strengths": 8, "Weaknesses": 4, "Opportunities": 9, "Threats": 6},
  "pestle": {"Political": 6, "Economic": 8, "Social": 5, "Technological": 9, "Legal": 6, "Environmental": 4},
  "moat": {"Cost Advantage": 7, "Switching Costs": 6, "Network Effects": 5, "IP / Patents": 8, "Brand Power": 6}
}

Rules:
- All scores must be integers from 1 to 10
- Percentages must sum to 100
- Use only the provided research data
- Do NOT include commentary or markdown

RESEARCH DATA:
%s`

// Projection is a market size series.
type Projection struct {
	Years  []int     `json:"years"`
	Values []float64 `json:"values"`
}

// Data is the visualization payload for one report.
type Data struct {
	MarketProjection Projection         `json:"market_projection"`
	RegionalSplit    map[string]float64 `json:"regional_split"`
	SWOT             map[string]float64 `json:"swot"`
	PESTLE           map[string]float64 `json:"pestle"`
	Moat             map[string]float64 `json:"moat"`
}

// Empty reports whether no field carries data.
func (d *Data) Empty() bool {
	return len(d.MarketProjection.Years) == 0 && len(d.RegionalSplit) == 0 &&
		len(d.SWOT) == 0 && len(d.PESTLE) == 0 && len(d.Moat) == 0
}

// Generator produces chart data.
type Generator struct {
	session  *llm.Session
	emit     events.Emitter
	maxChars int
}

// NewGenerator creates a generator that sends at most maxChars of
// research data.
func NewGenerator(session *llm.Session, emit events.Emitter, maxChars int) *Generator {
	if emit == nil {
		emit = events.Discard
	}
	return &Generator{session: session, emit: emit, maxChars: maxChars}
}

// Generate returns chart data, or nil when the model's reply could not
// be used. Failures are logged as warnings and never returned.
func (g *Generator) Generate(ctx context.Context, research string) *Data {
	events.Logf(g.emit, events.SeverityAI, "Generating market visualization data...")

	reply, err := g.session.Prompt(ctx, fmt.Sprintf(chartPrompt, mine.Truncate(research, g.maxChars)))
	if err != nil {
		events.Logf(g.emit, events.SeverityWarn, "Chart generation failed: %v", err)
		return nil
	}

	data, err := Parse(reply)
	if err != nil {
		events.Logf(g.emit, events.SeverityWarn, "Chart generation failed: %v", err)
		return nil
	}
	g.emit.Emit(events.Event{Kind: events.KindChartReady, Chart: data})
	return data
}

// Parse decodes the outermost JSON object in reply.
func Parse(reply string) (*Data, error) {
	var d Data
	if err := llm.DecodeJSONObject(reply, &d); err != nil {
		if errors.Is(err, llm.ErrNoJSON) {
			return nil, errors.New("no valid JSON found in chart response")
		}
		return nil, err
	}
	if d.Empty() {
		return nil, errors.New("chart response has no known fields")
	}
	return &d, nil
}
