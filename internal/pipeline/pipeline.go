package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/pegasus/internal/charts"
	"github.com/TobiSchelling/pegasus/internal/config"
	"github.com/TobiSchelling/pegasus/internal/database"
	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/extract"
	"github.com/TobiSchelling/pegasus/internal/llm"
	"github.com/TobiSchelling/pegasus/internal/mine"
	"github.com/TobiSchelling/pegasus/internal/report"
	"github.com/TobiSchelling/pegasus/internal/search"
	"github.com/TobiSchelling/pegasus/internal/synthesize"
	"github.com/TobiSchelling/pegasus/internal/vectors"
)

// State is the orchestrator state of a run.
type State string

const (
	StateInit              State = "INIT"
	StateGeneratingVectors State = "GENERATING_VECTORS"
	StateMining            State = "MINING"
	StateSynthesizing      State = "SYNTHESIZING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Report is everything a run produced. Fields are filled in as stages
// complete, so a failed run still carries its partial results.
type Report struct {
	ID              string
	Target          string
	State           State
	Queries         []string
	Summaries       []mine.VectorSummary
	Sections        []synthesize.Section
	Chart           *charts.Data
	Model           string
	FallbackEngaged bool
	Steps           []StepResult
	Err             error
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Markdown is the sections-only report body.
func (r *Report) Markdown() string {
	return report.Markdown(r.Sections)
}

// Document is the report as written to disk.
func (r *Report) Document() string {
	return report.Document(r.Target, r.Sections)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchive stores every finished report in db.
func WithArchive(db *database.DB) Option {
	return func(p *Pipeline) { p.db = db }
}

// Pipeline orchestrates the research stages for one target at a time.
type Pipeline struct {
	cfg       *config.Config
	chatter   llm.Chatter
	searcher  search.Searcher
	extractor extract.Extractor
	db        *database.DB
}

// New creates a new pipeline.
func New(cfg *config.Config, chatter llm.Chatter, s search.Searcher, x extract.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, chatter: chatter, searcher: s, extractor: x}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the full pipeline for target, emitting progress to emit.
// It always emits a final finished event carrying DONE or FAILED. The
// returned error is non-nil only for FAILED runs.
func (p *Pipeline) Run(ctx context.Context, target string, emit events.Emitter) (rep *Report, err error) {
	if emit == nil {
		emit = events.Discard
	}
	rep = &Report{ID: uuid.NewString(), Target: target, State: StateInit, StartedAt: time.Now()}

	session := llm.NewSessionFromConfig(p.chatter,
		p.cfg.LLM.PrimaryModel, p.cfg.LLM.FallbackModel,
		p.cfg.LLM.MaxRetries, p.cfg.LLM.Backoff, emit)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
			log.Error().Interface("panic", rec).Str("target", target).Msg("recovered pipeline panic")
		}
		rep.Model = session.Model()
		rep.FallbackEngaged = session.FallbackEngaged()
		if err != nil {
			rep.Err = err
			rep.setState(StateFailed)
			events.Logf(emit, events.SeverityError, "Agent Error: %v", err)
		}
		rep.FinishedAt = time.Now()
		p.archive(rep, emit)
		emit.Emit(events.Event{Kind: events.KindFinished, State: string(rep.State)})
	}()

	events.Logf(emit, events.SeveritySystem, "AGENT DEPLOYED: %s", target)

	// Step 1: Query vectors
	rep.setState(StateGeneratingVectors)
	queries, err := vectors.NewGenerator(session, emit).Generate(ctx, target, p.cfg.Research.Vectors)
	if err != nil {
		rep.Steps = append(rep.Steps, StepResult{Name: "Vectors", Err: err})
		return rep, err
	}
	rep.Queries = queries
	rep.Steps = append(rep.Steps, StepResult{
		Name:    "Vectors",
		Summary: fmt.Sprintf("Generated %d query vectors", len(queries)),
	})

	// Step 2: Mining
	rep.setState(StateMining)
	miner := mine.NewMiner(session, p.searcher, p.extractor, emit, mine.Options{
		MaxSources:        p.cfg.Research.MaxSourcesPerVector,
		MaxCharsPerSource: p.cfg.Research.MaxCharsPerSource,
		FetchTimeout:      p.cfg.Research.FetchTimeout,
		Concurrency:       p.cfg.Research.Concurrency,
		AnalyticalMaps:    p.cfg.Research.AnalyticalMaps,
	})
	rep.Summaries = miner.MineAll(ctx, queries)
	rep.Steps = append(rep.Steps, StepResult{
		Name:    "Mining",
		Summary: fmt.Sprintf("%d of %d vectors yielded intelligence", len(rep.Summaries), len(queries)),
	})

	// Step 3: Sectional synthesis
	rep.setState(StateSynthesizing)
	aggregated := synthesize.AggregateContext(rep.Summaries, p.cfg.Research.MaxMasterContextChars)
	rep.Sections = synthesize.NewSynthesizer(session, emit).
		Synthesize(ctx, target, sectionDefs(p.cfg.Report.Sections), aggregated)
	failed := 0
	for _, s := range rep.Sections {
		if s.Failed {
			failed++
		}
	}
	rep.Steps = append(rep.Steps, StepResult{
		Name:    "Synthesis",
		Summary: fmt.Sprintf("Wrote %d sections (%d failed)", len(rep.Sections), failed),
	})

	// Step 4: Chart data
	if p.cfg.Research.Charts {
		full := synthesize.AggregateContext(rep.Summaries, 0)
		rep.Chart = charts.NewGenerator(session, emit, p.cfg.Research.MaxChartContextChars).Generate(ctx, full)
		summary := "No chart data"
		if rep.Chart != nil {
			summary = "Chart data ready"
		}
		rep.Steps = append(rep.Steps, StepResult{Name: "Charts", Summary: summary})
	}

	emit.Emit(events.Event{Kind: events.KindProgress, Progress: 100})
	rep.setState(StateDone)
	events.Logf(emit, events.SeveritySuccess, "Terminal has vaulted all intelligence sections.")
	return rep, nil
}

func (r *Report) setState(s State) {
	log.Debug().Str("report", r.ID).Str("from", string(r.State)).Str("to", string(s)).Msg("state transition")
	r.State = s
}

func sectionDefs(sections []config.Section) []synthesize.SectionDef {
	defs := make([]synthesize.SectionDef, len(sections))
	for i, s := range sections {
		defs[i] = synthesize.SectionDef{Title: s.Title, Instruction: s.Instruction}
	}
	return defs
}

// archive stores a finished report. Failures are logged and never
// change the outcome of the run.
func (p *Pipeline) archive(rep *Report, emit events.Emitter) {
	if p.db == nil {
		return
	}

	row := &database.Report{
		ID:       rep.ID,
		Target:   rep.Target,
		Status:   string(rep.State),
		Model:    rep.Model,
		Markdown: rep.Document(),
	}
	if rep.Err != nil {
		msg := rep.Err.Error()
		row.Error = &msg
	}
	if rep.Chart != nil {
		if data, err := json.Marshal(rep.Chart); err == nil {
			s := string(data)
			row.ChartJSON = &s
		}
	}

	sections := make([]database.ReportSection, len(rep.Sections))
	for i, s := range rep.Sections {
		sections[i] = database.ReportSection{Title: s.Title, Content: s.Content, Failed: s.Failed}
	}

	if _, err := p.db.InsertReport(row, sections, vectorRows(rep.Queries, rep.Summaries)); err != nil {
		events.Logf(emit, events.SeverityWarn, "Could not archive report: %v", err)
		return
	}
	log.Info().Str("report", rep.ID).Str("status", row.Status).Msg("report archived")
}

// vectorRows pairs each query with its summary. Summaries are an ordered
// subsequence of queries, so a single forward scan matches them.
func vectorRows(queries []string, summaries []mine.VectorSummary) []database.ReportVector {
	rows := make([]database.ReportVector, len(queries))
	j := 0
	for i, q := range queries {
		rows[i] = database.ReportVector{Query: q}
		if j < len(summaries) && summaries[j].Query == q {
			s := summaries[j].Summary
			rows[i].Summary = &s
			j++
		}
	}
	return rows
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(target string) []StepResult {
	llmCfg := p.cfg.LLM
	research := p.cfg.Research

	fallback := llmCfg.FallbackModel
	if fallback == "" {
		fallback = "none"
	}

	titles := make([]string, len(p.cfg.Report.Sections))
	for i, s := range p.cfg.Report.Sections {
		titles[i] = s.Title
	}

	steps := []StepResult{
		{
			Name: "Vectors",
			Summary: fmt.Sprintf("[dry-run] Would generate %d query vectors for %q with %s (fallback %s)",
				research.Vectors, target, llmCfg.PrimaryModel, fallback),
		},
		{
			Name: "Mining",
			Summary: fmt.Sprintf("[dry-run] Would search %s for up to %d sources per vector, %d chars each",
				p.cfg.Search.Provider, research.MaxSourcesPerVector, research.MaxCharsPerSource),
		},
		{
			Name:    "Synthesis",
			Summary: fmt.Sprintf("[dry-run] Would write %d sections: %s", len(titles), strings.Join(titles, ", ")),
		},
	}
	if research.Charts {
		steps = append(steps, StepResult{Name: "Charts", Summary: "[dry-run] Would generate chart data"})
	}
	if p.db != nil {
		steps = append(steps, StepResult{Name: "Archive", Summary: "[dry-run] Would archive to " + p.db.Path()})
	}
	return steps
}
