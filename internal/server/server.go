package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/pegasus/internal/charts"
	"github.com/TobiSchelling/pegasus/internal/database"
	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/pipeline"
	"github.com/TobiSchelling/pegasus/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Researcher starts background research runs.
type Researcher interface {
	Start(ctx context.Context, target string, observers ...events.Emitter) *pipeline.Run
}

// Server is the HTTP server for browsing reports and running research.
type Server struct {
	db         *database.DB
	researcher Researcher
	pages      map[string]*template.Template
	mux        *http.ServeMux

	// set while a research run is in flight; one at a time
	running atomic.Bool
}

// New creates a new Server. researcher may be nil, in which case live
// research is disabled.
func New(db *database.DB, researcher Researcher) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatTime": database.FormatCreatedAt,
		"shortID":    database.ShortID,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		// chart scores are on a 1-10 scale
		"percent": func(v float64) float64 { return v * 10 },
		"dict": func(kv ...any) map[string]any {
			m := make(map[string]any, len(kv)/2)
			for i := 0; i+1 < len(kv); i += 2 {
				if k, ok := kv[i].(string); ok {
					m[k] = kv[i+1]
				}
			}
			return m
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "report.html", "research.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, researcher: researcher, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /report/{id}", s.handleReport)
	s.mux.HandleFunc("POST /report/{id}/delete", s.handleDeleteReport)
	s.mux.HandleFunc("GET /research", s.handleResearchPage)
	s.mux.HandleFunc("GET /api/research", s.handleResearchStream)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	reports, err := s.db.GetAllReports()
	if err != nil {
		log.Error().Err(err).Msg("listing reports")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Reports":      reports,
		"LiveResearch": s.researcher != nil,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if raw, ok := strings.CutSuffix(id, ".md"); ok {
		s.handleReportMarkdown(w, raw)
		return
	}

	rep, err := s.db.GetReport(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if rep == nil {
		http.NotFound(w, r)
		return
	}

	sections, _ := s.db.GetReportSections(id)
	vectors, _ := s.db.GetReportVectors(id)

	var chart *charts.Data
	if rep.ChartJSON != nil {
		var d charts.Data
		if err := json.Unmarshal([]byte(*rep.ChartJSON), &d); err == nil {
			chart = &d
		}
	}

	s.render(w, "report.html", map[string]any{
		"Report":   rep,
		"Sections": sections,
		"Vectors":  vectors,
		"Chart":    chartView(chart),
	})
}

func (s *Server) handleReportMarkdown(w http.ResponseWriter, id string) {
	rep, err := s.db.GetReport(id)
	if err != nil || rep == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "Pegasus_"+database.ShortID(id)+".md"))
	fmt.Fprint(w, rep.Markdown)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.DeleteReport(r.PathValue("id")); err != nil {
		log.Error().Err(err).Str("report", r.PathValue("id")).Msg("deleting report")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleResearchPage(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if target == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, "research.html", map[string]any{
		"Target":       target,
		"LiveResearch": s.researcher != nil,
	})
}

// handleResearchStream runs the pipeline and relays its events as
// Server-Sent Events. A run outlives its client: when the connection
// drops the remaining events are drained so the worker can finish and
// archive its report.
func (s *Server) handleResearchStream(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if target == "" {
		http.Error(w, "target is required", http.StatusBadRequest)
		return
	}
	if s.researcher == nil {
		http.Error(w, "live research is not configured", http.StatusServiceUnavailable)
		return
	}
	if !sameOrigin(r) {
		log.Warn().Str("origin", r.Header.Get("Origin")).Msg("rejected cross-origin research request")
		http.Error(w, "cross-origin research requests are not allowed", http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		http.Error(w, "a research run is already in progress", http.StatusConflict)
		return
	}
	defer s.running.Store(false)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().Str("target", target).Msg("research run started from web")
	run := s.researcher.Start(context.WithoutCancel(r.Context()), target)

	connected := true
	for e := range run.Events() {
		if !connected {
			continue
		}
		if r.Context().Err() != nil {
			log.Warn().Str("target", target).Msg("client disconnected; research continues in background")
			connected = false
			continue
		}
		if err := writeEvent(w, e); err != nil {
			connected = false
			continue
		}
		flusher.Flush()
	}
	run.Wait()
}

// sameOrigin rejects requests a browser marks as coming from another
// site. Requests without browser metadata, such as curl, pass.
func sameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func writeEvent(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
	return err
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Error().Str("template", name).Msg("template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("rendering template")
	}
}

func renderMarkdown(text string) template.HTML {
	html, err := report.RenderHTML(text)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(html) //nolint: gosec
}

// scoreRow is one labelled value in a chart table.
type scoreRow struct {
	Label string
	Value float64
}

type chartData struct {
	Years    []int
	Values   []float64
	Regional []scoreRow
	SWOT     []scoreRow
	PESTLE   []scoreRow
	Moat     []scoreRow
}

func chartView(d *charts.Data) *chartData {
	if d == nil {
		return nil
	}
	return &chartData{
		Years:    d.MarketProjection.Years,
		Values:   d.MarketProjection.Values,
		Regional: sortedRows(d.RegionalSplit),
		SWOT:     sortedRows(d.SWOT),
		PESTLE:   sortedRows(d.PESTLE),
		Moat:     sortedRows(d.Moat),
	}
}

func sortedRows(m map[string]float64) []scoreRow {
	rows := make([]scoreRow, 0, len(m))
	for k, v := range m {
		rows = append(rows, scoreRow{Label: k, Value: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].Label < rows[j].Label
	})
	return rows
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, researcher Researcher, port int) error {
	srv, err := New(db, researcher)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Info().Msgf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
