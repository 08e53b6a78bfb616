package report

import (
	"strings"
	"testing"

	"github.com/TobiSchelling/pegasus/internal/synthesize"
)

var sections = []synthesize.Section{
	{Title: "Executive Summary", Content: "Acme leads."},
	{Title: "SWOT Analysis", Content: "*Section generation failed: boom*", Failed: true},
}

func TestMarkdown(t *testing.T) {
	got := Markdown(sections)
	want := "## Executive Summary\n\nAcme leads.\n\n## SWOT Analysis\n\n*Section generation failed: boom*\n\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if Markdown(nil) != "" {
		t.Error("expected empty markdown for no sections")
	}
}

func TestDocument(t *testing.T) {
	doc := Document("Acme Widgets", sections)
	if !strings.HasPrefix(doc, "# Pegasus Intelligence Report: Acme Widgets\n\n## Executive Summary") {
		t.Errorf("unexpected document start: %q", doc[:60])
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("## Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, "<h2>Title</h2>") {
		t.Errorf("expected h2, got %s", html)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("expected GFM table, got %s", html)
	}
}

func TestStandaloneHTMLEscapesTarget(t *testing.T) {
	page, err := StandaloneHTML("<Acme & Co>", Document("<Acme & Co>", sections))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(page, "<title>Pegasus Intelligence Report: &lt;Acme &amp; Co&gt;</title>") {
		t.Error("expected escaped target in title")
	}
	if !strings.Contains(page, "<em>Section generation failed: boom</em>") {
		t.Error("expected rendered failure placeholder")
	}
}
