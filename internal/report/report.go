// Package report composes the final research document.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/pegasus/internal/synthesize"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown concatenates sections in order as "## title" blocks.
func Markdown(sections []synthesize.Section) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, s.Content)
	}
	return b.String()
}

// Document is the on-disk report: a title line followed by the sections.
func Document(target string, sections []synthesize.Section) string {
	return Header(target) + Markdown(sections)
}

// Header is the document title line.
func Header(target string) string {
	return fmt.Sprintf("# Pegasus Intelligence Report: %s\n\n", target)
}

// RenderHTML converts Markdown to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Pegasus Intelligence Report: %s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1f2328; }
h1 { border-bottom: 2px solid #ffaa00; padding-bottom: .3rem; }
h2 { margin-top: 2.5rem; border-bottom: 1px solid #d0d7de; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d0d7de; padding: .3rem .6rem; }
</style>
</head>
<body>
%s
</body>
</html>
`

// StandaloneHTML renders markdown as a self-contained HTML page.
func StandaloneHTML(target, markdown string) (string, error) {
	body, err := RenderHTML(markdown)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(pageTemplate, template.HTMLEscapeString(target), body), nil
}
