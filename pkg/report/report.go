// Package report renders a scan result as JSON, HTML or PDF.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatHTML, FormatPDF:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported report format %q (json, html, pdf)", s)
}

// FormatFromPath guesses the format from a file extension. It returns
// false for unknown extensions.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".html", ".htm":
		return FormatHTML, true
	case ".pdf":
		return FormatPDF, true
	}
	return "", false
}

// Renderer writes one complete report for r.
type Renderer interface {
	Render(w io.Writer, r *types.ScanResult) error
}

func For(f Format) (Renderer, error) {
	switch f {
	case FormatJSON:
		return JSON{Indent: "  "}, nil
	case FormatHTML:
		return HTML{}, nil
	case FormatPDF:
		return PDF{Compress: true}, nil
	}
	return nil, fmt.Errorf("unsupported report format %q", f)
}

// WriteFile renders r into path, creating or truncating it.
func WriteFile(path string, f Format, r *types.ScanResult) error {
	renderer, err := For(f)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := renderer.Render(w, r); err != nil {
		file.Close()
		return fmt.Errorf("failed to render %s report: %w", f, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return file.Close()
}

// severities in report order.
var severities = []types.Severity{
	types.SeverityCritical,
	types.SeverityHigh,
	types.SeverityMedium,
	types.SeverityLow,
	types.SeverityInfo,
}

type techRow struct {
	Field  string
	Values string
}

func techRows(p *types.TechProfile) []techRow {
	if p == nil {
		return nil
	}
	fields := []struct {
		label string
		field types.TechField
	}{
		{"Web server", types.FieldWebServer},
		{"CMS", types.FieldCMS},
		{"Frameworks", types.FieldFramework},
		{"Languages", types.FieldLanguage},
		{"JavaScript libraries", types.FieldJSLibrary},
		{"Databases", types.FieldDatabase},
		{"API technologies", types.FieldAPI},
		{"Cloud services", types.FieldCloud},
	}
	var rows []techRow
	for _, f := range fields {
		if vs := p.Values(f.field); len(vs) > 0 {
			rows = append(rows, techRow{Field: f.label, Values: strings.Join(vs, ", ")})
		}
	}
	return rows
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
