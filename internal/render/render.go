// Package render prints query results and schemas for terminals and pipes.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/soham407/sqlquest/internal/sandbox"
	"github.com/soham407/sqlquest/internal/storage"
)

// Formats lists the supported output formats.
var Formats = []string{"table", "json", "csv", "markdown"}

// Styles colors the status line. The zero value prints plain text.
type Styles struct {
	OK    lipgloss.Style
	Error lipgloss.Style
	Muted lipgloss.Style
}

// Plain returns unstyled output, for pipes and files.
func Plain() Styles {
	s := lipgloss.NewStyle()
	return Styles{OK: s, Error: s, Muted: s}
}

// Colored returns the terminal styles.
func Colored() Styles {
	return Styles{
		OK:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Renderer writes results in one format.
type Renderer struct {
	Format string
	Styles Styles
}

// New returns a renderer for format ("table" if empty).
func New(format string, styles Styles) (*Renderer, error) {
	format = strings.ToLower(format)
	switch format {
	case "":
		format = "table"
	case "md":
		format = "markdown"
	case "table", "json", "csv", "markdown":
	default:
		return nil, fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
	return &Renderer{Format: format, Styles: styles}, nil
}

// Result writes res. Failures and status results become a status line,
// except in JSON where the whole result is encoded.
func (r *Renderer) Result(w io.Writer, res sandbox.QueryResult) error {
	if r.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !res.Success || res.IsStatus() {
		_, err := fmt.Fprintln(w, r.StatusLine(res))
		return err
	}

	t := newTable(w, res.Columns)
	for _, row := range res.Rows {
		t.AppendRow(tableRow(row))
	}
	switch r.Format {
	case "csv":
		t.RenderCSV()
		return nil
	case "markdown":
		t.RenderMarkdown()
	default:
		t.Render()
	}
	_, err := fmt.Fprintln(w, r.StatusLine(res))
	return err
}

// StatusLine summarizes res in one line.
func (r *Renderer) StatusLine(res sandbox.QueryResult) string {
	elapsed := r.Styles.Muted.Render(fmt.Sprintf("(%.3fs)", res.ExecutionTime))
	switch {
	case !res.Success:
		return r.Styles.Error.Render("Error: "+res.Error) + " " + elapsed
	case res.IsStatus():
		return r.Styles.OK.Render(sandbox.StatusMessage) + " " + elapsed
	case res.RowCount == 1:
		return r.Styles.OK.Render("1 row") + " " + elapsed
	}
	return r.Styles.OK.Render(fmt.Sprintf("%d rows", res.RowCount)) + " " + elapsed
}

// Schema writes one line per table followed by its columns.
func (r *Renderer) Schema(w io.Writer, s sandbox.Schema) error {
	if r.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	t := newTable(w, []string{"table", "column", "type", "rows"})
	for _, tbl := range s.Tables {
		for i, c := range tbl.Columns {
			name, rows := "", ""
			if i == 0 {
				name, rows = tbl.Name, fmt.Sprint(tbl.RowCount)
			}
			t.AppendRow(table.Row{name, c.Name, c.Type, rows})
		}
		if r.Format == "table" {
			t.AppendSeparator()
		}
	}
	switch r.Format {
	case "csv":
		t.RenderCSV()
	case "markdown":
		t.RenderMarkdown()
	default:
		t.Render()
	}
	return nil
}

func newTable(w io.Writer, cols []string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	t.SetStyle(style)
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	return t
}

func tableRow(row []storage.Value) table.Row {
	out := make(table.Row, len(row))
	for i, v := range row {
		out[i] = v.String()
	}
	return out
}
