// Package render turns section data into HTML fragments and keeps the
// per-workspace page state that the dashboard serves.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"strdash/core"
)

// DefaultEmptyText is shown for a table without rows.
const DefaultEmptyText = "No data"

// Options control how a table is rendered.
type Options struct {
	EmptyText string
	// Highlight marks rows to emphasise.
	Highlight func(row int) bool
	// Formatters override the column naming conventions.
	Formatters map[string]Formatter
	// Labels replace column headers.
	Labels map[string]string
	Class  string
}

type tableView struct {
	Class     string
	Headers   []string
	Rows      []rowView
	EmptyText string
	ColSpan   int
}

type rowView struct {
	Highlight bool
	Cells     []string
}

var tableTemplate = template.Must(template.New("table").Parse(
	`<table class="{{.Class}}"><thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead><tbody>` +
		`{{range .Rows}}<tr{{if .Highlight}} class="highlight"{{end}}>{{range .Cells}}<td>{{.}}</td>{{end}}</tr>` +
		`{{else}}<tr class="empty"><td colspan="{{.ColSpan}}">{{.EmptyText}}</td></tr>{{end}}</tbody></table>`))

var fieldsTemplate = template.Must(template.New("fields").Parse(
	`<dl class="{{.Class}}">{{range .Fields}}<dt>{{.Label}}</dt><dd>{{.Value}}</dd>{{else}}<p class="empty">{{.EmptyText}}</p>{{end}}</dl>`))

// Table renders t as an HTML table. A nil or empty table renders the empty
// text.
func Table(t *core.Table, opts Options) (template.HTML, error) {
	view := tableView{
		Class:     opts.Class,
		EmptyText: opts.EmptyText,
		Rows:      []rowView{},
	}
	if view.Class == "" {
		view.Class = "data-table"
	}
	if view.EmptyText == "" {
		view.EmptyText = DefaultEmptyText
	}

	if t != nil {
		if err := t.Validate(); err != nil {
			return "", fmt.Errorf("failed to render table: %w", err)
		}
		formatters := make([]Formatter, len(t.Columns))
		for i, col := range t.Columns {
			view.Headers = append(view.Headers, label(col, opts.Labels))
			formatters[i] = formatterFor(col, opts.Formatters)
		}
		for i, row := range t.Rows {
			rv := rowView{Cells: make([]string, len(row))}
			if opts.Highlight != nil {
				rv.Highlight = opts.Highlight(i)
			}
			for j, cell := range row {
				rv.Cells[j] = formatters[j](cell)
			}
			view.Rows = append(view.Rows, rv)
		}
	}
	view.ColSpan = len(view.Headers)
	if view.ColSpan == 0 {
		view.ColSpan = 1
	}
	return execute(tableTemplate, view)
}

type field struct {
	Label string
	Value string
}

// Fields renders one row of t as a definition list, one entry per column.
func Fields(t *core.Table, row int, opts Options) (template.HTML, error) {
	view := struct {
		Class     string
		Fields    []field
		EmptyText string
	}{Class: opts.Class, EmptyText: opts.EmptyText}
	if view.Class == "" {
		view.Class = "data-fields"
	}
	if view.EmptyText == "" {
		view.EmptyText = DefaultEmptyText
	}
	if t != nil && row >= 0 && row < len(t.Rows) {
		for i, col := range t.Columns {
			view.Fields = append(view.Fields, field{
				Label: label(col, opts.Labels),
				Value: formatterFor(col, opts.Formatters)(t.Rows[row][i]),
			})
		}
	}
	return execute(fieldsTemplate, view)
}

func label(col string, labels map[string]string) string {
	if l, ok := labels[col]; ok && l != "" {
		return l
	}
	return col
}

func formatterFor(col string, overrides map[string]Formatter) Formatter {
	if f, ok := overrides[col]; ok && f != nil {
		return f
	}
	return FormatterFor(col)
}

func execute(tmpl *template.Template, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", tmpl.Name(), err)
	}
	return template.HTML(buf.String()), nil
}
