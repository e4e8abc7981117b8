package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// Tabular is implemented by results with a table rendering.
type Tabular interface {
	Table() *Table
}

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table with aligned columns.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			if c == "" {
				c = "-"
			}
			cells[i] = c
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// TableFormatter renders Tables, Tabular values, string maps and slices.
// Anything else is written as JSON.
type TableFormatter struct{}

// Format implements Formatter.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case nil:
		return nil
	case *Table:
		return v.Render(w)
	case Tabular:
		return v.Table().Render(w)
	case map[string]string:
		t := NewTable("KEY", "VALUE")
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.AddRow(k, v[k])
		}
		return t.Render(w)
	case []string:
		for _, s := range v {
			if _, err := fmt.Fprintln(w, s); err != nil {
				return err
			}
		}
		return nil
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	default:
		return (&JSONFormatter{}).Format(w, data)
	}
}
