// Package dashboard renders the live views as console tables.
package dashboard

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"limitwatch/internal/domain"
)

// Options controls rendering.
type Options struct {
	Threshold time.Time
	Location  *time.Location
	Plain     bool // no ANSI colors; a highlighted cell gets a trailing " *"
}

var highlight = text.Colors{text.BgRed, text.FgWhite}

// Render writes one table per view followed by the status line.
func Render(w io.Writer, views []domain.ViewSnapshot, status domain.Status, opts Options) error {
	for _, v := range views {
		if err := renderView(w, v, opts); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "feed: %s\n", FormatStatus(status, opts.Location))
	return err
}

func renderView(w io.Writer, v domain.ViewSnapshot, opts Options) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.SetTitle(fmt.Sprintf("%s (%s)", v.Name, FormatInt(len(v.Rows))))

	header := make(table.Row, 0, len(domain.Columns)+1)
	header = append(header, "#")
	for _, c := range domain.Columns {
		header = append(header, ColumnTitle(c, opts.Threshold))
	}
	t.AppendHeader(header)

	for i, r := range v.Rows {
		row := make(table.Row, 0, len(domain.Columns)+1)
		row = append(row, i+1)
		for _, c := range domain.Columns {
			cell := r.Cells[c]
			if c == domain.ColumnChangePercent && r.Highlighted {
				if opts.Plain {
					cell += " *"
				} else {
					cell = highlight.Sprint(cell)
				}
			}
			row = append(row, cell)
		}
		t.AppendRow(row)
	}

	align := make([]table.ColumnConfig, 0, 5)
	for _, c := range []domain.Column{domain.ColumnOpen, domain.ColumnHigh, domain.ColumnLow, domain.ColumnLast, domain.ColumnChangePercent} {
		align = append(align, table.ColumnConfig{Name: ColumnTitle(c, opts.Threshold), Align: text.AlignRight})
	}
	t.SetColumnConfigs(align)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
