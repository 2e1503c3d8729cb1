package watchlist

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"limitwatch/internal/domain"
)

// GridFile is a spreadsheet export where the header row names one view per
// pair of columns (code, name), the second row is a sub-header and every
// following row holds one entry per view.
type GridFile string

// Load implements Source.
func (g GridFile) Load(_ context.Context) ([]domain.ViewSpec, error) {
	f, err := os.Open(string(g))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadGrid(f)
}

// ReadGrid parses the grid layout from r.
func ReadGrid(r io.Reader) ([]domain.ViewSpec, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading grid: %w", err)
	}
	return parseGrid(records)
}

// parseGrid builds the views from grid rows, whatever file they came from.
func parseGrid(records [][]string) ([]domain.ViewSpec, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("reading grid: empty file")
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	var names []string
	for _, h := range header {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}

	specs := make([]domain.ViewSpec, len(names))
	for i, name := range names {
		specs[i].Name = name
	}
	if len(records) < 3 {
		return specs, nil
	}
	for _, rec := range records[2:] {
		for i := range specs {
			code, name := cell(rec, 2*i), cell(rec, 2*i+1)
			if code == "" && name == "" {
				continue
			}
			specs[i].Entries = append(specs[i].Entries, domain.Entry{Symbol: code, Name: name})
		}
	}
	return specs, nil
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
