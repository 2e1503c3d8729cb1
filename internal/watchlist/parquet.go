package watchlist

import (
	"context"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"limitwatch/internal/domain"
)

// Record is the Parquet schema of a watchlist: one row per view entry, in
// display order.
type Record struct {
	View   string `parquet:"view"`
	Symbol string `parquet:"symbol"`
	Name   string `parquet:"name"`
}

// ParquetFile is a watchlist stored as Record rows.
type ParquetFile string

// Load implements Source. Views appear in the order of their first row.
func (p ParquetFile) Load(_ context.Context) ([]domain.ViewSpec, error) {
	rows, err := parquet.ReadFile[Record](string(p))
	if err != nil {
		return nil, err
	}
	var specs []domain.ViewSpec
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.View]
		if !ok {
			i = len(specs)
			index[r.View] = i
			specs = append(specs, domain.ViewSpec{Name: r.View})
		}
		specs[i].Entries = append(specs[i].Entries, domain.Entry{Symbol: r.Symbol, Name: r.Name})
	}
	return specs, nil
}

// WriteParquet stores specs at path as Record rows.
func WriteParquet(path string, specs []domain.ViewSpec) error {
	var rows []Record
	for _, s := range specs {
		for _, e := range s.Entries {
			rows = append(rows, Record{View: s.Name, Symbol: e.Symbol, Name: e.Name})
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return parquet.WriteFile(path, rows)
}
