// Package watchlist loads view definitions: named, ordered lists of symbols
// with display names.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"limitwatch/internal/domain"
)

// ErrUnsupportedFormat is returned by Open for an unknown file extension.
var ErrUnsupportedFormat = errors.New("watchlist: unsupported format")

// Source loads view definitions.
type Source interface {
	Load(ctx context.Context) ([]domain.ViewSpec, error)
}

// Open returns the file source for path, chosen by extension: .csv or .xlsx
// for the grid layout, .yaml or .yml, and .parquet.
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return GridFile(path), nil
	case ".xlsx":
		return XLSXFile(path), nil
	case ".yaml", ".yml":
		return YAMLFile(path), nil
	case ".parquet":
		return ParquetFile(path), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load opens path and returns its views, cleaned.
func Load(ctx context.Context, path string, log *slog.Logger) ([]domain.ViewSpec, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	specs, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading watchlist %s: %w", path, err)
	}
	return Clean(specs, log), nil
}

// NormalizeSymbol trims s and strips a Taiwan exchange suffix.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{".TWO", ".TW"} {
		if len(s) > len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
			return s[:len(s)-len(suffix)]
		}
	}
	return s
}

// Clean normalizes symbols, drops empty entries and repeated symbols within
// a view (keeping the first) and drops unnamed views.
func Clean(specs []domain.ViewSpec, log *slog.Logger) []domain.ViewSpec {
	if log == nil {
		log = slog.Default()
	}
	out := make([]domain.ViewSpec, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			log.Warn("skipping unnamed view", "symbols", len(spec.Entries))
			continue
		}
		seen := make(map[string]struct{}, len(spec.Entries))
		entries := make([]domain.Entry, 0, len(spec.Entries))
		for _, e := range spec.Entries {
			sym := NormalizeSymbol(e.Symbol)
			if sym == "" {
				continue
			}
			if _, dup := seen[sym]; dup {
				log.Warn("duplicate symbol in watchlist", "view", name, "symbol", sym)
				continue
			}
			seen[sym] = struct{}{}
			entries = append(entries, domain.Entry{Symbol: sym, Name: strings.TrimSpace(e.Name)})
		}
		out = append(out, domain.ViewSpec{Name: name, Entries: entries})
	}
	return out
}
