// Package store persists operator settings, such as the last-used
// watchlist path, across restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Get for a key that was never set.
var ErrNotFound = errors.New("store: not found")

// KeyWatchlistPath holds the path of the last watchlist loaded.
const KeyWatchlistPath = "watchlist_path"

// SettingsStore is a string key/value record.
type SettingsStore interface {
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Close releases the backend.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // sqlite (default), json or postgres
	SQLitePath  string
	JSONPath    string
	PostgresURL string
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options, log *slog.Logger) (SettingsStore, error) {
	if log == nil {
		log = slog.Default()
	}
	switch opts.Backend {
	case "", "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case "json":
		return NewJSONStore(opts.JSONPath, log)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresURL)
	}
	return nil, fmt.Errorf("unknown settings backend %q", opts.Backend)
}
