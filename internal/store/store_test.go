package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"limitwatch/internal/util"
)

// exercise runs the behaviour every backend shares.
func exercise(t *testing.T, s SettingsStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, KeyWatchlistPath); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, KeyWatchlistPath, "/data/a.csv"); err != nil {
		t.Fatalf("Set error = %v", err)
	}
	if err := s.Set(ctx, KeyWatchlistPath, "/data/b.yaml"); err != nil {
		t.Fatalf("second Set error = %v", err)
	}
	got, err := s.Get(ctx, KeyWatchlistPath)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got != "/data/b.yaml" {
		t.Errorf("Get = %q, want %q", got, "/data/b.yaml")
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// The value survives a reopen.
	s, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if got, _ := s.Get(ctx, KeyWatchlistPath); got != "/data/b.yaml" {
		t.Errorf("Get after reopen = %q, want %q", got, "/data/b.yaml")
	}
}

func TestJSONStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewJSONStore(path, util.Discard())
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, s)

	s2, err := NewJSONStore(path, util.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := s2.Get(context.Background(), KeyWatchlistPath); got != "/data/b.yaml" {
		t.Errorf("Get after reload = %q, want %q", got, "/data/b.yaml")
	}
}

func TestJSONStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONStore(path, util.Discard()); err == nil {
		t.Error("NewJSONStore error = nil for corrupt file")
	}
}

func TestJSONStoreSetFailureKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "settings.json")
	s, err := NewJSONStore(path, util.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, KeyWatchlistPath, "x"); err == nil {
		t.Fatal("Set error = nil writing into a missing directory")
	}
	if _, err := s.Get(ctx, KeyWatchlistPath); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after failed Set error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("LIMITWATCH_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LIMITWATCH_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `DELETE FROM limitwatch_settings WHERE key = $1`, KeyWatchlistPath); err != nil {
		t.Fatal(err)
	}
	exercise(t, s)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default is sqlite", Options{SQLitePath: filepath.Join(dir, "a.db")}, false},
		{"json", Options{Backend: "json", JSONPath: filepath.Join(dir, "a.json")}, false},
		{"unknown", Options{Backend: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.opts, util.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}
