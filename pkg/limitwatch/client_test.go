package limitwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"limitwatch/internal/domain"
	"limitwatch/internal/httpapi"
	"limitwatch/internal/live"
	"limitwatch/internal/store"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}

	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}

	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestClientAgainstServer(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	settings, err := store.Open(context.Background(), store.Options{Backend: "json", JSONPath: filepath.Join(dir, "settings.json")}, log)
	if err != nil {
		t.Fatal(err)
	}
	defer settings.Close()

	model := live.NewModel()
	defer model.Close()
	model.Reset([]domain.ViewSnapshot{{Name: "Tech AI", Rows: []domain.RowSnapshot{
		{Symbol: "2330", Cells: map[domain.Column]string{domain.ColumnName: "TSMC"}},
	}}})
	srv := httpapi.NewServer(model, nil, settings, time.Time{}, log)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	c := NewClient(ts.URL)

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "disconnected" || st.Views != 1 {
		t.Errorf("status = %+v", st)
	}

	v, err := c.View(ctx, "Tech AI")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Rows) != 1 || v.Rows[0].Cells[domain.ColumnName] != "TSMC" {
		t.Errorf("view = %+v", v)
	}

	_, err = c.View(ctx, "Nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("View(Nope) error = %v, want 404 APIError", err)
	}

	subs, err := c.Subscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("subscriptions = %v, want none", subs)
	}

	path := filepath.Join(dir, "views.yaml")
	if err := os.WriteFile(path, []byte("views: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.SetWatchlistPath(ctx, path); err != nil {
		t.Fatal(err)
	}
	got, err := c.WatchlistPath(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("WatchlistPath = %q, want %q", got, path)
	}
}
