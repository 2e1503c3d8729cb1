package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"limitwatch/internal/live"
	"limitwatch/internal/store"
	"limitwatch/internal/watchlist"
)

// Feed reports the running engine's subscriptions and counters.
type Feed interface {
	Subscriptions() map[string]string // acknowledged symbol -> id
	SubscribedViews() []string
	Dropped() int
	Latched() int
}

// Server serves the HTTP API.
type Server struct {
	model     *live.Model
	feed      Feed                // nil when not running a feed
	settings  store.SettingsStore // nil disables the settings routes
	threshold time.Time
	log       *slog.Logger
	metrics   http.Handler
	keepAlive time.Duration
}

// NewServer creates a new HTTP API server.
func NewServer(model *live.Model, feed Feed, settings store.SettingsStore, threshold time.Time, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		model:     model,
		feed:      feed,
		settings:  settings,
		threshold: threshold,
		log:       log.With("component", "http"),
		metrics:   promhttp.Handler(),
		keepAlive: 15 * time.Second,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/views", s.handleViews)
	mux.HandleFunc("GET /api/views/{name}", s.handleView)
	mux.HandleFunc("GET /api/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/settings/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/settings/watchlist", s.handlePutWatchlist)
	mux.Handle("GET /metrics", s.metrics)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusJSON{
		Status:    s.model.Status(),
		Views:     len(s.model.Views()),
		Readers:   s.model.Subscribers(),
		Threshold: s.threshold,
	}
	if s.feed != nil {
		resp.Subscriptions = len(s.feed.Subscriptions())
		resp.SubscribedViews = s.feed.SubscribedViews()
		resp.Dropped = s.feed.Dropped()
		resp.Latched = s.feed.Latched()
	}
	writeJSON(w, resp)
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.model.Views())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	v, ok := s.model.View(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown view %q", name))
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	out := []SubscriptionJSON{}
	if s.feed != nil {
		for sym, id := range s.feed.Subscriptions() {
			out = append(out, SubscriptionJSON{Symbol: sym, ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	writeJSON(w, out)
}

// handleEvents streams a snapshot event followed by one change event per
// model change, as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subID, views, status, ch := s.model.Watch(1024)
	defer s.model.Unsubscribe(subID)
	stream := uuid.NewString()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", SnapshotEventJSON{Views: views, Status: status}); err != nil {
		return
	}
	flusher.Flush()
	s.log.Info("event stream opened", "stream", stream, "remote", r.RemoteAddr)
	defer s.log.Info("event stream closed", "stream", stream)

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case c, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, "change", c); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store not configured")
		return
	}
	path, err := s.settings.Get(r.Context(), store.KeyWatchlistPath)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no watchlist path saved")
		return
	}
	if err != nil {
		s.log.Error("reading watchlist setting", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, WatchlistSettingJSON{Path: path})
}

func (s *Server) handlePutWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store not configured")
		return
	}
	var body WatchlistSettingJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, err := watchlist.Open(body.Path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(body.Path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.settings.Set(r.Context(), store.KeyWatchlistPath, body.Path); err != nil {
		s.log.Error("saving watchlist setting", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("watchlist path saved", "path", body.Path)
	writeJSON(w, body)
}
