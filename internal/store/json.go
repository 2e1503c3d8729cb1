package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/creachadair/atomicfile"
)

var _ SettingsStore = (*JSONStore)(nil)

// JSONStore keeps settings in memory and rewrites a JSON file on every Set.
type JSONStore struct {
	mu       sync.RWMutex
	values   map[string]string
	filePath string
	log      *slog.Logger
}

// NewJSONStore creates a JSONStore, loading persisted state from filePath.
// A missing file starts empty.
func NewJSONStore(filePath string, log *slog.Logger) (*JSONStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &JSONStore{values: make(map[string]string), filePath: filePath, log: log}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements SettingsStore.
func (s *JSONStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements SettingsStore.
func (s *JSONStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Close implements SettingsStore.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("parsing settings %s: %w", s.filePath, err)
	}
	s.log.Info("loaded settings", "path", s.filePath, "keys", len(s.values))
	return nil
}

// flush replaces the file atomically. Must be called with mu held.
func (s *JSONStore) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}
	if _, err := atomicfile.WriteAll(s.filePath, bytes.NewReader(data), 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}
