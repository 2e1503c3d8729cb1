package watchlist

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"limitwatch/internal/domain"
)

type watchlistAPI interface {
	GetWatchlists() ([]alpaca.Watchlist, error)
	GetWatchlist(watchlistID string) (*alpaca.Watchlist, error)
}

// AlpacaSource loads the account's Alpaca watchlists, one view each.
type AlpacaSource struct {
	api   watchlistAPI
	names map[string]bool // empty means every watchlist
}

// NewAlpacaSource creates a source using the trading API. When names is
// non-empty only those watchlists are loaded.
func NewAlpacaSource(apiKey, apiSecret, baseURL string, names []string) *AlpacaSource {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaSource(client, names)
}

func newAlpacaSource(api watchlistAPI, names []string) *AlpacaSource {
	s := &AlpacaSource{api: api, names: make(map[string]bool, len(names))}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

// Load implements Source.
func (s *AlpacaSource) Load(ctx context.Context) ([]domain.ViewSpec, error) {
	lists, err := s.api.GetWatchlists()
	if err != nil {
		return nil, fmt.Errorf("GetWatchlists: %w", err)
	}
	var specs []domain.ViewSpec
	for _, wl := range lists {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.names) > 0 && !s.names[wl.Name] {
			continue
		}
		// The list endpoint omits assets.
		full, err := s.api.GetWatchlist(wl.ID)
		if err != nil {
			return nil, fmt.Errorf("GetWatchlist %s: %w", wl.Name, err)
		}
		spec := domain.ViewSpec{Name: wl.Name}
		for _, a := range full.Assets {
			spec.Entries = append(spec.Entries, domain.Entry{Symbol: a.Symbol, Name: a.Name})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
