// Package httpapi provides an HTTP REST API for the limit watcher, serving
// the same views as the console plus the operator settings.
package httpapi

import (
	"time"

	"limitwatch/internal/domain"
)

// StatusJSON is the response of GET /api/status.
type StatusJSON struct {
	domain.Status
	Views           int       `json:"views"`
	Subscriptions   int       `json:"subscriptions"`
	SubscribedViews []string  `json:"subscribed_views,omitempty"`
	Dropped         int       `json:"dropped"` // queue overflow discards
	Latched         int       `json:"latched"` // pairs that hit the limit before the threshold
	Readers         int       `json:"readers"`
	Threshold       time.Time `json:"threshold"`
}

// SubscriptionJSON is one acknowledged symbol subscription.
type SubscriptionJSON struct {
	Symbol string `json:"symbol"`
	ID     string `json:"id"`
}

// WatchlistSettingJSON is the body of GET and PUT /api/settings/watchlist.
type WatchlistSettingJSON struct {
	Path string `json:"path"`
}

// SnapshotEventJSON is the first event of the SSE stream.
type SnapshotEventJSON struct {
	Views  []domain.ViewSnapshot `json:"views"`
	Status domain.Status         `json:"status"`
}
