// Package feed provides market-data feed clients and the decoder for their
// JSON event envelopes.
package feed

import (
	"context"
	"errors"
	"fmt"

	"limitwatch/internal/domain"
)

// ErrNotConnected is returned when a request is made without a live
// connection.
var ErrNotConnected = errors.New("feed: not connected")

// Handler receives feed callbacks. Calls arrive on goroutines owned by the
// client and must not block.
type Handler interface {
	OnConnect()
	OnMessage(raw []byte)
	OnDisconnect(code int, reason string)
	OnError(err error)
}

// Client is a market-data feed connection.
type Client interface {
	// Name identifies the feed in logs.
	Name() string
	// Connect dials the feed and starts delivering callbacks to h. OnConnect
	// is delivered once the connection is usable.
	Connect(ctx context.Context, h Handler) error
	// Subscribe sends one subscription request.
	Subscribe(ctx context.Context, req domain.SubscribeRequest) error
	// Disconnect closes the connection. Callbacks stop before it returns.
	Disconnect() error
}

// Close codes reported through Handler.OnDisconnect by clients that have no
// server-provided code.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// outbound is the envelope of a client-to-feed message.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type unsubscribeData struct {
	IDs []string `json:"ids"`
}

type authData struct {
	APIKey string `json:"apikey"`
}

func subscribeFrame(req domain.SubscribeRequest) outbound {
	if req.Channel == "" {
		req.Channel = domain.ChannelAggregates
	}
	return outbound{Event: "subscribe", Data: req}
}

func requireSymbols(req domain.SubscribeRequest) error {
	if len(req.Symbols) == 0 {
		return fmt.Errorf("subscribe %s: no symbols", req.Channel)
	}
	return nil
}
