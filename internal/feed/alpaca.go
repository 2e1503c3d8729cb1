package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"limitwatch/internal/domain"
	"limitwatch/internal/value"
)

// AlpacaOptions configures an AlpacaClient.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string // REST base URL, SDK default when empty
	StreamURL string // stream base URL, SDK default when empty
	Feed      string // iex or sip
	Market    string // value of the market field, "US" when empty
}

type snapshotAPI interface {
	GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error)
}

type stocksStream interface {
	Connect(ctx context.Context) error
	Terminated() <-chan error
	SubscribeToDailyBars(handler func(stream.Bar), symbols ...string) error
	SubscribeToLULDs(handler func(stream.LULD), symbols ...string) error
}

// AlpacaClient adapts Alpaca market data to the feed's event envelopes:
// REST snapshots become snapshot events, streamed daily bars become data
// events and LULD bands drive isLimitUpPrice.
type AlpacaClient struct {
	rest      snapshotAPI
	newStream func() stocksStream
	feed      marketdata.Feed
	market    string
	now       func() time.Time
	log       *slog.Logger

	mu        sync.Mutex
	h         Handler
	stream    stocksStream
	cancel    context.CancelFunc
	closing   bool
	prevClose map[string]float64
	limitUp   map[string]float64
	wg        sync.WaitGroup
}

var _ Client = (*AlpacaClient)(nil)

// NewAlpacaClient creates an AlpacaClient from credentials and endpoints.
func NewAlpacaClient(opts AlpacaOptions, logger *slog.Logger) *AlpacaClient {
	restOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		restOpts.BaseURL = opts.DataURL
	}
	feed := marketdata.Feed(opts.Feed)

	newStream := func() stocksStream {
		streamOpts := []stream.StockOption{stream.WithCredentials(opts.APIKey, opts.APISecret)}
		if opts.StreamURL != "" {
			streamOpts = append(streamOpts, stream.WithBaseURL(opts.StreamURL))
		}
		return stream.NewStocksClient(feed, streamOpts...)
	}
	return newAlpacaClient(marketdata.NewClient(restOpts), newStream, feed, opts.Market, logger)
}

func newAlpacaClient(rest snapshotAPI, newStream func() stocksStream, feed marketdata.Feed, market string, logger *slog.Logger) *AlpacaClient {
	if market == "" {
		market = "US"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlpacaClient{
		rest:      rest,
		newStream: newStream,
		feed:      feed,
		market:    market,
		now:       time.Now,
		log:       logger.With("feed", "alpaca"),
		prevClose: make(map[string]float64),
		limitUp:   make(map[string]float64),
	}
}

// Name implements Client.
func (c *AlpacaClient) Name() string { return "alpaca" }

// Connect implements Client.
func (c *AlpacaClient) Connect(ctx context.Context, h Handler) error {
	sctx, cancel := context.WithCancel(ctx)
	sc := c.newStream()
	if err := sc.Connect(sctx); err != nil {
		cancel()
		return fmt.Errorf("connecting to alpaca stream: %w", err)
	}

	c.mu.Lock()
	c.h = h
	c.stream = sc
	c.cancel = cancel
	c.closing = false
	c.mu.Unlock()

	h.OnConnect()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := <-sc.Terminated()
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		switch {
		case closing:
			h.OnDisconnect(CloseNormal, "client disconnect")
		case err != nil:
			h.OnError(err)
		default:
			h.OnDisconnect(CloseAbnormal, "stream terminated")
		}
	}()
	return nil
}

// Subscribe implements Client. It acknowledges the symbols, emits one
// snapshot per symbol from the REST API, then subscribes to daily bar
// updates and LULD bands on the stream.
func (c *AlpacaClient) Subscribe(_ context.Context, req domain.SubscribeRequest) error {
	if err := requireSymbols(req); err != nil {
		return err
	}
	c.mu.Lock()
	h, sc := c.h, c.stream
	c.mu.Unlock()
	if sc == nil {
		return ErrNotConnected
	}

	snaps, err := c.rest.GetSnapshots(req.Symbols, marketdata.GetSnapshotRequest{Feed: c.feed})
	if err != nil {
		return fmt.Errorf("fetching snapshots: %w", err)
	}

	recs := make([]domain.SubscriptionRecord, len(req.Symbols))
	for i, s := range req.Symbols {
		recs[i] = domain.SubscriptionRecord{ID: "alpaca-" + s, Symbol: s, Channel: req.Channel}
	}
	c.emit(h, domain.EventSubscribed, recs)

	for _, sym := range req.Symbols {
		snap, ok := snaps[sym]
		if !ok || snap == nil {
			c.log.Warn("no snapshot for symbol", "symbol", sym)
			continue
		}
		c.emit(h, domain.EventSnapshot, c.snapshotRecord(sym, snap))
	}

	if err := sc.SubscribeToLULDs(c.onLULD, req.Symbols...); err != nil {
		return fmt.Errorf("subscribing to LULDs: %w", err)
	}
	if err := sc.SubscribeToDailyBars(func(b stream.Bar) { c.emit(h, domain.EventData, c.barRecord(b)) }, req.Symbols...); err != nil {
		return fmt.Errorf("subscribing to daily bars: %w", err)
	}
	return nil
}

// Disconnect implements Client.
func (c *AlpacaClient) Disconnect() error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.cancel()
	c.cancel = nil
	c.stream = nil
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *AlpacaClient) onLULD(l stream.LULD) {
	c.mu.Lock()
	c.limitUp[l.Symbol] = l.LimitUpPrice
	c.mu.Unlock()
}

func (c *AlpacaClient) snapshotRecord(sym string, snap *marketdata.Snapshot) map[string]any {
	var open, high, low, last, prev float64
	if b := snap.DailyBar; b != nil {
		open, high, low, last = b.Open, b.High, b.Low, b.Close
	}
	if t := snap.LatestTrade; t != nil {
		last = t.Price
	}
	if b := snap.PrevDailyBar; b != nil {
		prev = b.Close
	}

	c.mu.Lock()
	if prev > 0 {
		c.prevClose[sym] = prev
	}
	c.mu.Unlock()

	rec := map[string]any{
		"symbol":        sym,
		"market":        c.market,
		"openPrice":     value.FormatPrice(open),
		"highPrice":     value.FormatPrice(high),
		"lowPrice":      value.FormatPrice(low),
		"lastPrice":     value.FormatPrice(last),
		"changePercent": percentField(last, prev),
	}
	if up, ok := c.isLimitUp(sym, last); ok {
		rec["isLimitUpPrice"] = up
	}
	return rec
}

func (c *AlpacaClient) barRecord(b stream.Bar) map[string]any {
	c.mu.Lock()
	prev := c.prevClose[b.Symbol]
	c.mu.Unlock()

	rec := map[string]any{
		"symbol":        b.Symbol,
		"highPrice":     value.FormatPrice(b.High),
		"lowPrice":      value.FormatPrice(b.Low),
		"lastPrice":     value.FormatPrice(b.Close),
		"changePercent": percentField(b.Close, prev),
		"lastUpdated":   c.now().UnixMicro(),
	}
	if up, ok := c.isLimitUp(b.Symbol, b.Close); ok {
		rec["isLimitUpPrice"] = up
	}
	return rec
}

// isLimitUp compares price with the symbol's last LULD upper band. ok is
// false until a band has been received.
func (c *AlpacaClient) isLimitUp(sym string, price float64) (up, ok bool) {
	c.mu.Lock()
	band, ok := c.limitUp[sym]
	c.mu.Unlock()
	if !ok || band <= 0 || price <= 0 {
		return false, false
	}
	return price >= band, true
}

func (c *AlpacaClient) emit(h Handler, kind domain.EventKind, data any) {
	raw, err := json.Marshal(outbound{Event: string(kind), Data: data})
	if err != nil {
		h.OnError(fmt.Errorf("encoding %s: %w", kind, err))
		return
	}
	h.OnMessage(raw)
}

func percentField(last, prev float64) any {
	pct, ok := value.ChangePercent(last, prev)
	if !ok || last == 0 {
		return domain.Placeholder
	}
	return json.Number(pct.String())
}
