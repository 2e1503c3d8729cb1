package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"limitwatch/internal/domain"
	"limitwatch/internal/util"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
)

// Unsubscriber is implemented by clients that can cancel subscriptions by
// provider id.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, ids []string) error
}

// WSClient is a websocket JSON feed client. Its methods are safe for use by
// multiple goroutines; all reads happen on a single read goroutine.
type WSClient struct {
	url        string
	apiKey     string
	header     http.Header
	dialer     *websocket.Dialer
	writeWait  time.Duration
	readWait   time.Duration
	pingPeriod time.Duration
	limiter    *util.RateLimiter
	record     io.Writer
	log        *slog.Logger

	mu      sync.Mutex // guards conn and writes
	conn    *websocket.Conn
	closing bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

var (
	_ Client       = (*WSClient)(nil)
	_ Unsubscriber = (*WSClient)(nil)
)

// NewWSClient returns a client for the feed at url. Options are applied in
// order.
func NewWSClient(url string, options ...func(*WSClient)) *WSClient {
	c := &WSClient{
		url:        url,
		dialer:     websocket.DefaultDialer,
		writeWait:  defaultWriteWait,
		pingPeriod: defaultPingPeriod,
		log:        slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	if c.readWait == 0 && c.pingPeriod > 0 {
		c.readWait = 2 * c.pingPeriod
	}
	c.log = c.log.With("feed", c.Name())
	return c
}

// WithAPIKey sends an auth frame after connecting.
func WithAPIKey(key string) func(*WSClient) {
	return func(c *WSClient) { c.apiKey = key }
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) func(*WSClient) {
	return func(c *WSClient) { c.header = h }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) func(*WSClient) {
	return func(c *WSClient) { c.dialer = d }
}

// WithPingPeriod sets the keepalive interval. 0 disables pings.
func WithPingPeriod(d time.Duration) func(*WSClient) {
	return func(c *WSClient) { c.pingPeriod = d }
}

// WithReadWait bounds the silence allowed between inbound frames, pongs
// included. 0 defaults to twice the ping period, or no deadline when pings
// are disabled. Negative disables the deadline.
func WithReadWait(d time.Duration) func(*WSClient) {
	return func(c *WSClient) { c.readWait = d }
}

// WithWriteWait bounds each write.
func WithWriteWait(d time.Duration) func(*WSClient) {
	return func(c *WSClient) { c.writeWait = d }
}

// WithRateLimiter throttles outbound subscription requests.
func WithRateLimiter(rl *util.RateLimiter) func(*WSClient) {
	return func(c *WSClient) { c.limiter = rl }
}

// WithRecorder copies every inbound message to w, one per line, in the
// format ReplayClient reads.
func WithRecorder(w io.Writer) func(*WSClient) {
	return func(c *WSClient) { c.record = w }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) func(*WSClient) {
	return func(c *WSClient) { c.log = l }
}

// Name implements Client.
func (c *WSClient) Name() string { return "ws" }

// Connect implements Client.
func (c *WSClient) Connect(ctx context.Context, h Handler) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("feed: already connected")
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.quit = make(chan struct{})
	c.mu.Unlock()

	if c.apiKey != "" {
		if err := c.write(outbound{Event: "auth", Data: authData{APIKey: c.apiKey}}); err != nil {
			conn.Close()
			c.reset()
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	h.OnConnect()

	c.wg.Add(1)
	go c.readRoutine(conn, h)
	if c.pingPeriod > 0 {
		c.wg.Add(1)
		go c.pingRoutine(conn, c.quit)
	}
	return nil
}

// Subscribe implements Client.
func (c *WSClient) Subscribe(ctx context.Context, req domain.SubscribeRequest) error {
	if err := requireSymbols(req); err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.write(subscribeFrame(req))
}

// Unsubscribe cancels subscriptions by provider id.
func (c *WSClient) Unsubscribe(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.write(outbound{Event: "unsubscribe", Data: unsubscribeData{IDs: ids}})
}

// Disconnect implements Client. It sends a close frame, closes the socket
// and waits for the read and ping goroutines to exit.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	close(c.quit)
	c.mu.Unlock()

	deadline := time.Now().Add(c.writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.log.Debug("close frame not sent", "error", err)
	}
	err := conn.Close()
	c.wg.Wait()
	c.reset()
	return err
}

func (c *WSClient) reset() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *WSClient) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closing {
		return ErrNotConnected
	}
	if c.writeWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// The client ensures that there is at most one reader to a connection by
// executing all reads from this goroutine.
func (c *WSClient) readRoutine(conn *websocket.Conn, h Handler) {
	defer c.wg.Done()

	conn.SetPongHandler(func(string) error {
		c.log.Debug("got pong")
		c.extendReadDeadline(conn)
		return nil
	})

	for {
		// Reset for every frame, control or data.
		c.extendReadDeadline(conn)
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				h.OnDisconnect(ce.Code, ce.Text)
			case c.isClosing():
				h.OnDisconnect(CloseNormal, "client disconnect")
			default:
				h.OnError(err)
			}
			return
		}
		if c.record != nil {
			c.record.Write(append(data, '\n'))
		}
		h.OnMessage(data)
	}
}

func (c *WSClient) extendReadDeadline(conn *websocket.Conn) {
	if c.readWait > 0 {
		conn.SetReadDeadline(time.Now().Add(c.readWait))
	}
}

// pingRoutine closes the connection when a ping cannot be written, so the
// read routine reports the failure.
func (c *WSClient) pingRoutine(conn *websocket.Conn, quit <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !c.isClosing() {
					c.log.Warn("ping failed", "error", err)
					conn.Close()
				}
				return
			}
		case <-quit:
			return
		}
	}
}
