package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"limitwatch/internal/domain"
)

// ReplayClient plays back a recorded JSONL feed. Subscriptions are
// acknowledged with generated ids; playback starts on the first Subscribe
// call and ends with a normal disconnect.
type ReplayClient struct {
	open     func() (io.ReadCloser, error)
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	h       Handler
	started chan struct{}
	quit    chan struct{}
	wg      sync.WaitGroup
	running bool
	playing bool
}

var _ Client = (*ReplayClient)(nil)

// NewReplayClient replays the file at path, pausing interval between
// messages.
func NewReplayClient(path string, interval time.Duration, logger *slog.Logger) *ReplayClient {
	return newReplayClient(func() (io.ReadCloser, error) { return os.Open(path) }, interval, logger)
}

// NewReplayReader replays messages read from r.
func NewReplayReader(r io.Reader, interval time.Duration, logger *slog.Logger) *ReplayClient {
	return newReplayClient(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, interval, logger)
}

func newReplayClient(open func() (io.ReadCloser, error), interval time.Duration, logger *slog.Logger) *ReplayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayClient{open: open, interval: interval, log: logger.With("feed", "replay")}
}

// Name implements Client.
func (c *ReplayClient) Name() string { return "replay" }

// Connect implements Client.
func (c *ReplayClient) Connect(ctx context.Context, h Handler) error {
	rc, err := c.open()
	if err != nil {
		return fmt.Errorf("opening replay: %w", err)
	}

	c.mu.Lock()
	c.h = h
	c.started = make(chan struct{})
	c.quit = make(chan struct{})
	c.running = true
	c.playing = false
	started, quit := c.started, c.quit
	c.mu.Unlock()

	h.OnConnect()

	c.wg.Add(1)
	go c.play(rc, h, started, quit)
	return nil
}

// Subscribe implements Client by acknowledging every symbol immediately.
func (c *ReplayClient) Subscribe(_ context.Context, req domain.SubscribeRequest) error {
	if err := requireSymbols(req); err != nil {
		return err
	}
	c.mu.Lock()
	h, running := c.h, c.running
	c.mu.Unlock()
	if !running {
		return ErrNotConnected
	}

	recs := make([]domain.SubscriptionRecord, len(req.Symbols))
	for i, s := range req.Symbols {
		recs[i] = domain.SubscriptionRecord{ID: uuid.NewString(), Symbol: s, Channel: req.Channel}
	}
	ack, err := json.Marshal(outbound{Event: string(domain.EventSubscribed), Data: recs})
	if err != nil {
		return err
	}
	h.OnMessage(ack)

	c.mu.Lock()
	if !c.playing {
		c.playing = true
		close(c.started)
	}
	c.mu.Unlock()
	return nil
}

// Disconnect implements Client.
func (c *ReplayClient) Disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.wg.Wait()
		return nil
	}
	c.running = false
	close(c.quit)
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *ReplayClient) play(rc io.ReadCloser, h Handler, started, quit <-chan struct{}) {
	defer c.wg.Done()
	defer rc.Close()

	select {
	case <-started:
	case <-quit:
		h.OnDisconnect(CloseNormal, "client disconnect")
		return
	}

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case <-quit:
			h.OnDisconnect(CloseNormal, "client disconnect")
			return
		default:
		}
		h.OnMessage(append([]byte(nil), line...))
		n++
		if c.interval > 0 {
			select {
			case <-time.After(c.interval):
			case <-quit:
				h.OnDisconnect(CloseNormal, "client disconnect")
				return
			}
		}
	}
	if err := sc.Err(); err != nil {
		h.OnError(fmt.Errorf("reading replay: %w", err))
		return
	}

	c.log.Info("replay finished", "messages", n)
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	h.OnDisconnect(CloseNormal, "replay finished")
}
