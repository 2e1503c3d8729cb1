package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"

	"limitwatch/internal/domain"
)

// recordingHandler collects callbacks for assertions.
type recordingHandler struct {
	mu          sync.Mutex
	connected   int
	messages    []string
	disconnects []int
	errs        []error
	done        chan struct{}
	once        sync.Once
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{})}
}

func (h *recordingHandler) OnConnect() {
	h.mu.Lock()
	h.connected++
	h.mu.Unlock()
}

func (h *recordingHandler) OnMessage(raw []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, string(raw))
	h.mu.Unlock()
}

func (h *recordingHandler) OnDisconnect(code int, _ string) {
	h.mu.Lock()
	h.disconnects = append(h.disconnects, code)
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

func (h *recordingHandler) snapshot() (msgs []string, disconnects []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...), append([]int(nil), h.disconnects...)
}

// feedServer accepts one websocket, records inbound frames, and answers a
// subscribe with an ack and one data event before closing.
func feedServer(t *testing.T, inbound chan<- outbound) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var msg outbound
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			inbound <- msg
			if msg.Event != "subscribe" {
				continue
			}
			conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribed","data":[{"id":"a1","symbol":"2330"}]}`))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"data","data":{"symbol":"2330","highPrice":1,"lowPrice":1,"lastPrice":1,"changePercent":1,"lastUpdated":1}}`))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "maintenance"))
			return
		}
	}))
}

func TestWSClientRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	inbound := make(chan outbound, 8)
	srv := feedServer(t, inbound)
	defer srv.Close()

	var rec strings.Builder
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSClient(url, WithAPIKey("secret"), WithPingPeriod(0), WithRecorder(&rec))
	h := newRecordingHandler()

	ctx := context.Background()
	if err := c.Connect(ctx, h); err != nil {
		t.Fatal(err)
	}

	auth := <-inbound
	if auth.Event != "auth" {
		t.Errorf("first frame = %q, want auth", auth.Event)
	}

	req := domain.SubscribeRequest{Channel: domain.ChannelAggregates, Symbols: []string{"2330"}}
	if err := c.Subscribe(ctx, req); err != nil {
		t.Fatal(err)
	}
	sub := <-inbound
	data, _ := json.Marshal(sub.Data)
	if sub.Event != "subscribe" || string(data) != `{"channel":"aggregates","symbols":["2330"]}` {
		t.Errorf("subscribe frame = %s %s", sub.Event, data)
	}

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	msgs, disconnects := h.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %v", len(msgs), msgs)
	}
	if len(disconnects) != 1 || disconnects[0] != 4000 {
		t.Errorf("disconnects = %v, want [4000]", disconnects)
	}
	if h.connected != 1 {
		t.Errorf("OnConnect called %d times, want 1", h.connected)
	}
	if strings.Count(rec.String(), "\n") != 2 {
		t.Errorf("recorder got %q, want 2 lines", rec.String())
	}

	if err := c.Disconnect(); err != nil {
		t.Logf("disconnect after remote close: %v", err)
	}
}

func TestWSClientNotConnected(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1")
	err := c.Subscribe(context.Background(), domain.SubscribeRequest{Symbols: []string{"2330"}})
	if err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect without connection = %v", err)
	}
}

func TestWSClientDialError(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/feed")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, newRecordingHandler()); err == nil {
		t.Error("Connect to closed port should fail")
	}
}

func TestWSClientSilentFeedReportsError(t *testing.T) {
	defer leaktest.Check(t)()

	// The server upgrades, then neither reads nor writes, so pings are never
	// answered.
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSClient(url, WithPingPeriod(20*time.Millisecond))
	h := newRecordingHandler()
	if err := c.Connect(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("silent feed never reported a disconnect or error")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs)+len(h.disconnects) != 1 {
		t.Errorf("errs=%v disconnects=%v, want exactly one report", h.errs, h.disconnects)
	}
}

func TestReadWaitDefaults(t *testing.T) {
	tests := []struct {
		name    string
		options []func(*WSClient)
		want    time.Duration
	}{
		{"default ping", nil, 2 * defaultPingPeriod},
		{"pings disabled", []func(*WSClient){WithPingPeriod(0)}, 0},
		{"explicit", []func(*WSClient){WithReadWait(time.Second)}, time.Second},
		{"disabled", []func(*WSClient){WithReadWait(-1)}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWSClient("ws://localhost", tt.options...)
			if c.readWait != tt.want {
				t.Errorf("readWait = %v, want %v", c.readWait, tt.want)
			}
		})
	}
}
