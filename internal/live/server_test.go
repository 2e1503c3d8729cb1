package live

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"limitwatch/internal/domain"
	"limitwatch/internal/util"
)

func TestWatchMirrorsModel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	server := NewModel()
	server.Reset(testViews())
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	server.Publish(domain.Change{Kind: domain.ChangeStatus, Status: &domain.Status{State: "streaming", At: at}, At: at})

	gs := NewGRPCServer()
	NewServer(server, util.Discard()).RegisterGRPC(gs)
	go gs.Serve(lis)
	defer gs.Stop()

	mirror := NewModel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewClient(lis.Addr().String(), mirror, util.Discard()).Sync(ctx) }()

	waitFor(t, "initial views", func() bool { return len(mirror.Views()) == 1 })
	if diff := cmp.Diff(server.Views(), mirror.Views()); diff != "" {
		t.Errorf("initial views mismatch (-server +mirror):\n%s", diff)
	}
	if got := mirror.Status().State; got != "streaming" {
		t.Errorf("mirror status = %q, want streaming", got)
	}

	server.Publish(
		domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "2454", Column: domain.ColumnChangePercent, Text: "9.9%", At: at},
		domain.Change{Kind: domain.ChangeOrder, View: "Tech", Order: []string{"2454", "2330"}, At: at},
		domain.Change{Kind: domain.ChangeHighlight, View: "Tech", Symbol: "2454", Highlighted: true, At: at},
	)
	waitFor(t, "highlight change", func() bool {
		v, _ := mirror.View("Tech")
		return v.Rows[0].Highlighted
	})
	if diff := cmp.Diff(server.Views(), mirror.Views()); diff != "" {
		t.Errorf("views mismatch after changes (-server +mirror):\n%s", diff)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sync() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
}

func TestToStructRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 1, 2, 0, time.UTC)
	in := wireMessage{Type: MessageChange, Change: &domain.Change{
		Kind: domain.ChangeCell, View: "Tech", Symbol: "2330", Column: domain.ColumnLast, Text: "1,085", At: at,
	}}
	st, err := toStruct(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := fromStruct(st)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
