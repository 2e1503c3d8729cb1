package dashboard

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"limitwatch/internal/domain"
)

func TestFormatInt(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-45000, "-45,000"},
	}
	for _, tt := range tests {
		if got := FormatInt(tt.n); got != tt.want {
			t.Errorf("FormatInt(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestColumnTitle(t *testing.T) {
	th := time.Date(2026, 10, 19, 9, 40, 0, 0, time.UTC)
	if got := ColumnTitle(domain.ColumnHitBeforeThreshold, th); got != "Hit<09:40" {
		t.Errorf("threshold title = %q, want %q", got, "Hit<09:40")
	}
	if got := ColumnTitle(domain.ColumnHitBeforeThreshold, time.Time{}); got != "Hit" {
		t.Errorf("title without threshold = %q, want Hit", got)
	}
	if got := ColumnTitle(domain.ColumnChangePercent, th); got != "Chg%" {
		t.Errorf("changePercent title = %q, want Chg%%", got)
	}
}

func TestFormatStatus(t *testing.T) {
	at := time.Date(2026, 10, 19, 1, 2, 3, 0, time.UTC)
	tests := []struct {
		s    domain.Status
		want string
	}{
		{domain.Status{State: "streaming", At: at}, "streaming since 01:02:03"},
		{domain.Status{State: "disconnected", Code: 1006, Message: "reset", At: at}, "disconnected since 01:02:03 (1006 reset)"},
		{domain.Status{State: "connecting"}, "connecting"},
	}
	for _, tt := range tests {
		if got := FormatStatus(tt.s, time.UTC); got != tt.want {
			t.Errorf("FormatStatus(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func views() []domain.ViewSnapshot {
	return []domain.ViewSnapshot{{Name: "Tech", Rows: []domain.RowSnapshot{
		{Symbol: "2330", Highlighted: true, Cells: map[domain.Column]string{
			domain.ColumnName: "TSMC", domain.ColumnSymbol: "2330", domain.ColumnChangePercent: "9.8%", domain.ColumnHitBeforeThreshold: "Y",
		}},
		{Symbol: "2454", Cells: map[domain.Column]string{
			domain.ColumnName: "MediaTek", domain.ColumnSymbol: "2454", domain.ColumnChangePercent: "1.2%", domain.ColumnHitBeforeThreshold: "-",
		}},
	}}}
}

func TestRenderPlain(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Threshold: time.Date(2026, 10, 19, 9, 40, 0, 0, time.UTC), Location: time.UTC, Plain: true}
	if err := Render(&buf, views(), domain.Status{State: "streaming"}, opts); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Tech (2)", "Hit<09:40", "9.8% *", "TSMC", "MediaTek", "feed: streaming"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "1.2% *") {
		t.Errorf("unhighlighted row marked:\n%s", out)
	}
	if strings.Index(out, "TSMC") > strings.Index(out, "MediaTek") {
		t.Errorf("rows out of order:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain output has escape codes:\n%s", out)
	}
}

func TestRenderHighlightColors(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, views(), domain.Status{State: "streaming"}, Options{}); err != nil {
		t.Fatal(err)
	}
	if want := highlight.Sprint("9.8%"); !strings.Contains(buf.String(), want) {
		t.Errorf("output missing highlighted cell %q", want)
	}
}
