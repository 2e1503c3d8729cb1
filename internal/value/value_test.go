package value

import (
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeSentinels(t *testing.T) {
	for _, s := range []string{"-", "", "N/A", "  -  ", " N/A"} {
		fv := Normalize(s)
		if !fv.HasKey || !math.IsInf(fv.Key, -1) {
			t.Errorf("Normalize(%q) = %+v, want key -Inf", s, fv)
		}
		if fv.Text != s {
			t.Errorf("Normalize(%q).Text = %q, want input unchanged", s, fv.Text)
		}
		if !fv.IsSentinel() {
			t.Errorf("Normalize(%q).IsSentinel() = false", s)
		}
	}
}

func TestNormalizeKeys(t *testing.T) {
	tests := []struct {
		raw     any
		wantKey float64
		text    string
	}{
		{"9.8%", 0.098, "9.8%"},
		{"-3.25%", -0.0325, "-3.25%"},
		{"10 %", 0.1, "10 %"},
		{"1,000", 1000, "1,000"},
		{"1,234,567.5", 1234567.5, "1,234,567.5"},
		{" 42 ", 42, " 42 "},
		{9.8, 9.8, "9.8"},
		{float32(1.5), 1.5, "1.5"},
		{int64(600), 600, "600"},
		{7, 7, "7"},
		{json.Number("598.5"), 598.5, "598.5"},
		{decimal.RequireFromString("12.30"), 12.3, "12.3"},
	}

	for _, tt := range tests {
		fv := Normalize(tt.raw)
		if !fv.HasKey {
			t.Errorf("Normalize(%#v) has no key", tt.raw)
			continue
		}
		if fv.Key != tt.wantKey {
			t.Errorf("Normalize(%#v).Key = %v, want %v", tt.raw, fv.Key, tt.wantKey)
		}
		if fv.Text != tt.text {
			t.Errorf("Normalize(%#v).Text = %q, want %q", tt.raw, fv.Text, tt.text)
		}
	}
}

func TestNormalizeUndefinedKey(t *testing.T) {
	for _, raw := range []any{"TWSE", "abc%", "5%%", "1.2.3", true} {
		fv := Normalize(raw)
		if fv.HasKey {
			t.Errorf("Normalize(%#v) = %+v, want no key", raw, fv)
		}
	}
	if fv := Normalize(nil); !fv.IsSentinel() || fv.Text != "-" {
		t.Errorf("Normalize(nil) = %+v, want placeholder", fv)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		raw     any
		text    string
		wantKey float64
	}{
		{json.Number("9.8"), "9.8%", 0.098},
		{9.8, "9.8%", 0.098},
		{"9.8%", "9.8%", 0.098},
		{"-1.5", "-1.5%", -0.015},
	}
	for _, tt := range tests {
		fv := Percent(tt.raw)
		if fv.Text != tt.text || fv.Key != tt.wantKey {
			t.Errorf("Percent(%#v) = %+v, want text %q key %v", tt.raw, fv, tt.text, tt.wantKey)
		}
	}
	if fv := Percent("-"); !fv.IsSentinel() || fv.Text != "-" {
		t.Errorf("Percent(-) = %+v, want placeholder", fv)
	}
}

func TestWithTextRenormalizes(t *testing.T) {
	fv := Normalize(1.5).WithText("-")
	if !fv.IsSentinel() {
		t.Errorf("WithText(-) = %+v, want sentinel key", fv)
	}
	fv = FromText("-").WithText("2.5%")
	if fv.Key != 0.025 {
		t.Errorf("WithText(2.5%%).Key = %v, want 0.025", fv.Key)
	}
}

func TestCompare(t *testing.T) {
	if Compare(Normalize("9.8%"), Normalize("1.0%")) != 1 {
		t.Error("9.8% should order after 1.0%")
	}
	if Compare(Normalize("-"), Normalize("-5%")) != -1 {
		t.Error("sentinel should order before any number")
	}
	if Compare(Normalize("-"), Normalize("N/A")) != 0 {
		t.Error("sentinels should compare equal")
	}
	if Compare(Normalize("1,000"), Normalize(1000)) != 0 {
		t.Error("1,000 should equal 1000")
	}
	// Mixed: lexical fallback.
	if Compare(Normalize("abc"), Normalize(5)) != 1 {
		t.Error("lexical fallback: \"abc\" > \"5\"")
	}
}

func TestSortDescending(t *testing.T) {
	vals := []FieldValue{Normalize("-"), Normalize("9.8%"), Normalize("1%"), Normalize("N/A"), Normalize("-2%")}
	sort.SliceStable(vals, func(i, j int) bool { return Compare(vals[i], vals[j]) > 0 })

	want := []string{"9.8%", "1%", "-2%", "-", "N/A"}
	for i, w := range want {
		if vals[i].Text != w {
			t.Errorf("vals[%d] = %q, want %q", i, vals[i].Text, w)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "-"},
		{math.MaxFloat64, "-"},
		{598, "598.00"},
		{12.345, "12.35"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChangePercent(t *testing.T) {
	pct, ok := ChangePercent(110, 100)
	if !ok || pct.String() != "10" {
		t.Errorf("ChangePercent(110, 100) = %s, %v, want 10, true", pct, ok)
	}
	pct, ok = ChangePercent(98.2, 100)
	if !ok || pct.String() != "-1.8" {
		t.Errorf("ChangePercent(98.2, 100) = %s, %v, want -1.8, true", pct, ok)
	}
	if _, ok := ChangePercent(1, 0); ok {
		t.Error("ChangePercent with zero prev should not be ok")
	}
}
