package dashboard

import (
	"fmt"
	"strings"
	"time"

	"limitwatch/internal/domain"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// ColumnTitle returns the table header of a column. The threshold column
// names its cutoff, e.g. "Hit<09:40".
func ColumnTitle(c domain.Column, threshold time.Time) string {
	switch c {
	case domain.ColumnName:
		return "Name"
	case domain.ColumnSymbol:
		return "Symbol"
	case domain.ColumnMarket:
		return "Market"
	case domain.ColumnOpen:
		return "Open"
	case domain.ColumnHigh:
		return "High"
	case domain.ColumnLow:
		return "Low"
	case domain.ColumnLast:
		return "Last"
	case domain.ColumnChangePercent:
		return "Chg%"
	case domain.ColumnHitBeforeThreshold:
		if threshold.IsZero() {
			return "Hit"
		}
		return "Hit<" + threshold.Format("15:04")
	}
	return string(c)
}

// FormatStatus renders a feed status for the footer line.
func FormatStatus(s domain.Status, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(s.State)
	if !s.At.IsZero() {
		if loc == nil {
			loc = time.Local
		}
		b.WriteString(" since ")
		b.WriteString(s.At.In(loc).Format("15:04:05"))
	}
	if s.Code != 0 || s.Message != "" {
		fmt.Fprintf(&b, " (%d %s)", s.Code, s.Message)
	}
	return b.String()
}
