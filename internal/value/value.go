// Package value normalizes raw feed fields into display text plus a numeric
// ordering key, so that cells holding "9.8%", 9.8, "1,000" or "-" sort
// consistently.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldValue is the normalized content of one cell. Key is only meaningful
// when HasKey is true.
type FieldValue struct {
	Text   string
	Key    float64
	HasKey bool
}

// sentinels are placeholders that sort below every real value.
var sentinels = map[string]struct{}{
	"-":   {},
	"":    {},
	"N/A": {},
}

// Normalize converts a raw field into a FieldValue.
func Normalize(raw any) FieldValue {
	switch v := raw.(type) {
	case FieldValue:
		return v
	case nil:
		return FromText("-")
	case string:
		return FromText(v)
	case json.Number:
		return fromDecimalString(v.String())
	case decimal.Decimal:
		return FieldValue{Text: v.String(), Key: v.InexactFloat64(), HasKey: true}
	case float64:
		return FieldValue{Text: strconv.FormatFloat(v, 'f', -1, 64), Key: v, HasKey: true}
	case float32:
		return FieldValue{Text: strconv.FormatFloat(float64(v), 'f', -1, 32), Key: float64(v), HasKey: true}
	case int:
		return FieldValue{Text: strconv.Itoa(v), Key: float64(v), HasKey: true}
	case int64:
		return FieldValue{Text: strconv.FormatInt(v, 10), Key: float64(v), HasKey: true}
	case int32:
		return FieldValue{Text: strconv.FormatInt(int64(v), 10), Key: float64(v), HasKey: true}
	case uint64:
		return FieldValue{Text: strconv.FormatUint(v, 10), Key: float64(v), HasKey: true}
	case bool:
		return FieldValue{Text: strconv.FormatBool(v)}
	default:
		return FromText(fmt.Sprint(v))
	}
}

// FromText derives the ordering key from display text.
func FromText(s string) FieldValue {
	t := strings.TrimSpace(s)
	if _, ok := sentinels[t]; ok {
		return FieldValue{Text: s, Key: math.Inf(-1), HasKey: true}
	}

	if strings.HasSuffix(t, "%") {
		num := strings.TrimSpace(strings.TrimSuffix(t, "%"))
		if d, err := decimal.NewFromString(num); err == nil {
			return FieldValue{Text: s, Key: d.Shift(-2).InexactFloat64(), HasKey: true}
		}
	}

	if d, err := decimal.NewFromString(strings.ReplaceAll(t, ",", "")); err == nil {
		return FieldValue{Text: s, Key: d.InexactFloat64(), HasKey: true}
	}

	return FieldValue{Text: s}
}

// Percent normalizes a change-percent field, rendering numbers as "<v>%".
// Values that already carry a percent sign and sentinels keep their text.
func Percent(raw any) FieldValue {
	fv := Normalize(raw)
	if fv.IsSentinel() || strings.HasSuffix(strings.TrimSpace(fv.Text), "%") {
		return fv
	}
	return FromText(fv.Text + "%")
}

// WithText returns the value re-normalized for new display text.
func (f FieldValue) WithText(s string) FieldValue {
	return FromText(s)
}

// IsSentinel reports whether f is a placeholder.
func (f FieldValue) IsSentinel() bool {
	return f.HasKey && math.IsInf(f.Key, -1)
}

// String implements fmt.Stringer.
func (f FieldValue) String() string { return f.Text }

func fromDecimalString(s string) FieldValue {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return FromText(s)
	}
	return FieldValue{Text: s, Key: d.InexactFloat64(), HasKey: true}
}

// Compare orders a and b numerically when both carry a key, and by display
// text otherwise. It returns -1, 0 or +1.
func Compare(a, b FieldValue) int {
	if a.HasKey && b.HasKey {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.Text, b.Text)
}

