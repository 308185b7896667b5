package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one loosely typed platform object keyed by platform field name.
type Record map[string]interface{}

// String returns the field as text; nil and missing fields are "".
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Int64 parses the field as an integer. ok is false when the field is nil,
// missing or empty.
func (r Record) Int64(key string) (n int64, ok bool, err error) {
	v, present := r[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int:
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case float64:
		return int64(x), true, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	}
	s := r.String(key)
	if s == "" {
		return 0, false, nil
	}
	if d, err := decimal.NewFromString(s); err == nil && d.IsInteger() {
		return d.IntPart(), true, nil
	}
	return 0, false, fmt.Errorf("field %s: %q is not an integer", key, s)
}

// Decimal parses the field as money. Missing fields are zero.
func (r Record) Decimal(key string) (decimal.Decimal, error) {
	v, present := r[key]
	if !present || v == nil {
		return decimal.Zero, nil
	}
	switch x := v.(type) {
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	}
	s := r.String(key)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s: %q is not a number", key, s)
	}
	return d, nil
}

// Bool accepts JSON booleans, 0/1 and "true"/"false".
func (r Record) Bool(key string) (bool, error) {
	v, present := r[key]
	if !present || v == nil {
		return false, nil
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	s := r.String(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("field %s: %q is not a boolean", key, s)
	}
	return b, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses a platform timestamp. Values without an offset are read in loc.
// ok is false for nil or empty fields.
func (r Record) Time(key string, loc *time.Location) (t time.Time, ok bool, err error) {
	s := r.String(key)
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("field %s: unrecognised time %q", key, s)
}
