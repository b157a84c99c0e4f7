package dates

import (
	"regexp"
	"strings"
	"time"
)

// RenderLayout is the fixed human-facing format used in report text.
// Rendering is pinned so narrative output stays stable across host locales.
const RenderLayout = "02/01/2006"

const (
	DefaultWindowDays = 14
	MinWindowDays     = 1
	MaxWindowDays     = 90
)

var directLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var dmyPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

var sentinels = map[string]bool{
	"":    true,
	"-":   true,
	"—":   true,
	"n/a": true,
	"na":  true,
	"tbd": true,
	"tbc": true,
	"none": true,
}

// Normalize parses a heterogeneous date value into a UTC instant.
// It accepts an existing time.Time, ISO-ish strings and DD/MM/YYYY
// strings; sentinel strings and anything unparseable yield nil rather
// than an error.
func Normalize(v any) *time.Time {
	switch value := v.(type) {
	case nil:
		return nil
	case time.Time:
		if value.IsZero() {
			return nil
		}
		u := value.UTC()
		return &u
	case *time.Time:
		if value == nil {
			return nil
		}
		return Normalize(*value)
	case string:
		return normalizeString(value)
	case *string:
		if value == nil {
			return nil
		}
		return normalizeString(*value)
	default:
		return nil
	}
}

func normalizeString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if sentinels[strings.ToLower(s)] {
		return nil
	}
	for _, layout := range directLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		day := atoiClamp(m[1], 1, 31)
		month := atoiClamp(m[2], 1, 12)
		year := atoiClamp(m[3], 1900, 2400)
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

func atoiClamp(s string, min, max int) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// Render formats an instant in the fixed DD/MM/YYYY UTC form.
// Nil renders as an em dash, matching how absent dates read in reports.
func Render(t *time.Time) string {
	if t == nil {
		return "—"
	}
	return t.UTC().Format(RenderLayout)
}

// Window is an inclusive UTC time window.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Days int       `json:"days"`
}

// ClampWindowDays bounds a requested window length, applying the
// default when the caller passed zero.
func ClampWindowDays(days int) int {
	if days == 0 {
		return DefaultWindowDays
	}
	if days < MinWindowDays {
		return MinWindowDays
	}
	if days > MaxWindowDays {
		return MaxWindowDays
	}
	return days
}

// NewWindow builds the window [start of now's UTC day, from + days].
func NewWindow(now time.Time, days int) Window {
	days = ClampWindowDays(days)
	from := StartOfDay(now)
	return Window{From: from, To: from.AddDate(0, 0, days), Days: days}
}

// Contains reports inclusive membership on both bounds.
func (w Window) Contains(t *time.Time) bool {
	if t == nil {
		return false
	}
	return !t.Before(w.From) && !t.After(w.To)
}

// StartOfDay truncates an instant to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay extends an instant to the last second of its UTC day,
// used when a calendar period bound must behave inclusively.
func EndOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
}
