// Package dates turns the timestamp renderings seen on chat platforms into
// absolute instants.
package dates

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsable is returned when no strategy recognizes the input. Callers
// choose the fallback; the normalizer never invents an instant.
var ErrUnparsable = errors.New("unparsable timestamp")

// millisThreshold separates Unix seconds from Unix milliseconds. Second-based
// values stay below it until the year 33658.
const millisThreshold = 1e12

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

var (
	// "Oct 31, 2025 02:37", "Oct 31, 19:46", "Oct 31 2025 at 7:05 pm"
	absoluteRe = regexp.MustCompile(`(?i)^([a-z]{3})[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s*(?:(\d{4}),?\s*)?(?:at\s+)?(\d{1,2}):(\d{2})\s*(?:([ap])\.?m\.?)?$`)

	// "7:21 pm", "9 pm", "Yesterday 11:05 pm", "19:46"
	clockRe = regexp.MustCompile(`(?i)^(?:(yesterday|today)[,\s]*(?:at\s+)?)?(\d{1,2})(?::(\d{2}))?\s*(?:([ap])\.?m\.?)?$`)

	numericRe = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Normalizer resolves timestamps. Relative renderings are anchored to Now in
// Location, which is the timezone the browser profile renders in.
type Normalizer struct {
	Now      func() time.Time
	Location *time.Location
}

// New returns a normalizer anchored to the wall clock in loc (UTC when nil).
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{Now: time.Now, Location: loc}
}

// Normalize tries each strategy in order and returns the first match.
func (n *Normalizer) Normalize(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, ErrUnparsable
		}
		return v, nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, ErrUnparsable
		}
		return *v, nil
	case string:
		return n.normalizeString(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, v.String())
		}
		return fromUnix(f)
	case float64:
		return fromUnix(v)
	case int64:
		return fromUnix(float64(v))
	case int:
		return fromUnix(float64(v))
	case nil:
		return time.Time{}, ErrUnparsable
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrUnparsable, raw)
	}
}

func (n *Normalizer) normalizeString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrUnparsable
	}

	if t, ok := parseISO(s); ok {
		return t, nil
	}
	if t, ok := n.parseAbsolute(s); ok {
		return t, nil
	}
	if t, ok := n.parseClock(s); ok {
		return t, nil
	}
	if numericRe.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return fromUnix(f)
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, raw)
}

func parseISO(s string) (time.Time, bool) {
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (n *Normalizer) parseAbsolute(s string) (time.Time, bool) {
	m := absoluteRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])

	year := n.now().Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
	}

	hour, minute, ok := clock(m[4], m[5], m[6])
	if !ok {
		return time.Time{}, false
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, n.loc())
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

func (n *Normalizer) parseClock(s string) (time.Time, bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	// A bare number is not a clock time.
	if m[3] == "" && m[4] == "" {
		return time.Time{}, false
	}

	hour, minute, ok := clock(m[2], m[3], m[4])
	if !ok {
		return time.Time{}, false
	}

	now := n.now()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, n.loc())
	if strings.EqualFold(m[1], "yesterday") {
		t = t.AddDate(0, 0, -1)
	}
	return t, true
}

// clock converts hour/minute/meridiem captures to 24-hour time.
func clock(h, m, meridiem string) (int, int, bool) {
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	minute := 0
	if m != "" {
		if minute, err = strconv.Atoi(m); err != nil || minute > 59 {
			return 0, 0, false
		}
	}

	switch strings.ToLower(meridiem) {
	case "a":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "p":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}

func fromUnix(f float64) (time.Time, error) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnparsable, f)
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func (n *Normalizer) now() time.Time {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return now().In(n.loc())
}

func (n *Normalizer) loc() *time.Location {
	if n.Location == nil {
		return time.UTC
	}
	return n.Location
}
