package timespec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var units = map[string]time.Duration{
	"y": Year,
	"M": Month,
	"w": Week,
	"d": Day,
	"h": time.Hour,
	"m": time.Minute,
	"s": time.Second,
	"":  time.Millisecond,
}

var reDurationPart = regexp.MustCompile(`(\d*\.\d+|\d+\.?)([yMwdhms]?)`)

// ParseDuration parses "1w2d", "1.5h", "-3m", "10s250" (trailing bare number
// is milliseconds) and falls back to Go syntax for things like "500ms".
// Units are case-sensitive: "m" is a minute, "M" a 30-day month.
func ParseDuration(s string) (time.Duration, error) {
	src := strings.TrimSpace(s)
	if d, ok := parseUnits(src); ok {
		return d, nil
	}
	if d, err := time.ParseDuration(src); err == nil {
		return d, nil
	}
	return 0, fmt.Errorf("%w %q", ErrInvalidDuration, s)
}

func parseUnits(src string) (time.Duration, bool) {
	body := strings.TrimPrefix(src, "-")
	if body == "" {
		return 0, false
	}
	idx := reDurationPart.FindAllStringSubmatchIndex(body, -1)
	if len(idx) == 0 {
		return 0, false
	}

	var total float64
	pos := 0
	for i, m := range idx {
		if m[0] != pos {
			return 0, false
		}
		pos = m[1]
		unit := body[m[4]:m[5]]
		if unit == "" && i != len(idx)-1 {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(body[m[2]:m[3]], "."), 64)
		if err != nil {
			return 0, false
		}
		total += f * float64(units[unit])
	}
	if pos != len(body) || total > math.MaxInt64 {
		return 0, false
	}
	d := time.Duration(math.Round(total))
	if len(body) != len(src) {
		d = -d
	}
	return d, true
}

// FormatDuration renders d with the units ParseDuration reads back:
// weeks, days, hours, minutes, seconds and a trailing bare millisecond count.
// Sub-millisecond precision is rounded away.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, u := range []struct {
		unit string
		size time.Duration
	}{
		{"w", Week}, {"d", Day}, {"h", time.Hour}, {"m", time.Minute}, {"s", time.Second},
	} {
		if n := d / u.size; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
			b.WriteString(u.unit)
			d -= n * u.size
		}
	}
	if ms := d / time.Millisecond; ms > 0 {
		b.WriteString(strconv.FormatInt(int64(ms), 10))
	}
	return b.String()
}
