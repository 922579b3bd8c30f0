package timespec

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
}

// ParseTime parses an absolute time. Values without an offset are read in
// loc (or time.Local when loc is nil); a trailing zone name overrides loc:
//
//	"2024-03-01 12:00 Europe/Paris"
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	src := strings.TrimSpace(s)
	if src == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	if loc == nil {
		loc = time.Local
	}

	if i := strings.LastIndexByte(src, ' '); i > 0 {
		if z, ok := zone(src[i+1:]); ok {
			src, loc = strings.TrimSpace(src[:i]), z
		}
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, src, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q", ErrInvalidTime, s)
}

func zone(name string) (*time.Location, bool) {
	if !strings.Contains(name, "/") && name != "UTC" && name != "Local" {
		return nil, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	return loc, true
}
