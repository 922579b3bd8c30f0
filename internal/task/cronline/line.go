package cronline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// searchYears bounds NextTime/PreviousTime so impossible lines (feb 30) fail.
const searchYears = 14

// Line is a parsed cron line. It is immutable and safe for concurrent use.
type Line struct {
	original string
	zone     string
	loc      *time.Location

	seconds   []int // never nil
	minutes   []int // nil means any
	hours     []int
	days      []int // negative values count back from the month end, -1 is the last day
	months    []int
	weekdays  []int
	monthdays []monthday

	cache *freqCache
}

// monthday is a month-relative weekday: {5, 2} is the second friday, {1, -1} the last monday.
type monthday struct {
	weekday int
	nth     int
}

func (md monthday) String() string { return strconv.Itoa(md.weekday) + "#" + strconv.Itoa(md.nth) }

var _ cron.Schedule = (*Line)(nil)

// Original returns the text the line was parsed from.
func (l *Line) Original() string { return l.original }

// Location returns the zone the line is evaluated in.
func (l *Line) Location() *time.Location { return l.loc }

func (l *Line) Seconds() []int  { return slices.Clone(l.seconds) }
func (l *Line) Minutes() []int  { return slices.Clone(l.minutes) }
func (l *Line) Hours() []int    { return slices.Clone(l.hours) }
func (l *Line) Days() []int     { return slices.Clone(l.days) }
func (l *Line) Months() []int   { return slices.Clone(l.months) }
func (l *Line) Weekdays() []int { return slices.Clone(l.weekdays) }

// MonthWeekdays returns the month-relative weekdays formatted as "5#2".
func (l *Line) MonthWeekdays() []string {
	if l.monthdays == nil {
		return nil
	}
	out := make([]string, 0, len(l.monthdays))
	for _, md := range l.monthdays {
		out = append(out, md.String())
	}
	return out
}

// Next implements cron.Schedule. It returns the zero time when nothing matches.
func (l *Line) Next(t time.Time) time.Time {
	nt, err := l.NextTime(t)
	if err != nil {
		return time.Time{}
	}
	return nt
}

// NextTime returns the first matching instant strictly after from.
func (l *Line) NextTime(from time.Time) (time.Time, error) {
	f := from.In(l.loc)
	t := f.Truncate(time.Second).Add(time.Second)
	maxYear := f.Year() + searchYears

	for {
		if t.Year() > maxYear {
			return time.Time{}, fmt.Errorf("%w: %q after %s", ErrNoOccurrence, l.original, from.Format(time.RFC3339))
		}
		if !l.dateMatch(t) {
			y, m, d := t.Date()
			t = time.Date(y, m, d+1, 0, 0, 0, 0, l.loc)
			continue
		}
		if !contains(l.hours, t.Hour()) {
			t = t.Add(time.Duration(60-t.Minute())*time.Minute - time.Duration(t.Second())*time.Second)
			continue
		}
		if !contains(l.minutes, t.Minute()) {
			t = t.Add(time.Duration(60-t.Second()) * time.Second)
			continue
		}
		if !slices.Contains(l.seconds, t.Second()) {
			t = t.Add(l.nextSecond(t.Second()))
			continue
		}
		return t, nil
	}
}

// PreviousTime returns the last matching instant strictly before from.
func (l *Line) PreviousTime(from time.Time) (time.Time, error) {
	f := from.In(l.loc)
	t := f.Truncate(time.Second)
	if t.Equal(f) {
		t = t.Add(-time.Second)
	}
	minYear := f.Year() - searchYears

	for {
		if t.Year() < minYear {
			return time.Time{}, fmt.Errorf("%w: %q before %s", ErrNoOccurrence, l.original, from.Format(time.RFC3339))
		}
		if !l.dateMatch(t) {
			y, m, d := t.Date()
			t = time.Date(y, m, d, 0, 0, 0, 0, l.loc).Add(-time.Second)
			continue
		}
		if !contains(l.hours, t.Hour()) {
			t = t.Add(-(time.Duration(t.Minute())*time.Minute + time.Duration(t.Second()+1)*time.Second))
			continue
		}
		if !contains(l.minutes, t.Minute()) {
			t = t.Add(-time.Duration(t.Second()+1) * time.Second)
			continue
		}
		if !slices.Contains(l.seconds, t.Second()) {
			t = t.Add(-l.prevSecond(t.Second()))
			continue
		}
		return t, nil
	}
}

// Matches reports whether t (to the second) is an instant of the line.
func (l *Line) Matches(t time.Time) bool {
	t = t.In(l.loc)
	return l.dateMatch(t) &&
		contains(l.hours, t.Hour()) &&
		contains(l.minutes, t.Minute()) &&
		slices.Contains(l.seconds, t.Second())
}

// String re-serializes the parsed fields. Parsing the result yields an equivalent line.
func (l *Line) String() string {
	parts := []string{
		formatSet(l.seconds),
		formatSet(l.minutes),
		formatSet(l.hours),
		formatSet(l.days),
		formatSet(l.months),
		l.formatWeekdays(),
	}
	if l.zone != "" {
		parts = append(parts, l.zone)
	}
	return strings.Join(parts, " ")
}

func (l *Line) nextSecond(sec int) time.Duration {
	for _, s := range l.seconds {
		if s > sec {
			return time.Duration(s-sec) * time.Second
		}
	}
	return time.Duration(60-sec+l.seconds[0]) * time.Second
}

func (l *Line) prevSecond(sec int) time.Duration {
	for i := len(l.seconds) - 1; i >= 0; i-- {
		if s := l.seconds[i]; s < sec {
			return time.Duration(sec-s) * time.Second
		}
	}
	return time.Duration(sec+60-l.seconds[len(l.seconds)-1]) * time.Second
}

func (l *Line) dateMatch(t time.Time) bool {
	if !l.dayMatch(t) || !contains(l.months, int(t.Month())) {
		return false
	}
	if l.weekdays != nil && l.monthdays != nil {
		return contains(l.weekdays, int(t.Weekday())) || l.monthdayMatch(t)
	}
	return contains(l.weekdays, int(t.Weekday())) && l.monthdayMatch(t)
}

func (l *Line) dayMatch(t time.Time) bool {
	if l.days == nil {
		return true
	}
	d := t.Day()
	last := daysIn(t.Year(), t.Month())
	for _, v := range l.days {
		if v == d || (v < 0 && last+v+1 == d) {
			return true
		}
	}
	return false
}

func (l *Line) monthdayMatch(t time.Time) bool {
	if l.monthdays == nil {
		return true
	}
	wd, d := int(t.Weekday()), t.Day()
	fromStart := (d-1)/7 + 1
	fromEnd := -((daysIn(t.Year(), t.Month())-d)/7 + 1)
	for _, md := range l.monthdays {
		if md.weekday == wd && (md.nth == fromStart || md.nth == fromEnd) {
			return true
		}
	}
	return false
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func contains(set []int, v int) bool {
	return set == nil || slices.Contains(set, v)
}

func formatSet(set []int) string {
	if set == nil {
		return "*"
	}
	parts := make([]string, len(set))
	for i, v := range set {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *Line) formatWeekdays() string {
	if l.weekdays == nil && l.monthdays == nil {
		return "*"
	}
	parts := make([]string, 0, len(l.weekdays)+len(l.monthdays))
	for _, v := range l.weekdays {
		parts = append(parts, strconv.Itoa(v))
	}
	parts = append(parts, l.MonthWeekdays()...)
	return strings.Join(parts, ",")
}
