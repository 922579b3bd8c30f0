package cronline

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Parser builds lines sharing a default zone and a frequency cache.
// A Parser is safe for concurrent use.
type Parser struct {
	loc   *time.Location
	cache *freqCache
}

type ParserOption func(*Parser)

// WithLocation sets the zone used by lines that carry no explicit zone.
func WithLocation(loc *time.Location) ParserOption {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{loc: time.Local, cache: newFreqCache()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Parse parses text with a throwaway Parser using the local zone.
func Parse(text string) (*Line, error) { return NewParser().Parse(text) }

// MustParse is like Parse but panics on error. Meant for package-level vars and tests.
func MustParse(text string) *Line {
	l, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return l
}

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

func (p *Parser) Parse(text string) (*Line, error) {
	src := strings.TrimSpace(text)
	if src == "" {
		return nil, lineError(text, "empty line")
	}

	l := &Line{original: text, loc: p.loc, cache: p.cache}

	fields := strings.Fields(src)
	if tz, ok := cutZonePrefix(fields[0]); ok {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, lineError(text, "unknown zone %q", tz)
		}
		l.zone, l.loc = tz, loc
		fields = fields[1:]
		if len(fields) == 0 {
			return nil, lineError(text, "missing fields after zone")
		}
	}

	if strings.HasPrefix(fields[0], "@") {
		expanded, ok := descriptors[strings.ToLower(fields[0])]
		if !ok {
			return nil, lineError(text, "unknown descriptor %q", fields[0])
		}
		fields = append(strings.Fields(expanded), fields[1:]...)
	}

	if n := len(fields); n == 7 || (n == 6 && l.zone == "" && looksLikeZone(fields[n-1])) {
		if l.zone != "" {
			return nil, lineError(text, "zone given twice")
		}
		tz := fields[n-1]
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, lineError(text, "unknown zone %q", tz)
		}
		l.zone, l.loc = tz, loc
		fields = fields[:n-1]
	}

	switch len(fields) {
	case 5:
		fields = append([]string{"0"}, fields...)
	case 6:
	default:
		return nil, lineError(text, "expected 5 or 6 fields, got %d", len(fields))
	}

	var err error
	if l.seconds, err = parseField(fields[0], secondField); err != nil {
		return nil, fieldError(text, secondField.name, err)
	}
	if l.seconds == nil {
		l.seconds = fullRange(secondField)
	}
	if l.minutes, err = parseField(fields[1], minuteField); err != nil {
		return nil, fieldError(text, minuteField.name, err)
	}
	if l.hours, err = parseField(fields[2], hourField); err != nil {
		return nil, fieldError(text, hourField.name, err)
	}
	if l.days, err = parseField(fields[3], dayField); err != nil {
		return nil, fieldError(text, dayField.name, err)
	}
	if l.months, err = parseField(fields[4], monthField); err != nil {
		return nil, fieldError(text, monthField.name, err)
	}
	if l.weekdays, l.monthdays, err = parseWeekdays(fields[5]); err != nil {
		return nil, fieldError(text, weekdayField.name, err)
	}
	return l, nil
}

func fieldError(line, field string, err error) error {
	return &ParseError{Line: line, Field: field, Reason: err.Error()}
}

func cutZonePrefix(f string) (string, bool) {
	for _, prefix := range []string{"CRON_TZ=", "TZ="} {
		if len(f) > len(prefix) && strings.EqualFold(f[:len(prefix)], prefix) {
			return f[len(prefix):], true
		}
	}
	return "", false
}

// looksLikeZone decides whether a sixth field is a zone rather than a weekday list.
func looksLikeZone(f string) bool {
	if strings.Contains(f, "/") && !strings.ContainsAny(f, "0123456789*") {
		return true
	}
	switch strings.ToUpper(f) {
	case "UTC", "GMT", "LOCAL":
		return true
	}
	if strings.ContainsAny(f, "0123456789*,#-?") {
		return false
	}
	if _, ok := weekdayNames[strings.ToLower(f)]; ok {
		return false
	}
	_, err := time.LoadLocation(f)
	return err == nil
}

type fieldSpec struct {
	name     string
	min, max int // accepted literals
	lo, hi   int // what '*' expands to
	alias    int // literal that normalizes to 0 (24h, weekday 7); 0 for none
	names    map[string]int
}

var (
	monthNames = map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}
	weekdayNames = map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}

	secondField  = fieldSpec{name: "second", min: 0, max: 59, lo: 0, hi: 59}
	minuteField  = fieldSpec{name: "minute", min: 0, max: 59, lo: 0, hi: 59}
	hourField    = fieldSpec{name: "hour", min: 0, max: 24, lo: 0, hi: 23, alias: 24}
	dayField     = fieldSpec{name: "day", min: -31, max: 31, lo: 1, hi: 31}
	monthField   = fieldSpec{name: "month", min: 1, max: 12, lo: 1, hi: 12, names: monthNames}
	weekdayField = fieldSpec{name: "weekday", min: 0, max: 7, lo: 0, hi: 6, alias: 7, names: weekdayNames}
)

var (
	reRange = regexp.MustCompile(`^(\*|-?\d{1,2})(?:-(-?\d{1,2}))?(?:/(\d{1,3}))?$`)
	reName  = regexp.MustCompile(`[a-z]+`)
)

func fullRange(spec fieldSpec) []int {
	out := make([]int, 0, spec.hi-spec.lo+1)
	for v := spec.lo; v <= spec.hi; v++ {
		out = append(out, v)
	}
	return out
}

// parseField returns nil for an unconstrained field.
func parseField(item string, spec fieldSpec) ([]int, error) {
	if item == "*" || (item == "?" && spec.name == dayField.name) {
		return nil, nil
	}
	item = strings.ToLower(item)

	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(item, ",") {
		var vals []int
		if spec.name == dayField.name && part == "l" {
			vals = []int{-1}
		} else {
			expr, err := replaceNames(part, spec)
			if err != nil {
				return nil, err
			}
			if vals, err = parseRange(expr, spec); err != nil {
				return nil, err
			}
		}
		for _, v := range vals {
			if seen[v] {
				return nil, fmt.Errorf("found duplicates in %q", item)
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, nil
}

func parseWeekdays(item string) ([]int, []monthday, error) {
	if item == "*" || item == "?" {
		return nil, nil, nil
	}
	item = strings.ToLower(item)

	var (
		weekdays  []int
		monthdays []monthday
		seen      = make(map[int]bool)
		seenMD    = make(map[monthday]bool)
	)
	for _, part := range strings.Split(item, ",") {
		expr, mod, hasMod := strings.Cut(part, "#")
		nth := 0
		switch {
		case hasMod:
			n, err := strconv.Atoi(mod)
			if err != nil || n == 0 || n < -5 || n > 5 {
				return nil, nil, fmt.Errorf("invalid weekday modifier %q", "#"+mod)
			}
			nth = n
		case len(expr) > 1 && strings.HasSuffix(expr, "l"):
			expr, nth = expr[:len(expr)-1], -1
		}

		expr, err := replaceNames(expr, weekdayField)
		if err != nil {
			return nil, nil, err
		}
		vals, err := parseRange(expr, weekdayField)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range vals {
			if nth == 0 {
				if seen[v] {
					return nil, nil, fmt.Errorf("found duplicates in %q", item)
				}
				seen[v] = true
				weekdays = append(weekdays, v)
				continue
			}
			md := monthday{weekday: v, nth: nth}
			if seenMD[md] {
				return nil, nil, fmt.Errorf("found duplicates in %q", item)
			}
			seenMD[md] = true
			monthdays = append(monthdays, md)
		}
	}
	sort.Ints(weekdays)
	sort.Slice(monthdays, func(i, j int) bool {
		if monthdays[i].weekday != monthdays[j].weekday {
			return monthdays[i].weekday < monthdays[j].weekday
		}
		return monthdays[i].nth < monthdays[j].nth
	})
	return weekdays, monthdays, nil
}

func replaceNames(expr string, spec fieldSpec) (string, error) {
	if !reName.MatchString(expr) {
		return expr, nil
	}
	if spec.names == nil {
		return "", fmt.Errorf("cannot parse %q", expr)
	}
	var bad error
	out := reName.ReplaceAllStringFunc(expr, func(name string) string {
		v, ok := spec.names[name]
		if !ok {
			if bad == nil {
				bad = fmt.Errorf("unknown %s name %q", spec.name, name)
			}
			return name
		}
		return strconv.Itoa(v)
	})
	return out, bad
}

var errZeroStep = errors.New("increment must be greater than zero")

func parseRange(item string, spec fieldSpec) ([]int, error) {
	if strings.HasPrefix(item, "/") {
		item = "*" + item
	}
	m := reRange.FindStringSubmatch(item)
	if m == nil {
		return nil, fmt.Errorf("cannot parse %q", item)
	}

	step := 1
	if m[3] != "" {
		step, _ = strconv.Atoi(m[3])
		if step == 0 {
			return nil, errZeroStep
		}
	}

	var start, end int
	if m[1] == "*" {
		if m[2] != "" {
			return nil, fmt.Errorf("cannot parse %q", item)
		}
		start, end = spec.lo, spec.hi
	} else {
		start, _ = strconv.Atoi(m[1])
		end = start
		switch {
		case m[2] != "":
			end, _ = strconv.Atoi(m[2])
		case m[3] != "" && start < 0:
			end = -1
		case m[3] != "":
			end = spec.hi
		}
	}

	if (start < 0 && end > 0) || (start > 0 && end < 0) {
		return nil, fmt.Errorf("%q mixes positive and negative values", item)
	}
	if start < 0 && end < 0 && start > end {
		return nil, fmt.Errorf("%q is a descending negative range", item)
	}
	for _, v := range []int{start, end} {
		if v < spec.min || v > spec.max {
			return nil, fmt.Errorf("%d is not in range %d..%d", v, spec.min, spec.max)
		}
	}
	if spec.name == dayField.name && (start == 0 || end == 0) {
		return nil, fmt.Errorf("day 0 is not allowed")
	}

	var seq []int
	if start <= end {
		for v := start; v <= end; v++ {
			seq = append(seq, v)
		}
	} else {
		// wrapping range, e.g. 22-2 for hours or fri-mon for weekdays
		top := max(spec.hi, start)
		for v := start; v <= top; v++ {
			seq = append(seq, v)
		}
		for v := spec.lo; v <= end; v++ {
			seq = append(seq, v)
		}
	}

	var out []int
	seen := make(map[int]bool)
	for i := 0; i < len(seq); i += step {
		v := seq[i]
		if spec.alias != 0 && v == spec.alias {
			v = 0
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}
