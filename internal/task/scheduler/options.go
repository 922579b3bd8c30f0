package scheduler

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"schedkit/internal/task/timespec"
)

// JobOption tunes a job at scheduling time.
type JobOption func(*jobOptions)

type jobOptions struct {
	name     string
	tags     []string
	overlap  bool
	mutexes  []string
	timeout  time.Duration
	blocking bool

	times    int
	timesSet bool

	first boundOpt
	last  boundOpt

	spread time.Duration
}

// boundOpt is a first/last bound. Times given as strings are parsed in the
// scheduler's location when the job is built.
type boundOpt struct {
	at    time.Time
	in    time.Duration
	raw   string
	now   bool
	isSet bool
}

func (b boundOpt) resolve(now time.Time, loc *time.Location) (time.Time, error) {
	switch {
	case !b.isSet:
		return time.Time{}, nil
	case b.now:
		return now, nil
	case b.raw != "":
		return timespec.ParseTime(b.raw, loc)
	case !b.at.IsZero():
		return b.at, nil
	default:
		return now.Add(b.in), nil
	}
}

func defaultJobOptions() jobOptions {
	return jobOptions{overlap: true, times: -1}
}

func WithName(name string) JobOption {
	return func(o *jobOptions) { o.name = strings.TrimSpace(name) }
}

// WithTags adds tags. Blank and duplicate tags are dropped.
func WithTags(tags ...string) JobOption {
	return func(o *jobOptions) {
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t != "" && !slices.Contains(o.tags, t) {
				o.tags = append(o.tags, t)
			}
		}
	}
}

// WithOverlap controls whether a trigger may start while a previous
// execution of the same job is still running. Overlap is allowed by default.
func WithOverlap(allow bool) JobOption { return func(o *jobOptions) { o.overlap = allow } }

// WithMutex names mutexes to hold while the job runs, acquired in order.
func WithMutex(names ...string) JobOption {
	return func(o *jobOptions) {
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" && !slices.Contains(o.mutexes, n) {
				o.mutexes = append(o.mutexes, n)
			}
		}
	}
}

func WithTimeout(d time.Duration) JobOption { return func(o *jobOptions) { o.timeout = d } }

// Blocking runs the job inline on the scheduler loop instead of the pool.
func Blocking() JobOption { return func(o *jobOptions) { o.blocking = true } }

// WithTimes caps how many times a repeating job fires.
func WithTimes(n int) JobOption {
	return func(o *jobOptions) {
		o.times = n
		o.timesSet = true
	}
}

func FirstAt(t time.Time) JobOption {
	return func(o *jobOptions) { o.first = boundOpt{at: t, isSet: true} }
}

func FirstIn(d time.Duration) JobOption {
	return func(o *jobOptions) { o.first = boundOpt{in: d, isSet: true} }
}

// FirstNow makes a repeating job fire on the next tick.
func FirstNow() JobOption {
	return func(o *jobOptions) { o.first = boundOpt{now: true, isSet: true} }
}

func LastAt(t time.Time) JobOption {
	return func(o *jobOptions) { o.last = boundOpt{at: t, isSet: true} }
}

func LastIn(d time.Duration) JobOption {
	return func(o *jobOptions) { o.last = boundOpt{in: d, isSet: true} }
}

// WithStartupSpread delays the first run of an Every or Interval job by a
// random amount up to max (capped at the job's own period), so jobs
// registered together do not all fire together.
func WithStartupSpread(max time.Duration) JobOption {
	return func(o *jobOptions) { o.spread = max }
}

// ParseOptions turns a loosely typed option map (decoded config, for
// instance) into job options. Recognized keys: name, tag, tags, overlap,
// allow_overlap, mutex, timeout, blocking, times, first, first_at,
// first_in, last, last_at, last_in. Unknown keys are an error.
//
// Durations may be strings ("10m", "1w2d"), numbers of seconds or
// time.Duration values. Times may be strings or time.Time values. "first"
// and "last" accept either a time or a duration, and "first" also "now".
func ParseOptions(m map[string]any) ([]JobOption, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []JobOption
	for _, key := range keys {
		opt, err := parseOption(key, m[key])
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidOption, key, err)
		}
		out = append(out, opt)
	}
	return out, nil
}

func parseOption(key string, v any) (JobOption, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "name":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return WithName(s), nil
	case "tag", "tags":
		tags, err := stringList(v)
		if err != nil {
			return nil, err
		}
		return WithTags(tags...), nil
	case "overlap", "allow_overlap":
		b, err := boolValue(v)
		if err != nil {
			return nil, err
		}
		return WithOverlap(b), nil
	case "mutex":
		names, err := stringList(v)
		if err != nil {
			return nil, err
		}
		return WithMutex(names...), nil
	case "timeout":
		d, err := durationValue(v)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, fmt.Errorf("negative timeout %s", d)
		}
		return WithTimeout(d), nil
	case "blocking":
		b, err := boolValue(v)
		if err != nil {
			return nil, err
		}
		return func(o *jobOptions) { o.blocking = b }, nil
	case "times":
		n, err := intValue(v)
		if err != nil {
			return nil, err
		}
		return WithTimes(n), nil
	case "first":
		if s, ok := v.(string); ok && isNow(s) {
			return FirstNow(), nil
		}
		b, err := boundValue(v)
		if err != nil {
			return nil, err
		}
		return func(o *jobOptions) { o.first = b }, nil
	case "first_at", "last_at":
		b, err := timeBound(v)
		if err != nil {
			return nil, err
		}
		if k == "first_at" {
			return func(o *jobOptions) { o.first = b }, nil
		}
		return func(o *jobOptions) { o.last = b }, nil
	case "first_in", "last_in":
		d, err := durationValue(v)
		if err != nil {
			return nil, err
		}
		if k == "first_in" {
			return FirstIn(d), nil
		}
		return LastIn(d), nil
	case "last":
		b, err := boundValue(v)
		if err != nil {
			return nil, err
		}
		return func(o *jobOptions) { o.last = b }, nil
	default:
		return nil, fmt.Errorf("unknown option")
	}
}

func isNow(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "now", "immediately":
		return true
	}
	return false
}

// boundValue accepts a time or a duration.
func boundValue(v any) (boundOpt, error) {
	if s, ok := v.(string); ok {
		if d, err := timespec.ParseDuration(s); err == nil {
			return boundOpt{in: d, isSet: true}, nil
		}
	}
	if d, ok := v.(time.Duration); ok {
		return boundOpt{in: d, isSet: true}, nil
	}
	return timeBound(v)
}

func timeBound(v any) (boundOpt, error) {
	switch x := v.(type) {
	case time.Time:
		return boundOpt{at: x, isSet: true}, nil
	case string:
		// syntax check now, zone resolution when the job is built
		if _, err := timespec.ParseTime(x, time.UTC); err != nil {
			return boundOpt{}, err
		}
		return boundOpt{raw: strings.TrimSpace(x), isSet: true}, nil
	default:
		return boundOpt{}, fmt.Errorf("want time, got %T", v)
	}
}

func durationValue(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		return timespec.ParseDuration(x)
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("want duration, got %T", v)
	}
}

func boolValue(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	default:
		return false, fmt.Errorf("want bool, got %T", v)
	}
}

func intValue(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("want integer, got %v", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

func stringList(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return strings.FieldsFunc(x, func(r rune) bool { return r == ',' }), nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("want strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want string or list, got %T", v)
	}
}
