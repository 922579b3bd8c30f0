package timespec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schedkit/internal/task/cronline"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecDuration
	SpecTime
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecDuration:
		return "duration"
	case SpecTime:
		return "time"
	default:
		return "unknown"
	}
}

// Spec represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 0 9 * * mon-fri Europe/Paris", "@hourly"
//   - Duration: "55m", "1w2d", "1.5h", "500ms", "@every 55m"
//   - Duration HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Time: "2024-03-01 12:00", "2024-03-01T12:00:00Z", "2024-03-01 12:00 Asia/Tokyo"
//
// Optional prefixes force a kind:
//   - "cron:"
//   - "in:", "every:" or "interval:" (the last two set Repeat, "interval:" also Interval)
//   - "at:"
type Spec struct {
	Kind     SpecKind
	Cron     *cronline.Line
	Duration time.Duration
	At       time.Time
	Interval bool
	// Repeat is set when the string itself asks for repetition
	// ("every:", "interval:", "@every").
	Repeat bool
	Source string // "cron" | "every" | "duration" | "hhmm" | "time"
	Raw    string
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Parser turns schedule strings into Specs. Cron lines share the parser's
// frequency cache; times without a zone are read in its location.
type Parser struct {
	cron *cronline.Parser
	loc  *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{cron: cronline.NewParser(cronline.WithLocation(loc)), loc: loc}
}

// Cron exposes the cron parser so callers can parse lines directly.
func (p *Parser) Cron() *cronline.Parser { return p.cron }

func (p *Parser) Location() *time.Location { return p.loc }

// ParseSchedule parses raw with a throwaway local-zone Parser.
func ParseSchedule(raw string) (Spec, error) { return NewParser(nil).Parse(raw) }

func (p *Parser) Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: schedule required", ErrInvalidSchedule)
	}

	// Prefixes (explicit)
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		rest = strings.TrimSpace(rest)
		switch strings.ToLower(prefix) {
		case "cron":
			return p.parseCron(raw, rest)
		case "in":
			return p.parseDuration(raw, rest, false, false)
		case "every":
			return p.parseDuration(raw, rest, true, false)
		case "interval":
			return p.parseDuration(raw, rest, true, true)
		case "at":
			return p.parseTime(raw, rest)
		}
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "@every ") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return Spec{}, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, raw, err)
		}
		every, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return Spec{}, fmt.Errorf("%w %q", ErrInvalidSchedule, raw)
		}
		return Spec{Kind: SpecDuration, Duration: every.Delay, Repeat: true, Source: "every", Raw: raw}, nil
	}
	if strings.HasPrefix(s, "@") {
		return p.parseCron(raw, s)
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: SpecDuration, Duration: d, Source: "hhmm", Raw: raw}, nil
	}
	if d, err := ParseDuration(s); err == nil {
		return Spec{Kind: SpecDuration, Duration: d, Source: "duration", Raw: raw}, nil
	}
	if t, err := ParseTime(s, p.loc); err == nil {
		return Spec{Kind: SpecTime, At: t, Source: "time", Raw: raw}, nil
	}
	if strings.ContainsAny(s, " \t") {
		return p.parseCron(raw, s)
	}

	return Spec{}, fmt.Errorf(
		"%w %q (use cron like '*/5 * * * *', a duration like '55m' or '1w2d', or a time like '2024-03-01 12:00')",
		ErrInvalidSchedule, raw,
	)
}

func (p *Parser) parseCron(raw, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("%w: cron expression required", ErrInvalidSchedule)
	}
	l, err := p.cron.Parse(expr)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Kind: SpecCron, Cron: l, Source: "cron", Raw: raw}, nil
}

func (p *Parser) parseDuration(raw, v string, repeat, interval bool) (Spec, error) {
	if v == "" {
		return Spec{}, fmt.Errorf("%w: duration required", ErrInvalidSchedule)
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: SpecDuration, Duration: d, Repeat: repeat, Interval: interval, Source: "hhmm", Raw: raw}, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Kind: SpecDuration, Duration: d, Repeat: repeat, Interval: interval, Source: "duration", Raw: raw}, nil
}

func (p *Parser) parseTime(raw, v string) (Spec, error) {
	t, err := ParseTime(v, p.loc)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Kind: SpecTime, At: t, Source: "time", Raw: raw}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("%w: invalid HH:MM %q", ErrInvalidDuration, v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("%w: invalid minutes in %q", ErrInvalidDuration, v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be > 0", ErrInvalidDuration)
	}
	return d, nil
}
