package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/task/cronline"
	"schedkit/internal/task/timespec"
	logx "schedkit/pkg/logx"
)

// At schedules h to run once at t.
func (s *Scheduler) At(t time.Time, h Handler, opts ...JobOption) (*Job, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("%w: at time required", ErrInvalidOption)
	}
	return s.newJob(KindAt, t.Format(time.RFC3339), h, opts, func(j *Job, now time.Time) error {
		j.at = t
		return nil
	})
}

// In schedules h to run once, d from now.
func (s *Scheduler) In(d time.Duration, h Handler, opts ...JobOption) (*Job, error) {
	return s.newJob(KindIn, timespec.FormatDuration(d), h, opts, func(j *Job, now time.Time) error {
		j.at = now.Add(d)
		return nil
	})
}

// Every schedules h every d, anchored on the previous slot so trigger lag
// does not shift the cadence.
func (s *Scheduler) Every(d time.Duration, h Handler, opts ...JobOption) (*Job, error) {
	return s.newRepeat(KindEvery, d, h, opts)
}

// Interval schedules h with a gap of d between the end of a run and the
// start of the next.
func (s *Scheduler) Interval(d time.Duration, h Handler, opts ...JobOption) (*Job, error) {
	return s.newRepeat(KindInterval, d, h, opts)
}

// Cron schedules h on a cron line, e.g. "*/15 * * * *" or
// "0 30 9 * * mon-fri Europe/Paris".
func (s *Scheduler) Cron(expr string, h Handler, opts ...JobOption) (*Job, error) {
	line, err := s.parser.Cron().Parse(expr)
	if err != nil {
		return nil, err
	}
	return s.cronJob(line, expr, h, opts)
}

// Schedule picks the kind from the string: a cron line makes a Cron job, a
// time an At job and a duration an In job. Durations written as "every:",
// "interval:" or "@every" repeat.
func (s *Scheduler) Schedule(spec string, h Handler, opts ...JobOption) (*Job, error) {
	ps, err := s.parser.Parse(spec)
	if err != nil {
		return nil, err
	}
	switch ps.Kind {
	case timespec.SpecCron:
		return s.cronJob(ps.Cron, spec, h, opts)
	case timespec.SpecTime:
		return s.At(ps.At, h, opts...)
	default:
		if ps.Interval {
			return s.Interval(ps.Duration, h, opts...)
		}
		if ps.Repeat {
			return s.Every(ps.Duration, h, opts...)
		}
		return s.In(ps.Duration, h, opts...)
	}
}

// Repeat is Schedule for repeating jobs: a cron line makes a Cron job and a
// duration an Every job (Interval with the "interval:" prefix).
func (s *Scheduler) Repeat(spec string, h Handler, opts ...JobOption) (*Job, error) {
	ps, err := s.parser.Parse(spec)
	if err != nil {
		return nil, err
	}
	switch ps.Kind {
	case timespec.SpecCron:
		return s.cronJob(ps.Cron, spec, h, opts)
	case timespec.SpecDuration:
		if ps.Interval {
			return s.Interval(ps.Duration, h, opts...)
		}
		return s.Every(ps.Duration, h, opts...)
	default:
		return nil, fmt.Errorf("%w %q: a point in time does not repeat", timespec.ErrInvalidSchedule, spec)
	}
}

// Daily runs h every day at HH:MM in the scheduler's location.
func (s *Scheduler) Daily(atHHMM string, h Handler, opts ...JobOption) (*Job, error) {
	hh, mm, err := parseHHMM(atHHMM)
	if err != nil {
		return nil, err
	}
	return s.Cron(fmt.Sprintf("%d %d * * *", mm, hh), h, opts...)
}

// Weekly runs h every week on weekday at HH:MM in the scheduler's location.
func (s *Scheduler) Weekly(weekday time.Weekday, atHHMM string, h Handler, opts ...JobOption) (*Job, error) {
	hh, mm, err := parseHHMM(atHHMM)
	if err != nil {
		return nil, err
	}
	return s.Cron(fmt.Sprintf("%d %d * * %d", mm, hh, int(weekday)), h, opts...)
}

// Job returns a live job by id.
func (s *Scheduler) Job(id string) (*Job, bool) {
	j, ok := s.store.Get(id)
	if !ok || j.Unscheduled() {
		return nil, false
	}
	return j, true
}

// JobFilter selects jobs in Jobs.
type JobFilter func(*Job) bool

func Tagged(tag string) JobFilter { return func(j *Job) bool { return j.HasTag(tag) } }

func OfKind(k Kind) JobFilter { return func(j *Job) bool { return j.kind == k } }

func Named(name string) JobFilter { return func(j *Job) bool { return j.Name() == name } }

// Jobs returns the live jobs matching every filter, in scheduling order.
func (s *Scheduler) Jobs(filters ...JobFilter) []*Job {
	var out []*Job
outer:
	for _, j := range s.store.Snapshot() {
		if j.Unscheduled() {
			continue
		}
		for _, f := range filters {
			if f != nil && !f(j) {
				continue outer
			}
		}
		out = append(out, j)
	}
	return out
}

// RunningJobs returns the jobs with at least one execution in flight.
func (s *Scheduler) RunningJobs() []*Job {
	return s.Jobs(func(j *Job) bool { return j.Running() })
}

// Unschedule marks the job terminal and drops it from the store.
func (s *Scheduler) Unschedule(id string) error {
	j, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j.Unschedule()
	if s.store.Remove(id) != nil {
		s.removed(j, "unscheduled")
		s.metrics.SetJobs(s.store.Len())
	}
	return nil
}

func (s *Scheduler) newRepeat(kind Kind, d time.Duration, h Handler, opts []JobOption) (*Job, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: %s period must be > 0, got %s", timespec.ErrInvalidDuration, kind, d)
	}
	return s.newJob(kind, timespec.FormatDuration(d), h, opts, func(j *Job, now time.Time) error {
		j.every = d
		return nil
	})
}

func (s *Scheduler) cronJob(line *cronline.Line, original string, h Handler, opts []JobOption) (*Job, error) {
	return s.newJob(KindCron, strings.TrimSpace(original), h, opts, func(j *Job, now time.Time) error {
		j.cron = line
		return nil
	})
}

func (s *Scheduler) newJob(kind Kind, original string, h Handler, opts []JobOption, setup func(j *Job, now time.Time) error) (*Job, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	o := defaultJobOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %s", ErrInvalidOption, o.timeout)
	}

	now := s.clock.Now()
	j := &Job{
		id:        fmt.Sprintf("%s_%d_%d", kind, now.UnixMilli(), s.seq.Add(1)),
		name:      o.name,
		kind:      kind,
		original:  original,
		handler:   h,
		next:      policyFor(kind),
		sched:     s,
		createdAt: now,
		tags:      o.tags,
		mutexes:   o.mutexes,
		timeout:   o.timeout,
		overlap:   o.overlap,
		blocking:  o.blocking,
		times:     -1,
	}
	if err := setup(j, now); err != nil {
		return nil, err
	}

	if kind.Repeating() {
		if o.timesSet {
			if o.times < 1 {
				return nil, fmt.Errorf("%w: times must be >= 1, got %d", ErrInvalidOption, o.times)
			}
			j.times = o.times
		}
		first, err := o.first.resolve(now, s.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: first: %w", ErrInvalidOption, err)
		}
		last, err := o.last.resolve(now, s.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: last: %w", ErrInvalidOption, err)
		}
		if !last.IsZero() && last.Before(now) {
			return nil, fmt.Errorf("%w: last bound %s is in the past", ErrInvalidOption, last.Format(time.RFC3339))
		}
		j.firstAt, j.lastAt = first, last
		if o.spread > 0 && first.IsZero() && kind != KindCron {
			j.firstAt = spreadFirst(now, j.every, o.spread, j.Name())
		}
	}

	j.nextTime = j.next(j, time.Time{}, now)
	if j.nextTime.IsZero() {
		return nil, fmt.Errorf("%w: %s %q", ErrNoNextTime, kind, original)
	}
	s.store.Add(j)
	s.metrics.SetJobs(s.store.Len())
	s.publish(eventbus.JobScheduled, s.event(j, time.Time{}, ""))

	args := []logx.Field{
		logx.String("job", j.Name()),
		logx.String("id", j.id),
		logx.String("kind", kind.String()),
		logx.String("schedule", original),
		logx.Time("next", j.nextTime),
	}
	if preview := s.previewNextRuns(j, 4); preview != "" {
		args = append(args, logx.String("upcoming", preview))
	}
	s.log.Debug("job scheduled", args...)
	return j, nil
}

// previewNextRuns lists upcoming slots of a cron job for debug logs.
func (s *Scheduler) previewNextRuns(j *Job, n int) string {
	if j.cron == nil || n <= 0 || !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	t := j.nextTime
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
		nt, err := j.cron.NextTime(t)
		if err != nil {
			break
		}
		t = nt
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrInvalidOption, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidOption, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidOption, s)
	}
	return h, m, nil
}
