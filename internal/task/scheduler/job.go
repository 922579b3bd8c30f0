package scheduler

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"schedkit/internal/task/cronline"
	"schedkit/internal/task/engine"
)

// Kind tags the temporal policy of a job.
type Kind int

const (
	KindAt Kind = iota
	KindIn
	KindEvery
	KindInterval
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindAt:
		return "at"
	case KindIn:
		return "in"
	case KindEvery:
		return "every"
	case KindInterval:
		return "interval"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Repeating reports whether jobs of this kind fire more than once.
func (k Kind) Repeating() bool { return k >= KindEvery }

// Handler is the work a job does. ctx is cancelled with ErrJobKilled when
// the job is killed, and carries the job's timeout as a deadline.
type Handler func(ctx context.Context, job *Job, at time.Time) error

// policy computes the next trigger time. trigger is zero for the initial
// computation. A zero result means no further trigger.
type policy func(j *Job, trigger, now time.Time) time.Time

// Job is one schedulable unit of work.
type Job struct {
	id        string
	name      string
	kind      Kind
	original  string
	handler   Handler
	next      policy
	sched     *Scheduler
	createdAt time.Time

	// temporal parameters, fixed at construction
	at       time.Time
	every    time.Duration
	cron     *cronline.Line
	firstAt  time.Time
	lastAt   time.Time
	tags     []string
	mutexes  []string
	timeout  time.Duration
	overlap  bool
	blocking bool

	mu            sync.Mutex
	nextTime      time.Time
	previousTime  time.Time
	lastTriggered time.Time
	times         int // -1 when unbounded
	count         int
	runs          int
	failures      int
	lastError     string
	lastWorkTime  time.Duration
	meanWorkTime  time.Duration
	pausedAt      time.Time
	unscheduledAt time.Time
	execSeq       uint64
	executions    map[uint64]context.CancelCauseFunc
	inFlight      int // dispatched and not done yet, queued ones included

	lmu    sync.RWMutex
	locals map[string]any
}

func (j *Job) ID() string           { return j.id }
func (j *Job) Kind() Kind           { return j.kind }
func (j *Job) Original() string     { return j.original }
func (j *Job) CreatedAt() time.Time { return j.createdAt }
func (j *Job) Tags() []string       { return slices.Clone(j.tags) }
func (j *Job) Mutexes() []string    { return slices.Clone(j.mutexes) }
func (j *Job) Timeout() time.Duration {
	return j.timeout
}
func (j *Job) AllowOverlap() bool { return j.overlap }
func (j *Job) Blocking() bool     { return j.blocking }
func (j *Job) FirstAt() time.Time { return j.firstAt }
func (j *Job) LastAt() time.Time  { return j.lastAt }

// Cron returns the job's cron line, nil unless it is a cron job.
func (j *Job) Cron() *cronline.Line { return j.cron }

// Frequency is the nominal period: the duration of Every and Interval jobs,
// the cron line's frequency for cron jobs and 0 for one-time jobs.
func (j *Job) Frequency() time.Duration {
	switch j.kind {
	case KindEvery, KindInterval:
		return j.every
	case KindCron:
		return j.cron.Frequency()
	default:
		return 0
	}
}

// Name defaults to the id.
func (j *Job) Name() string {
	if j.name != "" {
		return j.name
	}
	return j.id
}

func (j *Job) HasTag(tag string) bool { return slices.Contains(j.tags, tag) }

// NextTime is the zero time when the job will not trigger again.
func (j *Job) NextTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextTime
}

// PreviousTime is the scheduled slot of the latest trigger.
func (j *Job) PreviousTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.previousTime
}

// LastTime is when the job was last dispatched.
func (j *Job) LastTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastTriggered
}

// Count is the number of dispatched triggers.
func (j *Job) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Times is the number of triggers left, -1 when unbounded.
func (j *Job) Times() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.times
}

func (j *Job) LastWorkTime() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastWorkTime
}

func (j *Job) MeanWorkTime() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.meanWorkTime
}

func (j *Job) Running() bool { return j.RunningCount() > 0 }

func (j *Job) RunningCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.executions)
}

func (j *Job) Unscheduled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.unscheduledAt.IsZero()
}

// Unschedule marks the job terminal. It stops triggering at once and is
// removed from the store on the next prune. Running executions finish.
func (j *Job) Unschedule() {
	j.mu.Lock()
	if j.unscheduledAt.IsZero() {
		j.unscheduledAt = j.sched.clock.Now()
	}
	j.mu.Unlock()
}

// Pause freezes a repeating job's schedule until Resume.
func (j *Job) Pause() error {
	if !j.kind.Repeating() {
		return ErrNotRepeating
	}
	j.mu.Lock()
	if j.pausedAt.IsZero() {
		j.pausedAt = j.sched.clock.Now()
	}
	j.mu.Unlock()
	return nil
}

// Resume unfreezes the schedule. A slot that came due while paused fires on
// the next tick.
func (j *Job) Resume() error {
	if !j.kind.Repeating() {
		return ErrNotRepeating
	}
	j.mu.Lock()
	j.pausedAt = time.Time{}
	j.mu.Unlock()
	return nil
}

func (j *Job) Paused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.pausedAt.IsZero()
}

// Kill cancels every running execution of the job with ErrJobKilled.
// Handlers that never look at their context run to completion anyway.
func (j *Job) Kill() int {
	j.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(j.executions))
	for _, c := range j.executions {
		cancels = append(cancels, c)
	}
	j.mu.Unlock()
	for _, c := range cancels {
		c(ErrJobKilled)
	}
	return len(cancels)
}

// TriggerOffSchedule fires the job now without touching its schedule. The
// overlap policy and pre-trigger hook still apply.
func (j *Job) TriggerOffSchedule(ctx context.Context) error {
	return j.sched.fire(ctx, j, j.sched.clock.Now(), false)
}

// ---- locals ----

func (j *Job) Get(key string) (any, bool) {
	j.lmu.RLock()
	defer j.lmu.RUnlock()
	v, ok := j.locals[key]
	return v, ok
}

func (j *Job) Set(key string, v any) {
	j.lmu.Lock()
	if j.locals == nil {
		j.locals = make(map[string]any)
	}
	j.locals[key] = v
	j.lmu.Unlock()
}

func (j *Job) Has(key string) bool {
	_, ok := j.Get(key)
	return ok
}

func (j *Job) Keys() []string {
	j.lmu.RLock()
	keys := make([]string, 0, len(j.locals))
	for k := range j.locals {
		keys = append(keys, k)
	}
	j.lmu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Locals returns a copy of the job's local storage.
func (j *Job) Locals() map[string]any {
	j.lmu.RLock()
	defer j.lmu.RUnlock()
	return maps.Clone(j.locals)
}

// ---- triggering ----

// trigger advances the schedule and dispatches. It is the loop's entry point.
func (j *Job) trigger(ctx context.Context, now time.Time) {
	j.mu.Lock()
	if !j.unscheduledAt.IsZero() {
		j.mu.Unlock()
		return
	}
	if j.nextTime.IsZero() || j.nextTime.After(now) {
		// advanced by a concurrent tick
		j.mu.Unlock()
		return
	}
	if j.kind.Repeating() {
		if !j.pausedAt.IsZero() {
			j.mu.Unlock()
			return
		}
		if j.kind == KindInterval && j.inFlight > 0 {
			// spacing counts from completion; done re-arms the job
			j.mu.Unlock()
			return
		}
		if j.times == 0 || (!j.lastAt.IsZero() && !now.Before(j.lastAt)) {
			j.nextTime = time.Time{}
			j.mu.Unlock()
			return
		}
	}
	j.previousTime = j.nextTime
	j.nextTime = j.next(j, now, now)
	j.mu.Unlock()

	_ = j.sched.fire(ctx, j, now, true)
}

// reserve claims an in-flight slot. It fails when overlap is disallowed and
// an earlier dispatch is still queued or running.
func (j *Job) reserve() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.overlap && j.inFlight > 0 {
		return false
	}
	j.inFlight++
	return true
}

func (j *Job) release() {
	j.mu.Lock()
	j.releaseLocked()
	j.mu.Unlock()
}

func (j *Job) releaseLocked() {
	if j.inFlight > 0 {
		j.inFlight--
	}
}

// admit books a dispatch: count, last trigger time and the times countdown.
func (j *Job) admit(at time.Time, scheduled bool) {
	j.mu.Lock()
	j.count++
	j.lastTriggered = at
	if scheduled && j.times > 0 {
		j.times--
		if j.times == 0 {
			j.nextTime = time.Time{}
		}
	}
	j.mu.Unlock()
}

func (j *Job) stale() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.unscheduledAt.IsZero()
}

// terminal reports a job the store may drop.
func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextTime.IsZero() || !j.unscheduledAt.IsZero()
}

func (j *Job) begin(cancel context.CancelCauseFunc) func() {
	j.mu.Lock()
	j.execSeq++
	id := j.execSeq
	if j.executions == nil {
		j.executions = make(map[uint64]context.CancelCauseFunc)
	}
	j.executions[id] = cancel
	j.mu.Unlock()
	return func() {
		j.mu.Lock()
		delete(j.executions, id)
		j.mu.Unlock()
	}
}

func (j *Job) done(out engine.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.releaseLocked()
	if out.Ran {
		j.runs++
		j.lastWorkTime = out.Took
		j.meanWorkTime = (time.Duration(j.runs-1)*j.meanWorkTime + out.Took) / time.Duration(j.runs)
	}
	if out.Err != nil {
		j.failures++
		j.lastError = out.Err.Error()
	}
	// Interval jobs re-base on completion.
	if j.kind == KindInterval && !j.nextTime.IsZero() && j.unscheduledAt.IsZero() {
		j.nextTime = out.Finished.Add(j.every)
	}
}

// work adapts a job to the engine's Work interface.
type work struct{ j *Job }

var _ engine.Work = work{}

func (w work) ID() string                                  { return w.j.id }
func (w work) Name() string                                { return w.j.Name() }
func (w work) Stale() bool                                 { return w.j.stale() }
func (w work) Mutexes() []string                           { return w.j.mutexes }
func (w work) Timeout() time.Duration                      { return w.j.timeout }
func (w work) Begin(cancel context.CancelCauseFunc) func() { return w.j.begin(cancel) }
func (w work) Done(out engine.Outcome)                     { w.j.done(out) }
func (w work) Run(ctx context.Context, at time.Time) error { return w.j.handler(ctx, w.j, at) }

// ---- policies ----

func oneTimePolicy(j *Job, trigger, now time.Time) time.Time {
	if trigger.IsZero() {
		return j.at
	}
	return time.Time{}
}

// everyPolicy adds the period to the previous slot. Slots missed while the
// loop lagged are skipped without shifting the cadence.
func everyPolicy(j *Job, trigger, now time.Time) time.Time {
	if !j.firstAt.IsZero() && (trigger.IsZero() || j.firstAt.After(now)) {
		return j.firstAt
	}
	base := j.nextTime
	if base.IsZero() {
		base = now
	}
	nt := base.Add(j.every)
	if !nt.After(now) {
		missed := now.Sub(nt)/j.every + 1
		nt = nt.Add(missed * j.every)
	}
	return nt
}

// intervalPolicy leaves room for an average run before the next slot. The
// slot is re-based on the actual completion in done.
func intervalPolicy(j *Job, trigger, now time.Time) time.Time {
	if trigger.IsZero() {
		if !j.firstAt.IsZero() && j.firstAt.After(now) {
			return j.firstAt
		}
		return now.Add(j.every)
	}
	return now.Add(j.meanWorkTime + j.every)
}

// cronPolicy takes the first matching instant after now, or at/after first_at.
func cronPolicy(j *Job, trigger, now time.Time) time.Time {
	from := now
	if !j.firstAt.IsZero() && j.firstAt.After(now) {
		from = j.firstAt.Add(-time.Nanosecond)
	}
	nt, err := j.cron.NextTime(from)
	if err != nil {
		return time.Time{}
	}
	return nt
}

func policyFor(k Kind) policy {
	switch k {
	case KindEvery:
		return everyPolicy
	case KindInterval:
		return intervalPolicy
	case KindCron:
		return cronPolicy
	default:
		return oneTimePolicy
	}
}
