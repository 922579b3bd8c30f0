package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"schedkit/internal/eventbus"
	"schedkit/internal/task/cronline"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/timespec"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestScheduler returns a started scheduler on a fake clock. Its loop
// ticks hourly, so tests drive time with Advance and call tick themselves.
func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	cfg := Config{Frequency: time.Hour, Location: time.UTC, Engine: engine.Config{MaxWorkers: 4}}
	s := New(cfg, append([]Option{WithClock(clk)}, opts...)...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx, ShutdownKill)
	})
	return s, clk
}

func advanceAndTick(s *Scheduler, clk *clockwork.FakeClock, d time.Duration) {
	clk.Advance(d)
	s.tick(context.Background())
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func noop(context.Context, *Job, time.Time) error { return nil }

func TestEveryKeepsCadence(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	var runs atomic.Int32
	j, err := s.Every(10*time.Second, func(context.Context, *Job, time.Time) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := j.NextTime(); !got.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("initial next = %v", got)
	}
	for i := 1; i <= 5; i++ {
		advanceAndTick(s, clk, 10*time.Second)
		want := t0.Add(time.Duration(i+1) * 10 * time.Second)
		if got := j.NextTime(); !got.Equal(want) {
			t.Fatalf("after fire %d next = %v, want %v", i, got, want)
		}
		if got := j.PreviousTime(); !got.Equal(want.Add(-10 * time.Second)) {
			t.Fatalf("after fire %d previous = %v", i, got)
		}
	}
	if j.Count() != 5 {
		t.Fatalf("Count = %d, want 5", j.Count())
	}
	eventually(t, "five runs", func() bool { return runs.Load() == 5 })
}

func TestEverySkipsMissedSlots(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	j, _ := s.Every(10*time.Second, noop)
	advanceAndTick(s, clk, 35*time.Second)
	if got := j.NextTime(); !got.Equal(t0.Add(40 * time.Second)) {
		t.Fatalf("next = %v, want t0+40s", got)
	}
	if j.Count() != 1 {
		t.Fatalf("Count = %d, want 1", j.Count())
	}
}

func TestOneTimeJobsFireOnceAndArePruned(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	fired := make(chan time.Time, 4)
	h := func(_ context.Context, _ *Job, at time.Time) error {
		fired <- at
		return nil
	}
	in, _ := s.In(5*time.Second, h)
	at, _ := s.At(t0.Add(7*time.Second), h)

	advanceAndTick(s, clk, 5*time.Second)
	if got := <-fired; !got.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("In fired with at = %v", got)
	}
	if !in.NextTime().IsZero() {
		t.Fatal("In job still has a next time")
	}
	if _, ok := s.Job(in.ID()); ok {
		t.Fatal("In job not pruned")
	}
	if _, ok := s.Job(at.ID()); !ok {
		t.Fatal("At job pruned early")
	}

	advanceAndTick(s, clk, 5*time.Second)
	<-fired
	advanceAndTick(s, clk, time.Minute)
	select {
	case <-fired:
		t.Fatal("one-time job fired twice")
	case <-time.After(20 * time.Millisecond):
	}
	if n := len(s.Jobs()); n != 0 {
		t.Fatalf("Jobs = %d, want 0", n)
	}
}

func TestOverlapDropKeepsCount(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	j, _ := s.Every(10*time.Second, func(ctx context.Context, _ *Job, _ time.Time) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, WithOverlap(false))

	advanceAndTick(s, clk, 10*time.Second)
	<-started
	if !j.Running() {
		t.Fatal("job not running")
	}

	advanceAndTick(s, clk, 10*time.Second)
	if j.Count() != 1 {
		t.Fatalf("Count = %d after dropped trigger, want 1", j.Count())
	}
	if got := j.NextTime(); !got.Equal(t0.Add(30 * time.Second)) {
		t.Fatalf("next = %v, schedule must still advance", got)
	}
	select {
	case <-started:
		t.Fatal("second concurrent execution started")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	eventually(t, "job to stop running", func() bool { return !j.Running() })
	advanceAndTick(s, clk, 10*time.Second)
	<-started
	if j.Count() != 2 {
		t.Fatalf("Count = %d, want 2", j.Count())
	}
}

func TestOverlapCountsQueuedDispatch(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(t0)
	s := New(Config{Frequency: time.Hour, Location: time.UTC, Engine: engine.Config{MaxWorkers: 1}}, WithClock(clk))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx, ShutdownKill)
	})

	// occupy the only worker so the next dispatch stays queued
	gate := make(chan struct{})
	busy := make(chan struct{})
	_, _ = s.In(time.Second, func(ctx context.Context, _ *Job, _ time.Time) error {
		close(busy)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	})
	advanceAndTick(s, clk, time.Second)
	<-busy

	var running, peak, runs atomic.Int32
	j, _ := s.Every(time.Second, func(context.Context, *Job, time.Time) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}, WithOverlap(false))

	advanceAndTick(s, clk, time.Second)
	if info := j.Snapshot(); info.InFlight != 1 || info.Running != 0 {
		t.Fatalf("queued dispatch: in_flight=%d running=%d", info.InFlight, info.Running)
	}
	advanceAndTick(s, clk, time.Second)
	if j.Count() != 1 {
		t.Fatalf("Count = %d, second trigger must be dropped while the first is queued", j.Count())
	}

	close(gate)
	eventually(t, "queued run", func() bool { return j.Snapshot().Runs == 1 })
	eventually(t, "slot released", func() bool { return j.Snapshot().InFlight == 0 })
	if runs.Load() != 1 || peak.Load() != 1 {
		t.Fatalf("runs=%d peak=%d, want 1/1", runs.Load(), peak.Load())
	}
}

func TestIntervalHoldsWhileRunning(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	release := make(chan struct{})
	var starts atomic.Int32
	j, _ := s.Interval(time.Second, func(ctx context.Context, _ *Job, _ time.Time) error {
		if starts.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}, WithOverlap(true))

	advanceAndTick(s, clk, time.Second)
	eventually(t, "first start", func() bool { return starts.Load() == 1 })
	for i := 0; i < 3; i++ {
		advanceAndTick(s, clk, time.Second)
	}
	if n := starts.Load(); n != 1 || j.Count() != 1 {
		t.Fatalf("interval re-triggered while running: starts=%d count=%d", n, j.Count())
	}

	close(release) // finishes at t0+4s
	eventually(t, "first run", func() bool { return j.Snapshot().Runs == 1 })
	if got := j.NextTime(); !got.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("next = %v, want completion + 1s", got)
	}
	advanceAndTick(s, clk, time.Second)
	eventually(t, "second run", func() bool { return j.Snapshot().Runs == 2 })
}

func TestSharedMutexSerializes(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	type span struct{ start, end time.Time }
	var mu sync.Mutex
	var spans []span
	h := func(context.Context, *Job, time.Time) error {
		start := time.Now()
		time.Sleep(40 * time.Millisecond)
		mu.Lock()
		spans = append(spans, span{start, time.Now()})
		mu.Unlock()
		return nil
	}
	a, _ := s.In(time.Second, h, WithMutex("db"))
	b, _ := s.In(time.Second, h, WithMutex("db"))
	advanceAndTick(s, clk, time.Second)
	eventually(t, "both runs", func() bool {
		return a.Snapshot().Runs == 1 && b.Snapshot().Runs == 1
	})

	mu.Lock()
	defer mu.Unlock()
	first, second := spans[0], spans[1]
	if second.start.Before(first.end) {
		t.Fatalf("second started at %v before first ended at %v", second.start, first.end)
	}
}

func TestKillStopsCooperativeHandler(t *testing.T) {
	t.Parallel()
	var reported atomic.Int32
	s, clk := newTestScheduler(t, WithErrorSink(func(*Job, time.Time, error) { reported.Add(1) }))
	started := make(chan struct{})
	cause := make(chan error, 1)
	j, _ := s.In(time.Second, func(ctx context.Context, _ *Job, _ time.Time) error {
		close(started)
		select {
		case <-ctx.Done():
			cause <- context.Cause(ctx)
			return ctx.Err()
		case <-time.After(10 * time.Second):
			cause <- nil
			return nil
		}
	})
	advanceAndTick(s, clk, time.Second)
	<-started
	if n := j.Kill(); n != 1 {
		t.Fatalf("Kill cancelled %d executions, want 1", n)
	}
	if err := <-cause; !errors.Is(err, ErrJobKilled) {
		t.Fatalf("cause = %v, want ErrJobKilled", err)
	}
	eventually(t, "Running to turn false", func() bool { return !j.Running() })
	if reported.Load() != 0 {
		t.Fatal("kill reported to the error sink")
	}
}

func TestIntervalRebasesOnCompletion(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	var work atomic.Int64
	work.Store(int64(3 * time.Second))
	j, _ := s.Interval(10*time.Second, func(context.Context, *Job, time.Time) error {
		clk.Advance(time.Duration(work.Load()))
		return nil
	})

	advanceAndTick(s, clk, 10*time.Second) // fires at t0+10, ends at t0+13
	eventually(t, "first run", func() bool { return j.Snapshot().Runs == 1 })
	if got := j.NextTime(); !got.Equal(t0.Add(23 * time.Second)) {
		t.Fatalf("next = %v, want t0+23s", got)
	}
	if j.LastWorkTime() != 3*time.Second || j.MeanWorkTime() != 3*time.Second {
		t.Fatalf("work times = %v / %v", j.LastWorkTime(), j.MeanWorkTime())
	}

	work.Store(int64(5 * time.Second))
	advanceAndTick(s, clk, 10*time.Second) // fires at t0+23, ends at t0+28
	eventually(t, "second run", func() bool { return j.Snapshot().Runs == 2 })
	if got := j.NextTime(); !got.Equal(t0.Add(38 * time.Second)) {
		t.Fatalf("next = %v, want t0+38s", got)
	}
	if j.MeanWorkTime() != 4*time.Second {
		t.Fatalf("mean = %v, want 4s", j.MeanWorkTime())
	}
}

func TestCronFirstAtIsInclusive(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	tests := []struct {
		name string
		opts []JobOption
		want time.Time
	}{
		{name: "no bound", want: t0.Add(15 * time.Minute)},
		{name: "bound on a slot", opts: []JobOption{FirstAt(t0.Add(30 * time.Minute))}, want: t0.Add(30 * time.Minute)},
		{name: "bound between slots", opts: []JobOption{FirstAt(t0.Add(31 * time.Minute))}, want: t0.Add(45 * time.Minute)},
	}
	for _, tt := range tests {
		j, err := s.Cron("*/15 * * * *", noop, tt.opts...)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := j.NextTime(); !got.Equal(tt.want) {
			t.Fatalf("%s: next = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCronTriggersOnSlots(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	j, _ := s.Cron("0 0 * * *", noop)
	if got := j.NextTime(); !got.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("next = %v, want the following midnight", got)
	}
	j2, _ := s.Cron("*/20 * * * * *", noop)
	advanceAndTick(s, clk, 21*time.Second)
	if got := j2.NextTime(); !got.Equal(t0.Add(40 * time.Second)) {
		t.Fatalf("next = %v, want t0+40s", got)
	}
}

func TestTimesAndLastBound(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	capped, _ := s.Every(10*time.Second, noop, WithTimes(2))
	bounded, _ := s.Every(10*time.Second, noop, LastIn(25*time.Second))

	advanceAndTick(s, clk, 10*time.Second)
	if capped.Times() != 1 {
		t.Fatalf("Times = %d, want 1", capped.Times())
	}
	advanceAndTick(s, clk, 10*time.Second)
	if capped.Count() != 2 || !capped.NextTime().IsZero() {
		t.Fatalf("capped: count %d next %v", capped.Count(), capped.NextTime())
	}
	if _, ok := s.Job(capped.ID()); ok {
		t.Fatal("exhausted job not pruned")
	}

	advanceAndTick(s, clk, 10*time.Second)
	if bounded.Count() != 2 {
		t.Fatalf("bounded Count = %d, want 2", bounded.Count())
	}
	if _, ok := s.Job(bounded.ID()); ok {
		t.Fatal("job past its last bound not pruned")
	}
}

func TestPauseFreezesSchedule(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	j, _ := s.Every(10*time.Second, noop)
	if err := j.Pause(); err != nil {
		t.Fatal(err)
	}
	advanceAndTick(s, clk, 30*time.Second)
	if j.Count() != 0 || !j.NextTime().Equal(t0.Add(10*time.Second)) {
		t.Fatalf("paused job moved: count %d next %v", j.Count(), j.NextTime())
	}
	_ = j.Resume()
	s.tick(context.Background())
	if j.Count() != 1 || !j.NextTime().Equal(t0.Add(40*time.Second)) {
		t.Fatalf("resumed job: count %d next %v", j.Count(), j.NextTime())
	}

	once, _ := s.In(time.Minute, noop)
	if err := once.Pause(); !errors.Is(err, ErrNotRepeating) {
		t.Fatalf("Pause on one-time job = %v", err)
	}
}

func TestSchedulerPause(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	j, _ := s.Every(10*time.Second, noop)
	s.Pause()
	advanceAndTick(s, clk, 10*time.Second)
	if j.Count() != 0 {
		t.Fatal("paused scheduler triggered a job")
	}
	s.Resume()
	s.tick(context.Background())
	if j.Count() != 1 {
		t.Fatal("resumed scheduler did not trigger the overdue job")
	}
}

func TestTriggerOffSchedule(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	done := make(chan struct{}, 1)
	j, _ := s.Every(time.Hour, func(context.Context, *Job, time.Time) error {
		done <- struct{}{}
		return nil
	})
	next := j.NextTime()
	if err := j.TriggerOffSchedule(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-done
	if !j.NextTime().Equal(next) || j.Count() != 1 {
		t.Fatalf("next %v count %d", j.NextTime(), j.Count())
	}
}

func TestErrorsReachTheSink(t *testing.T) {
	t.Parallel()
	errs := make(chan error, 4)
	s, clk := newTestScheduler(t, WithErrorSink(func(_ *Job, _ time.Time, err error) { errs <- err }))
	boom := errors.New("boom")
	_, _ = s.In(time.Second, func(context.Context, *Job, time.Time) error { return boom })
	_, _ = s.In(2*time.Second, func(context.Context, *Job, time.Time) error { panic("kaboom") })
	survivor := make(chan struct{})
	_, _ = s.In(3*time.Second, func(context.Context, *Job, time.Time) error {
		close(survivor)
		return nil
	})

	advanceAndTick(s, clk, time.Second)
	if err := <-errs; !errors.Is(err, boom) {
		t.Fatalf("sink got %v", err)
	}
	advanceAndTick(s, clk, time.Second)
	var pe *engine.PanicError
	if err := <-errs; !errors.As(err, &pe) {
		t.Fatalf("sink got %v, want a panic error", err)
	}
	advanceAndTick(s, clk, time.Second)
	<-survivor
}

func TestTimeoutIsReportedToSink(t *testing.T) {
	t.Parallel()
	errs := make(chan error, 1)
	s, clk := newTestScheduler(t, WithErrorSink(func(_ *Job, _ time.Time, err error) { errs <- err }))
	_, _ = s.In(time.Second, func(ctx context.Context, _ *Job, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond))
	advanceAndTick(s, clk, time.Second)
	select {
	case err := <-errs:
		if !errors.Is(err, engine.ErrTimeout) {
			t.Fatalf("sink got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout not reported")
	}
}

func TestHooksCanVeto(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	skipped, unsub := bus.Subscribe(8, eventbus.JobSkipped)
	defer unsub()
	var post atomic.Int32
	s, clk := newTestScheduler(t, WithBus(bus), WithHooks(Hooks{
		PreTrigger:  func(j *Job, _ time.Time) bool { return !j.HasTag("vetoed") },
		PostTrigger: func(*Job, time.Time) { post.Add(1) },
	}))
	vetoed, _ := s.Every(10*time.Second, noop, WithTags("vetoed"))
	allowed, _ := s.Every(10*time.Second, noop)

	advanceAndTick(s, clk, 10*time.Second)
	if vetoed.Count() != 0 || allowed.Count() != 1 || post.Load() != 1 {
		t.Fatalf("counts %d/%d post %d", vetoed.Count(), allowed.Count(), post.Load())
	}
	select {
	case e := <-skipped:
		if ev := e.Data.(JobEvent); ev.ID != vetoed.ID() || ev.Reason != "vetoed" {
			t.Fatalf("skip event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no skip event")
	}
}

func TestBlockingJobRunsInline(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	j, _ := s.Every(10*time.Second, noop, Blocking())
	advanceAndTick(s, clk, 10*time.Second)
	// Done ran before tick returned
	if got := j.Snapshot().Runs; got != 1 {
		t.Fatalf("Runs = %d right after tick, want 1", got)
	}
}

func TestSchedulersAreIndependent(t *testing.T) {
	t.Parallel()
	s1, clk1 := newTestScheduler(t)
	s2, clk2 := newTestScheduler(t)
	release := make(chan struct{})
	defer close(release)
	held := make(chan struct{})
	_, _ = s1.In(time.Second, func(context.Context, *Job, time.Time) error {
		close(held)
		<-release
		return nil
	}, WithMutex("db"))
	ran := make(chan struct{})
	_, _ = s2.In(time.Second, func(context.Context, *Job, time.Time) error {
		close(ran)
		return nil
	}, WithMutex("db"))

	advanceAndTick(s1, clk1, time.Second)
	<-held
	advanceAndTick(s2, clk2, time.Second)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("mutex leaked across schedulers")
	}
}

type fakeLocker struct {
	held     atomic.Bool
	unlocked atomic.Int32
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) { return l.held.Load(), nil }
func (l *fakeLocker) Unlock(context.Context) error {
	l.unlocked.Add(1)
	return nil
}

func TestStandbyWithoutLock(t *testing.T) {
	t.Parallel()
	lk := &fakeLocker{}
	s, clk := newTestScheduler(t, WithLocker(lk))
	j, _ := s.Every(10*time.Second, noop)

	advanceAndTick(s, clk, 10*time.Second)
	if j.Count() != 0 || s.LockHeld() {
		t.Fatal("standby instance triggered")
	}
	lk.held.Store(true)
	s.tick(context.Background())
	if j.Count() != 1 || !s.LockHeld() {
		t.Fatalf("lock holder did not trigger: count %d", j.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx, ShutdownWait); err != nil {
		t.Fatal(err)
	}
	if lk.unlocked.Load() != 1 {
		t.Fatal("lock not released on shutdown")
	}
}

func TestUnscheduleAndFilters(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t)
	a, _ := s.Every(10*time.Second, noop, WithTags("reports"), WithName("a"))
	b, _ := s.Every(10*time.Second, noop, WithTags("reports"))
	_, _ = s.Cron("0 * * * *", noop)

	if got := len(s.Jobs(Tagged("reports"))); got != 2 {
		t.Fatalf("Tagged = %d, want 2", got)
	}
	if got := s.Jobs(OfKind(KindCron), Named("a")); len(got) != 0 {
		t.Fatalf("combined filters = %d jobs", len(got))
	}
	if err := s.Unschedule(a.ID()); err != nil {
		t.Fatal(err)
	}
	if err := s.Unschedule(a.ID()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("second Unschedule = %v", err)
	}
	b.Unschedule()
	if _, ok := s.Job(b.ID()); ok {
		t.Fatal("unscheduled job still returned")
	}
	advanceAndTick(s, clk, 10*time.Second)
	if a.Count() != 0 || b.Count() != 0 {
		t.Fatal("unscheduled job triggered")
	}
	if got := len(s.Jobs()); got != 1 {
		t.Fatalf("Jobs = %d, want 1", got)
	}
}

func TestScheduleStrings(t *testing.T) {
	t.Parallel()
	s := New(Config{Location: time.UTC}, WithClock(clockwork.NewFakeClockAt(t0)))
	tests := []struct {
		spec string
		kind Kind
	}{
		{"*/5 * * * *", KindCron},
		{"@daily", KindCron},
		{"10m", KindIn},
		{"every:10m", KindEvery},
		{"@every 1h", KindEvery},
		{"interval:1m", KindInterval},
		{"2030-01-01 10:00", KindAt},
	}
	for _, tt := range tests {
		j, err := s.Schedule(tt.spec, noop)
		if err != nil {
			t.Fatalf("Schedule(%q): %v", tt.spec, err)
		}
		if j.Kind() != tt.kind {
			t.Fatalf("Schedule(%q) kind = %v, want %v", tt.spec, j.Kind(), tt.kind)
		}
	}
	if j, err := s.Repeat("10m", noop); err != nil || j.Kind() != KindEvery {
		t.Fatalf("Repeat(10m) = %v, %v", j, err)
	}
	if _, err := s.Repeat("2030-01-01", noop); !errors.Is(err, timespec.ErrInvalidSchedule) {
		t.Fatalf("Repeat(time) = %v", err)
	}
	if j, err := s.Daily("07:30", noop); err != nil || !j.NextTime().Equal(t0.Add(7*time.Hour+30*time.Minute)) {
		t.Fatalf("Daily = %v, %v", j, err)
	}
	// t0 is a Monday
	if j, err := s.Weekly(time.Wednesday, "09:15", noop); err != nil || !j.NextTime().Equal(t0.Add(2*24*time.Hour+9*time.Hour+15*time.Minute)) {
		t.Fatalf("Weekly = %v, %v", j, err)
	}
	if _, err := s.Weekly(time.Friday, "9h", noop); err == nil {
		t.Fatal("Weekly accepted a bad time of day")
	}
}

func TestScheduleErrors(t *testing.T) {
	t.Parallel()
	s := New(Config{Location: time.UTC}, WithClock(clockwork.NewFakeClockAt(t0)))
	if _, err := s.In(time.Second, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("nil handler = %v", err)
	}
	if _, err := s.Every(0, noop); !errors.Is(err, timespec.ErrInvalidDuration) {
		t.Fatalf("zero period = %v", err)
	}
	if _, err := s.Cron("61 * * * *", noop); !errors.Is(err, cronline.ErrParse) {
		t.Fatalf("bad cron = %v", err)
	}
	if _, err := s.Cron("0 0 30 2 *", noop); !errors.Is(err, ErrNoNextTime) {
		t.Fatalf("impossible cron = %v", err)
	}
	if _, err := s.Every(time.Minute, noop, LastAt(t0.Add(-time.Hour))); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("past last bound = %v", err)
	}
	if _, err := s.Every(time.Minute, noop, WithTimes(0)); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("zero times = %v", err)
	}
	if _, err := s.Daily("25:00", noop); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("bad daily = %v", err)
	}
}

func TestLocals(t *testing.T) {
	t.Parallel()
	s := New(Config{}, WithClock(clockwork.NewFakeClockAt(t0)))
	j, _ := s.In(time.Minute, noop)
	j.Set("b", 2)
	j.Set("a", "one")
	if v, ok := j.Get("a"); !ok || v != "one" {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
	if !j.Has("b") || j.Has("c") {
		t.Fatal("Has misreports")
	}
	if keys := j.Keys(); len(keys) != 2 || keys[0] != "a" {
		t.Fatalf("Keys = %v", keys)
	}
	m := j.Locals()
	m["c"] = 3
	if j.Has("c") {
		t.Fatal("Locals is not a copy")
	}
}

func TestStartupSpread(t *testing.T) {
	t.Parallel()
	s := New(Config{}, WithClock(clockwork.NewFakeClockAt(t0)))
	j, err := s.Every(time.Minute, noop, WithStartupSpread(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	next := j.NextTime()
	if next.Before(t0.Add(time.Minute)) || !next.Before(t0.Add(time.Minute+10*time.Second)) {
		t.Fatalf("spread first slot %v out of range", next)
	}
}
