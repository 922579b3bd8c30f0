package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"schedkit/internal/eventbus"
	rtsup "schedkit/internal/runtime/supervisor"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/timespec"
	logx "schedkit/pkg/logx"
)

func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:          cfg.withDefaults(),
		clock:        clockwork.NewRealClock(),
		metrics:      nopMetrics{},
		store:        NewStore(),
		lastDispWarn: map[string]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	s.errLog = logx.NewLimited(s.log, s.cfg.ErrorLogEvery, 5)
	if s.errSink == nil {
		s.errSink = s.logError
	}
	s.parser = timespec.NewParser(s.cfg.Location)
	s.pool = engine.New(s.cfg.Engine, s.log.With(logx.String("comp", "engine")), s.bus,
		engine.WithClock(s.clock),
		engine.WithMetrics(s.metrics),
		engine.WithErrorHandler(s.onError),
	)
	return s
}

// ID identifies this scheduler instance, e.g. in advisory lock metadata.
func (s *Scheduler) ID() string { return s.id }

func (s *Scheduler) Location() *time.Location { return s.cfg.Location }

// Parser parses schedule strings in the scheduler's location.
func (s *Scheduler) Parser() *timespec.Parser { return s.parser }

// Start starts the worker pool and the scheduling loop. It is idempotent.
// Jobs may be scheduled before Start; they fire once the loop runs.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	s.startedAt = s.clock.Now()
	s.running = true
	s.sup.GoRestart("scheduler.loop", s.loop)

	s.log.Info("scheduler started",
		logx.String("id", s.id),
		logx.String("tz", s.cfg.Location.String()),
		logx.Duration("frequency", s.cfg.Frequency),
		logx.Int("jobs", s.store.Len()),
	)
	return nil
}

// Stop is Shutdown with ShutdownWait.
func (s *Scheduler) Stop(ctx context.Context) error { return s.Shutdown(ctx, ShutdownWait) }

// Shutdown stops the loop and the pool and releases the advisory lock.
// Jobs stay in the store, so a later Start resumes them.
func (s *Scheduler) Shutdown(ctx context.Context, mode ShutdownMode) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := s.clock.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sup := s.sup
	s.mu.Unlock()
	s.log.Info("scheduler stopping", logx.String("mode", mode.String()))

	if mode == ShutdownKill {
		// blocking jobs run on the loop, out of the pool's reach
		for _, j := range s.store.Snapshot() {
			j.Kill()
		}
	}
	sup.Cancel()

	var errs []error
	switch mode {
	case ShutdownNone:
		nctx, cancel := context.WithCancel(ctx)
		cancel()
		_ = s.pool.Stop(nctx, false)
	default:
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		if err := s.pool.Stop(ctx, mode == ShutdownKill); err != nil {
			errs = append(errs, err)
		}
	}
	s.releaseLock(ctx)

	s.log.Info("scheduler stopped", logx.Duration("took", s.clock.Since(start)))
	return errors.Join(errs...)
}

// Pause stops triggering jobs until Resume. Running executions go on.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.log.Info("scheduler paused")
	}
}

func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.log.Info("scheduler resumed")
	}
}

func (s *Scheduler) Paused() bool { return s.paused.Load() }

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Uptime is 0 when the scheduler is not running.
func (s *Scheduler) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.clock.Since(s.startedAt)
}

func (s *Scheduler) loop(ctx context.Context) error {
	t := s.clock.NewTicker(s.cfg.Frequency)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			s.tick(ctx)
		}
	}
}

// tick triggers every due job in ascending next-time order, then prunes.
func (s *Scheduler) tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.paused.Load() || !s.confirmLock(ctx) {
		return
	}
	now := s.clock.Now()
	for j := range s.store.Due(now) {
		if ctx.Err() != nil {
			return
		}
		j.trigger(ctx, now)
	}
	for _, j := range s.store.Prune() {
		reason := "done"
		if j.Unscheduled() {
			reason = "unscheduled"
		}
		s.removed(j, reason)
	}
	s.metrics.SetJobs(s.store.Len())
}

func (s *Scheduler) confirmLock(ctx context.Context) bool {
	if s.locker == nil {
		return true
	}
	ok, err := s.locker.TryLock(ctx)
	if err != nil {
		s.errLog.Warn("advisory lock check failed", logx.Err(err))
		ok = false
	}
	state := lockStandby
	if ok {
		state = lockHeld
	}
	if prev := s.lockState.Swap(state); prev != state {
		if ok {
			s.log.Info("advisory lock acquired, triggering jobs", logx.String("id", s.id))
			s.publish(eventbus.SchedulerLock, JobEvent{ID: s.id, Reason: "acquired"})
		} else {
			s.log.Info("advisory lock held elsewhere, standing by", logx.String("id", s.id))
			if prev == lockHeld {
				s.publish(eventbus.SchedulerUnlock, JobEvent{ID: s.id, Reason: "lost"})
			}
		}
	}
	return ok
}

func (s *Scheduler) releaseLock(ctx context.Context) {
	if s.locker == nil || s.lockState.Swap(lockUnknown) != lockHeld {
		return
	}
	if err := s.locker.Unlock(ctx); err != nil {
		s.log.Warn("advisory lock release failed", logx.Err(err))
		return
	}
	s.publish(eventbus.SchedulerUnlock, JobEvent{ID: s.id, Reason: "released"})
}

// LockHeld reports whether this instance currently triggers jobs. Without
// a locker it is always true.
func (s *Scheduler) LockHeld() bool {
	return s.locker == nil || s.lockState.Load() == lockHeld
}

func (s *Scheduler) onError(w engine.Work, at time.Time, err error) {
	jw, ok := w.(work)
	if !ok || s.errSink == nil {
		return
	}
	s.errSink(jw.j, at, err)
}

func (s *Scheduler) logError(j *Job, at time.Time, err error) {
	fields := []logx.Field{
		logx.String("job", j.Name()),
		logx.String("id", j.ID()),
		logx.Time("at", at),
		logx.Err(err),
	}
	var pe *engine.PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(pe.Stack))
	}
	s.errLog.Error("job failed", fields...)
}

func (s *Scheduler) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}

func (s *Scheduler) event(j *Job, at time.Time, reason string) JobEvent {
	return JobEvent{ID: j.ID(), Name: j.Name(), Kind: j.kind.String(), At: at, Next: j.NextTime(), Reason: reason}
}

func (s *Scheduler) removed(j *Job, reason string) {
	s.publish(eventbus.JobUnscheduled, s.event(j, time.Time{}, reason))
	s.log.Debug("job removed", logx.String("job", j.Name()), logx.String("id", j.ID()), logx.String("reason", reason), logx.Int("count", j.Count()))
}
