package scheduler

import (
	"context"
	"time"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

const dispatchWarnThrottle = 5 * time.Second

// fire dispatches j for at, honoring the overlap policy and hooks. The
// overlap slot is claimed here and given back by done, so a dispatch still
// sitting in the pool queue counts as running.
// scheduled is false for off-schedule triggers, which leave times alone.
func (s *Scheduler) fire(ctx context.Context, j *Job, at time.Time, scheduled bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !j.reserve() {
		s.skipped(j, at, "overlap")
		return ErrSkipped
	}
	if h := s.hooks.PreTrigger; h != nil && !h(j, at) {
		j.release()
		s.skipped(j, at, "vetoed")
		return ErrSkipped
	}

	j.admit(at, scheduled)
	s.metrics.IncTriggered(j.Name())
	s.publish(eventbus.JobTriggered, s.event(j, at, ""))
	s.log.Debug("job triggered", logx.String("job", j.Name()), logx.String("id", j.ID()), logx.Time("at", at), logx.Time("next", j.NextTime()))

	var err error
	if j.blocking {
		s.pool.RunInline(context.WithoutCancel(ctx), work{j}, at)
	} else if err = s.pool.Dispatch(work{j}, at); err != nil {
		j.release()
		s.reportDispatchError(j, err)
	}

	if h := s.hooks.PostTrigger; h != nil {
		h(j, at)
	}
	return err
}

func (s *Scheduler) skipped(j *Job, at time.Time, reason string) {
	s.metrics.IncSkipped(j.Name(), reason)
	s.publish(eventbus.JobSkipped, s.event(j, at, reason))
	s.log.Debug("job trigger skipped", logx.String("job", j.Name()), logx.String("id", j.ID()), logx.String("reason", reason))
}

// reportDispatchError warns at most once per throttle window per job, since
// a full queue or a stopping pool tends to fail every trigger in a row.
func (s *Scheduler) reportDispatchError(j *Job, err error) {
	now := s.clock.Now()
	name := j.Name()
	s.dmu.Lock()
	last := s.lastDispWarn[name]
	if !last.IsZero() && now.Sub(last) < dispatchWarnThrottle {
		s.dmu.Unlock()
		return
	}
	s.lastDispWarn[name] = now
	s.dmu.Unlock()

	s.log.Warn("job dispatch failed", logx.String("job", name), logx.String("id", j.ID()), logx.Err(err))
}
