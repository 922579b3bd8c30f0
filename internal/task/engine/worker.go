package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

func (p *Pool) worker(ctx context.Context, quit, notify <-chan struct{}) {
	for {
		it, ok := p.next(ctx, quit, notify)
		if !ok {
			return
		}
		p.mu.Lock()
		execCtx := p.execCtx
		p.mu.Unlock()
		p.execute(execCtx, it)
	}
}

// next blocks until there is work. It returns false when the worker must
// exit; the worker is already accounted as gone by then.
func (p *Pool) next(ctx context.Context, quit, notify <-chan struct{}) (queued, bool) {
	p.mu.Lock()
	for len(p.queue) == 0 {
		p.vacant++
		p.reportWorkersLocked()
		idleTimeout := p.cfg.IdleTimeout
		p.mu.Unlock()

		var (
			timer clockwork.Timer
			idle  <-chan time.Time
		)
		if idleTimeout > 0 {
			timer = p.clock.NewTimer(idleTimeout)
			idle = timer.Chan()
		}
		exit, retire := false, false
		select {
		case <-ctx.Done():
			exit = true
		case <-quit:
			exit = true
		case <-notify:
		case <-idle:
			retire = true
		}
		if timer != nil {
			timer.Stop()
		}

		p.mu.Lock()
		p.vacant--
		if exit || (retire && p.current > p.cfg.MinWorkers && len(p.queue) == 0) {
			p.current--
			p.reportWorkersLocked()
			p.mu.Unlock()
			return queued{}, false
		}
	}

	it := p.queue[0]
	p.queue[0] = queued{}
	p.queue = p.queue[1:]
	p.metrics.SetQueueLength(len(p.queue))
	p.reportWorkersLocked()
	p.mu.Unlock()
	return it, true
}

func (p *Pool) execute(parent context.Context, it queued) {
	w := it.w
	start := p.clock.Now()
	queueDelay := max(start.Sub(it.enqueuedAt), 0)

	// Guard the bookkeeping below as well: a worker must survive anything.
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job.bookkeeping.panic", logx.String("job", w.Name()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	if w.Stale() {
		p.dropped.Add(1)
		p.metrics.IncDropped(OutcomeStale)
		p.record(HistoryItem{ID: w.ID(), Name: w.Name(), At: it.at, Started: start, QueueDelay: queueDelay, Outcome: OutcomeStale})
		p.log.Debug("job.stale", logx.String("job", w.Name()), logx.String("id", w.ID()))
		w.Done(Outcome{At: it.at, QueueDelay: queueDelay, Finished: start, Dropped: true})
		return
	}

	timeout := w.Timeout()
	if timeout <= 0 {
		timeout = p.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	ctx := runCtx
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(runCtx, timeout, ErrTimeout)
		defer cancelTimeout()
	}

	end := w.Begin(cancel)
	defer end()
	out := Outcome{At: it.at, QueueDelay: queueDelay}

	unlock, err := p.mutexes.Lock(ctx, w.Mutexes())
	out.Started = p.clock.Now()
	if err == nil {
		p.log.Debug("job.started", logx.String("job", w.Name()), logx.String("id", w.ID()), logx.Duration("queue_delay", queueDelay))
		p.publish(eventbus.JobStarted, RunEvent{ID: w.ID(), Name: w.Name(), At: it.at, Started: out.Started, QueueDelay: queueDelay})
		out.Ran = true
		err = p.run(ctx, w, it.at)
		unlock()
	}
	cause := context.Cause(ctx)
	out.Finished = p.clock.Now()
	out.Took = out.Finished.Sub(out.Started)
	out.Err = err

	switch {
	case errors.Is(cause, ErrTimeout):
		out.TimedOut = true
		if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
			out.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		} else {
			out.Err = fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}
	case cause != nil:
		// killed, or the pool is going away
		out.Cancelled = true
		out.Err = nil
	}

	w.Done(out)
	p.processed.Add(1)

	outcome := OutcomeOK
	switch {
	case out.Cancelled:
		outcome = OutcomeCancelled
	case out.TimedOut:
		outcome = OutcomeTimeout
	case out.Err != nil:
		outcome = OutcomeFailed
	}
	p.metrics.ObserveRun(w.Name(), out.Took, outcome)

	item := HistoryItem{ID: w.ID(), Name: w.Name(), At: it.at, Started: out.Started, QueueDelay: queueDelay, Duration: out.Took, Outcome: outcome}
	ev := RunEvent{ID: w.ID(), Name: w.Name(), At: it.at, Started: out.Started, QueueDelay: queueDelay, Duration: out.Took, Outcome: outcome}
	switch {
	case out.Err != nil:
		item.Error = out.Err.Error()
		ev.Error = item.Error
		p.log.Warn("job.failed", logx.String("job", w.Name()), logx.String("id", w.ID()), logx.Err(out.Err), logx.Duration("dur", out.Took))
		p.publish(eventbus.JobFailed, ev)
	case out.Cancelled:
		p.log.Debug("job.cancelled", logx.String("job", w.Name()), logx.String("id", w.ID()), logx.Duration("dur", out.Took))
		p.publish(eventbus.JobFinished, ev)
	default:
		if out.Took >= 750*time.Millisecond {
			p.log.Info("job.completed", logx.String("job", w.Name()), logx.String("id", w.ID()), logx.Duration("dur", out.Took))
		} else {
			p.log.Debug("job.completed", logx.String("job", w.Name()), logx.String("id", w.ID()), logx.Duration("dur", out.Took))
		}
		p.publish(eventbus.JobFinished, ev)
	}
	p.record(item)

	if out.Err != nil && p.onError != nil {
		p.onError(w, it.at, out.Err)
	}
}

// run invokes the work, turning a panic into a *PanicError.
func (p *Pool) run(ctx context.Context, w Work, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = &PanicError{Value: r, Stack: stack}
			p.log.Error("job.panic", logx.String("job", w.Name()), logx.Any("panic", r), logx.Stack(stack))
		}
	}()
	return w.Run(ctx, at)
}
