package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

// stop shuts components down in dependency order. Each step gets a bounded
// slice of ctx so one stuck component cannot stall the rest.
func (a *App) stop(ctx context.Context, mode scheduler.ShutdownMode, stopRecorder context.CancelFunc) {
	a.step(ctx, "scheduler", 0, func(c context.Context) error { return a.sched.Shutdown(c, mode) })
	a.step(ctx, "ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "alerts", 3*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	stopRecorder()
}

// closeResources runs after the scheduler released the lock and the
// recorder drained.
func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if c, ok := a.locker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("lock client close failed", logx.Err(err))
		}
	}
}

// step runs fn with an upper bound of max (0 means the caller's deadline).
// A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
