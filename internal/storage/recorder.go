package storage

import (
	"context"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/task/engine"
	logx "schedkit/pkg/logx"
)

// Recorder copies finished executions from the bus into a Store.
type Recorder struct {
	store     Store
	bus       eventbus.Bus
	scheduler string
	log       logx.Logger
	timeout   time.Duration
}

func NewRecorder(st Store, bus eventbus.Bus, schedulerID string, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: st, bus: bus, scheduler: schedulerID, log: log, timeout: 2 * time.Second}
}

// Run consumes events until ctx is done. Events that arrive while a write
// is slow are dropped by the bus, never queued without bound.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256, eventbus.JobFinished, eventbus.JobFailed)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := e.Data.(engine.RunEvent)
			if !ok {
				continue
			}
			r.append(ctx, ev)
		}
	}
}

func (r *Recorder) append(ctx context.Context, ev engine.RunEvent) {
	rec := RunRecord{
		JobID:      ev.ID,
		Job:        ev.Name,
		At:         ev.At,
		Started:    ev.Started,
		Duration:   ev.Duration,
		QueueDelay: ev.QueueDelay,
		Outcome:    ev.Outcome,
		Error:      ev.Error,
		Scheduler:  r.scheduler,
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.AppendRun(wctx, rec); err != nil {
		r.log.Warn("run not recorded", logx.String("job", ev.Name), logx.Err(err))
	}
}
