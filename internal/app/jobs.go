package app

import (
	"errors"
	"fmt"

	"schedkit/internal/config"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

// reconcile brings the scheduler in line with newJobs. Removed and changed
// jobs are unscheduled (running executions finish), added and changed ones
// are scheduled afresh. A job that fails to schedule does not stop the rest.
func (a *App) reconcile(oldJobs, newJobs []config.JobConfig) error {
	d := config.DiffJobs(oldJobs, newJobs)
	if d.Empty() {
		return nil
	}
	byName := make(map[string]config.JobConfig, len(newJobs))
	for _, jc := range newJobs {
		byName[jc.Name] = jc
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, name := range append(append([]string(nil), d.Removed...), d.Changed...) {
		if id, ok := a.jobIDs[name]; ok {
			if err := a.sched.Unschedule(id); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
				a.log.Warn("unschedule failed", logx.String("job", name), logx.Err(err))
			}
			delete(a.jobIDs, name)
			a.metrics.Forget(name)
		}
	}

	var errs []error
	for _, name := range append(append([]string(nil), d.Changed...), d.Added...) {
		if err := a.schedule(byName[name]); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info("jobs reconciled",
		logx.Strs("added", d.Added),
		logx.Strs("removed", d.Removed),
		logx.Strs("changed", d.Changed),
		logx.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// schedule registers one config job. Callers hold a.mu.
func (a *App) schedule(jc config.JobConfig) error {
	opts, err := scheduler.ParseOptions(jc.Options)
	if err != nil {
		return fmt.Errorf("job %q: %w", jc.Name, err)
	}
	// the config name wins over a "name" option
	opts = append(opts, scheduler.WithName(jc.Name))

	job, err := a.sched.Schedule(jc.Schedule, commandHandler(jc, a.log), opts...)
	if err != nil {
		return fmt.Errorf("job %q: %w", jc.Name, err)
	}
	a.jobIDs[jc.Name] = job.ID()
	a.log.Debug("job scheduled",
		logx.String("job", jc.Name),
		logx.String("id", job.ID()),
		logx.String("schedule", jc.Schedule),
		logx.Time("next", job.NextTime()),
	)
	return nil
}
