package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"schedkit/internal/config"
	logx "schedkit/pkg/logx"
)

// Sections that only take effect on restart.
var restartSections = []string{"engine", "lock", "scheduler", "storage"}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: keep only the latest
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg != nil {
				a.apply(ctx, newCfg)
			}
		}
	}
}

// apply moves the running daemon to newCfg. Logging, the ops server,
// alerts and the job set change live; other sections wait for a restart.
func (a *App) apply(ctx context.Context, newCfg *config.Config) {
	oldCfg := a.config()
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(newCfg.Logging.Build())

	if opsCfg, err := newCfg.Ops.Build(); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, opsCfg)
	}

	if slices.Contains(sections, "alerts") {
		a.applyAlerts(ctx, newCfg.Alerts)
	}

	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	var oldJobs []config.JobConfig
	if oldCfg != nil {
		oldJobs = oldCfg.Jobs
	}
	if err := a.reconcile(oldJobs, newCfg.Jobs); err != nil {
		a.log.Error("some jobs were not scheduled", logx.Err(err))
	}

	a.mu.Lock()
	a.applied = newCfg
	a.mu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// applyAlerts restarts the alert pipeline with the new settings. Queued
// alerts get a short grace period to drain.
func (a *App) applyAlerts(ctx context.Context, c config.AlertsConfig) {
	nc, err := c.Build()
	if err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
		return
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	a.alerts.Stop(stopCtx)
	a.alerts.Apply(nc, c.Sender())
	if a.sched.Running() {
		a.alerts.Start(context.WithoutCancel(ctx))
	}
}
