package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedkit/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe fields
// for logging. Secrets (redis password, ops token, alert headers) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.frequency", strings.TrimSpace(newCfg.Scheduler.Frequency)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.max_workers", newCfg.Engine.MaxWorkers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
		)
	}
	if oldCfg.Lock != newCfg.Lock {
		changed = append(changed, "lock")
		attrs = append(attrs,
			logx.String("lock.backend", newCfg.Lock.Backend),
			logx.Bool("lock.redis_password_set", newCfg.Lock.RedisPassword != ""),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.Int("alerts.headers", len(newCfg.Alerts.Headers)),
		)
	}
	if d := DiffJobs(oldCfg.Jobs, newCfg.Jobs); !d.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Strs("jobs.added", d.Added),
			logx.Strs("jobs.removed", d.Removed),
			logx.Strs("jobs.changed", d.Changed),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// JobDiff lists job names by what happened to them between two configs.
// A job that became disabled counts as removed; one re-enabled as added.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func DiffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	index := func(jobs []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(jobs))
		for _, j := range jobs {
			if !j.Disabled {
				m[j.Name] = j
			}
		}
		return m
	}
	oldM, newM := index(oldJobs), index(newJobs)

	var d JobDiff
	for name, nj := range newM {
		oj, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case hashJSON(oj) != hashJSON(nj):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
