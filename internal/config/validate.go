package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"schedkit/internal/task/scheduler"
	"schedkit/internal/task/timespec"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints first, then what tags cannot express:
// durations, the timezone, job schedules and job options.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("scheduler.frequency", c.Scheduler.Frequency)
	check("scheduler.error_log_every", c.Scheduler.ErrorLogEvery)
	check("scheduler.shutdown_timeout", c.Scheduler.ShutdownTimeout)
	check("engine.idle_timeout", c.Engine.IdleTimeout)
	check("engine.default_timeout", c.Engine.DefaultTimeout)
	check("lock.ttl", c.Lock.TTL)
	check("lock.timeout", c.Lock.Timeout)
	check("storage.busy_timeout", c.Storage.BusyTimeout)
	check("ops.read_timeout", c.Ops.ReadTimeout)
	check("ops.write_timeout", c.Ops.WriteTimeout)
	check("ops.idle_timeout", c.Ops.IdleTimeout)
	check("alerts.retry_base", c.Alerts.RetryBase)
	check("alerts.retry_max_delay", c.Alerts.RetryMaxDelay)
	check("alerts.dedup_window", c.Alerts.DedupWindow)
	check("alerts.send_timeout", c.Alerts.SendTimeout)

	if c.Engine.MaxWorkers > 0 && c.Engine.MinWorkers > c.Engine.MaxWorkers {
		errs = append(errs, fmt.Errorf("engine: min_workers %d exceeds max_workers %d", c.Engine.MinWorkers, c.Engine.MaxWorkers))
	}
	if c.Alerts.Enabled && strings.TrimSpace(c.Alerts.URL) == "" {
		errs = append(errs, errors.New("alerts.url is required when alerts are enabled"))
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d != "" && d != "none" && strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required when a driver is set"))
	}

	loc, err := c.Scheduler.Location()
	if err != nil {
		errs = append(errs, err)
		loc = time.UTC
	}
	parser := timespec.NewParser(loc)
	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		path := fmt.Sprintf("jobs[%d] %q", i, j.Name)
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate job name", path))
		}
		seen[j.Name] = true
		if _, err := parser.Parse(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: schedule: %w", path, err))
		}
		if _, err := scheduler.ParseOptions(j.Options); err != nil {
			errs = append(errs, fmt.Errorf("%s: options: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves the scheduler timezone; empty means local time.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
