package config

import (
	"errors"
	"strings"
	"time"

	"schedkit/internal/lock"
	"schedkit/internal/notifier"
	"schedkit/internal/observability/ops"
	"schedkit/internal/storage"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

const DefaultShutdownTimeout = 30 * time.Second

func (c LoggingConfig) Build() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// SchedulerConfig builds the scheduler and worker pool settings.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	loc, err := c.Scheduler.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	freq, err1 := ParseDurationOrDefault("scheduler.frequency", c.Scheduler.Frequency, scheduler.DefaultFrequency)
	every, err2 := ParseDurationField("scheduler.error_log_every", c.Scheduler.ErrorLogEvery)
	idle, err3 := ParseDurationField("engine.idle_timeout", c.Engine.IdleTimeout)
	def, err4 := ParseDurationField("engine.default_timeout", c.Engine.DefaultTimeout)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Frequency:     freq,
		Location:      loc,
		ErrorLogEvery: every,
		Engine: engine.Config{
			MinWorkers:     c.Engine.MinWorkers,
			MaxWorkers:     c.Engine.MaxWorkers,
			QueueSize:      c.Engine.QueueSize,
			IdleTimeout:    idle,
			DefaultTimeout: def,
			HistorySize:    c.Engine.HistorySize,
		},
	}, nil
}

// ShutdownPolicy returns the shutdown mode and how long to wait for it.
func (c SchedulerConfig) ShutdownPolicy() (scheduler.ShutdownMode, time.Duration) {
	mode := scheduler.ShutdownWait
	switch strings.ToLower(strings.TrimSpace(c.Shutdown)) {
	case "kill":
		mode = scheduler.ShutdownKill
	case "none":
		mode = scheduler.ShutdownNone
	}
	d, err := ParseDurationOrDefault("scheduler.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		d = DefaultShutdownTimeout
	}
	return mode, d
}

func (c LockConfig) Build() (lock.Config, error) {
	ttl, err1 := ParseDurationField("lock.ttl", c.TTL)
	timeout, err2 := ParseDurationField("lock.timeout", c.Timeout)
	if err := errors.Join(err1, err2); err != nil {
		return lock.Config{}, err
	}
	return lock.Config{
		Backend:       c.Backend,
		Path:          c.Path,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		Key:           c.Key,
		TTL:           ttl,
		Timeout:       timeout,
	}, nil
}

func (c StorageConfig) Build() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy, Retain: c.Retain}, nil
}

func (c OpsConfig) Build() (ops.Config, error) {
	rt, err1 := ParseDurationField("ops.read_timeout", c.ReadTimeout)
	wt, err2 := ParseDurationField("ops.write_timeout", c.WriteTimeout)
	it, err3 := ParseDurationField("ops.idle_timeout", c.IdleTimeout)
	if err := errors.Join(err1, err2, err3); err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:              c.Enabled,
		Addr:                 c.Addr,
		Token:                c.Token,
		AllowInsecure:        c.AllowInsecure,
		Pprof:                c.Pprof,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: c.MutexProfileFraction,
		BlockProfileRate:     c.BlockProfileRate,
		MemProfileRate:       c.MemProfileRate,
	}, nil
}

func (c AlertsConfig) Build() (notifier.Config, error) {
	base, err1 := ParseDurationField("alerts.retry_base", c.RetryBase)
	maxDelay, err2 := ParseDurationField("alerts.retry_max_delay", c.RetryMaxDelay)
	window, err3 := ParseDurationField("alerts.dedup_window", c.DedupWindow)
	send, err4 := ParseDurationField("alerts.send_timeout", c.SendTimeout)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       c.Enabled,
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		DedupWindow:   window,
		SendTimeout:   send,
	}, nil
}

// Sender returns the webhook for the alerts section, nil when disabled.
func (c AlertsConfig) Sender() notifier.Sender {
	if !c.Enabled || strings.TrimSpace(c.URL) == "" {
		return nil
	}
	return &notifier.Webhook{URL: strings.TrimSpace(c.URL), Headers: c.Headers}
}
