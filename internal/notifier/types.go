package notifier

import (
	"context"
	"time"
)

// Config controls the alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Alert describes one failed execution.
type Alert struct {
	Job       string        `json:"job"`
	JobID     string        `json:"job_id"`
	Scheduler string        `json:"scheduler,omitempty"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration"`
}

// Sender delivers an alert. Errors are retried by the pipeline.
type Sender interface {
	Send(ctx context.Context, a Alert) error
}

type HistoryItem struct {
	At    time.Time
	Alert Alert
}

// AlertEvent is published on the bus for pipeline outcomes.
type AlertEvent struct {
	Job   string    `json:"job"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Bus event types.
const (
	EventQueued  = "alert.queued"
	EventDeduped = "alert.deduped"
	EventDropped = "alert.dropped"
	EventSent    = "alert.sent"
	EventFailed  = "alert.failed"
)
