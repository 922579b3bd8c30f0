package engine

import (
	"context"
	"time"
)

// Config controls the worker pool.
//
// Workers are spawned lazily: a dispatch that finds no idle worker starts a
// new one while fewer than MaxWorkers exist. MinWorkers are started eagerly
// and never retire.
type Config struct {
	MinWorkers int
	MaxWorkers int

	// QueueSize bounds the work queue. 0 keeps it unbounded, which is the
	// default: the pool favors accepting work over rejecting it.
	QueueSize int

	// IdleTimeout retires workers above MinWorkers after being idle this long.
	// 0 keeps them forever.
	IdleTimeout time.Duration

	// DefaultTimeout is used when Work.Timeout is 0.
	DefaultTimeout time.Duration

	HistorySize int
}

const (
	DefaultMaxWorkers  = 28
	DefaultHistorySize = 200
)

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MinWorkers < 0 {
		c.MinWorkers = 0
	}
	if c.MinWorkers > c.MaxWorkers {
		c.MinWorkers = c.MaxWorkers
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Work is a unit executed by the pool. The scheduler's jobs implement it.
type Work interface {
	ID() string
	Name() string
	// Stale reports work that must be skipped if still queued (e.g. unscheduled).
	Stale() bool
	// Mutexes lists named mutexes to hold while running, acquired in order.
	Mutexes() []string
	Timeout() time.Duration
	// Begin registers an execution before mutexes are taken. cancel stops it
	// cooperatively; end is called once the execution is over.
	Begin(cancel context.CancelCauseFunc) (end func())
	Run(ctx context.Context, at time.Time) error
	// Done receives the outcome of a finished execution, before end. It is
	// also called once for work dropped without running (stale, or still
	// queued at Stop), with Dropped set.
	Done(Outcome)
}

// Outcome describes one finished execution.
type Outcome struct {
	At         time.Time // slot the work was triggered for
	Started    time.Time
	Finished   time.Time
	QueueDelay time.Duration
	Took       time.Duration
	Err        error
	Ran        bool // false when cancelled while waiting for mutexes
	Cancelled  bool
	TimedOut   bool
	Dropped    bool // never started
}

// ErrorHandler receives execution errors. Cancellations never reach it.
type ErrorHandler func(w Work, at time.Time, err error)

// Metrics receives pool signals. internal/metrics provides a prometheus one.
type Metrics interface {
	ObserveRun(name string, took time.Duration, outcome string)
	SetWorkers(current, vacant int)
	SetQueueLength(n int)
	IncDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(string, time.Duration, string) {}
func (nopMetrics) SetWorkers(int, int)                      {}
func (nopMetrics) SetQueueLength(int)                       {}
func (nopMetrics) IncDropped(string)                        {}

// Outcome labels used for metrics and history.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
	OutcomeStale     = "stale"
)

type HistoryItem struct {
	ID         string
	Name       string
	At         time.Time
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Outcome    string
	Error      string
}

// RunEvent is emitted on the event bus for execution lifecycle events.
type RunEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	At         time.Time     `json:"at"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Outcome    string        `json:"outcome,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running bool
	Current int
	Vacant  int
	Min     int
	Max     int

	QueueLen int
	QueueCap int // 0 when unbounded

	Dropped   uint64
	Processed uint64

	DefaultTimeout time.Duration
	Mutexes        []string

	History []HistoryItem
}
