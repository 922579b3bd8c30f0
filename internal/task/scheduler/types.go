package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"schedkit/internal/eventbus"
	rtsup "schedkit/internal/runtime/supervisor"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/timespec"
	logx "schedkit/pkg/logx"
)

const DefaultFrequency = 300 * time.Millisecond

// Config controls the scheduler.
type Config struct {
	// Frequency is the tick period of the scheduling loop.
	Frequency time.Duration
	// Location is used for cron lines and times without an explicit zone.
	Location *time.Location
	Engine   engine.Config

	// ErrorLogEvery throttles the default error sink to one line per
	// period (with a small burst). 0 means one per second.
	ErrorLogEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Frequency <= 0 {
		c.Frequency = DefaultFrequency
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.ErrorLogEvery <= 0 {
		c.ErrorLogEvery = time.Second
	}
	return c
}

// ErrorSink receives errors returned or panicked by handlers, including
// timeouts. Kills are never reported.
type ErrorSink func(job *Job, at time.Time, err error)

// Hooks are called around every trigger. PreTrigger may veto a trigger by
// returning false; the schedule has already advanced by then.
type Hooks struct {
	PreTrigger  func(job *Job, at time.Time) bool
	PostTrigger func(job *Job, at time.Time)
}

// Locker is an advisory lock shared between scheduler instances. Only the
// holder triggers jobs; the others keep retrying on every tick.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Metrics extends the pool's signals with scheduling ones.
type Metrics interface {
	engine.Metrics
	IncTriggered(job string)
	IncSkipped(job, reason string)
	SetJobs(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(string, time.Duration, string) {}
func (nopMetrics) SetWorkers(int, int)                      {}
func (nopMetrics) SetQueueLength(int)                       {}
func (nopMetrics) IncDropped(string)                        {}
func (nopMetrics) IncTriggered(string)                      {}
func (nopMetrics) IncSkipped(string, string)                {}
func (nopMetrics) SetJobs(int)                              {}

// ShutdownMode selects what Shutdown does with running executions.
type ShutdownMode int

const (
	// ShutdownWait lets running executions finish.
	ShutdownWait ShutdownMode = iota
	// ShutdownKill cancels running executions with ErrJobKilled.
	ShutdownKill
	// ShutdownNone returns without waiting for anything.
	ShutdownNone
)

func (m ShutdownMode) String() string {
	switch m {
	case ShutdownWait:
		return "wait"
	case ShutdownKill:
		return "kill"
	case ShutdownNone:
		return "none"
	default:
		return "unknown"
	}
}

// JobEvent is the payload of scheduling events on the bus.
type JobEvent struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at,omitempty"`
	Next   time.Time `json:"next,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithErrorSink(sink ErrorSink) Option { return func(s *Scheduler) { s.errSink = sink } }

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLocker(l Locker) Option { return func(s *Scheduler) { s.locker = l } }

func WithHooks(h Hooks) Option { return func(s *Scheduler) { s.hooks = h } }

// WithInstanceID overrides the generated instance id, so the advisory lock
// and the scheduler report the same one.
func WithInstanceID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.id = id
		}
	}
}

// Scheduler owns a job store, a worker pool and the loop that connects them.
type Scheduler struct {
	id  string
	cfg Config
	log logx.Logger

	clock   clockwork.Clock
	bus     eventbus.Bus
	metrics Metrics
	errSink ErrorSink
	errLog  *logx.Limited
	locker  Locker
	hooks   Hooks

	parser *timespec.Parser
	store  *Store
	pool   *engine.Pool
	seq    atomic.Uint64

	mu        sync.Mutex
	sup       *rtsup.Supervisor
	running   bool
	startedAt time.Time
	tickMu    sync.Mutex
	paused    atomic.Bool
	lockState atomic.Int32

	// dispatch error throttling, keyed by job name
	dmu          sync.Mutex
	lastDispWarn map[string]time.Time
}

const (
	lockUnknown int32 = iota
	lockHeld
	lockStandby
)
