package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"schedkit/internal/eventbus"
	rtsup "schedkit/internal/runtime/supervisor"
	logx "schedkit/pkg/logx"
)

// Pool runs work on a lazily grown set of workers fed by a FIFO queue.
type Pool struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	clock   clockwork.Clock
	metrics Metrics
	onError ErrorHandler
	mutexes *Mutexes

	queue     []queued
	notify    chan struct{}
	quit      chan struct{}
	current   int
	vacant    int
	workerSeq int

	sup        *rtsup.Supervisor
	execCtx    context.Context
	execCancel context.CancelCauseFunc
	running    bool
	stopping   bool

	dropped   atomic.Uint64
	processed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type queued struct {
	w          Work
	at         time.Time
	enqueuedAt time.Time
}

type Option func(*Pool)

func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithErrorHandler sets where execution errors go. Cancellations are never reported.
func WithErrorHandler(h ErrorHandler) Option { return func(p *Pool) { p.onError = h } }

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		clock:   clockwork.NewRealClock(),
		metrics: nopMetrics{},
		mutexes: NewMutexes(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start is idempotent. MinWorkers are spawned right away.
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	if p.stopping {
		return ErrStopping
	}

	p.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(p.log),
		// a failing worker must not take the others down
		rtsup.WithCancelOnError(false),
	)
	p.execCtx, p.execCancel = context.WithCancelCause(p.sup.Context())
	p.notify = make(chan struct{}, p.cfg.MaxWorkers)
	p.quit = make(chan struct{})
	p.running = true
	for i := 0; i < p.cfg.MinWorkers; i++ {
		p.spawnLocked()
	}

	p.log.Info("worker pool started",
		logx.Int("min", p.cfg.MinWorkers),
		logx.Int("max", p.cfg.MaxWorkers),
		logx.Int("queue", p.cfg.QueueSize),
	)
	return nil
}

// Stop refuses new work, drops what is still queued and waits for running
// executions. With kill, running executions are cancelled with ErrKilled.
// If ctx ends first, Stop returns its error and cleanup continues in the background.
func (p *Pool) Stop(ctx context.Context, kill bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopping = true
	pending := p.queue
	dropped := len(pending)
	p.queue = nil
	close(p.quit)
	sup, cancel := p.sup, p.execCancel
	p.metrics.SetQueueLength(0)
	p.mu.Unlock()

	if dropped > 0 {
		p.dropped.Add(uint64(dropped))
		p.log.Warn("worker pool stopping with queued work", logx.Int("dropped", dropped))
		now := p.clock.Now()
		for _, it := range pending {
			it.w.Done(Outcome{At: it.at, QueueDelay: max(now.Sub(it.enqueuedAt), 0), Finished: now, Dropped: true})
		}
	}
	if kill {
		cancel(ErrKilled)
	}

	done := make(chan struct{})
	go func() {
		// Wait unbounded in background; caller can still time out.
		_ = sup.Wait(context.Background())
		cancel(ErrStopped)
		sup.Cancel()
		p.mu.Lock()
		p.stopping = false
		p.sup = nil
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool stopped", logx.Bool("kill", kill))
		return nil
	case <-ctx.Done():
		p.log.Warn("worker pool stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Dispatch queues w for the slot at. It spawns a worker first when none is
// idle and the pool is below MaxWorkers. It never blocks.
func (p *Pool) Dispatch(w Work, at time.Time) error {
	if w == nil {
		return ErrNilWork
	}
	now := p.clock.Now()

	p.mu.Lock()
	if !p.running {
		stopping := p.stopping
		p.mu.Unlock()
		if stopping {
			return ErrStopping
		}
		return ErrStopped
	}
	if p.cfg.QueueSize > 0 && len(p.queue) >= p.cfg.QueueSize {
		n := len(p.queue)
		p.mu.Unlock()
		p.onDropped(w, at, now, n)
		return ErrQueueFull
	}
	if p.vacant == 0 && p.current < p.cfg.MaxWorkers {
		p.spawnLocked()
	}
	p.queue = append(p.queue, queued{w: w, at: at, enqueuedAt: now})
	p.metrics.SetQueueLength(len(p.queue))
	notify := p.notify
	p.mu.Unlock()

	select {
	case notify <- struct{}{}:
	default:
	}
	return nil
}

// RunInline executes w on the calling goroutine with the same mutex, timeout
// and reporting rules as a worker. It does not need the pool to be started.
func (p *Pool) RunInline(ctx context.Context, w Work, at time.Time) {
	if w == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := p.clock.Now()
	p.execute(ctx, queued{w: w, at: at, enqueuedAt: now})
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	snap := Snapshot{
		Running:        p.running,
		Current:        p.current,
		Vacant:         p.vacant,
		Min:            p.cfg.MinWorkers,
		Max:            p.cfg.MaxWorkers,
		QueueLen:       len(p.queue),
		QueueCap:       p.cfg.QueueSize,
		DefaultTimeout: p.cfg.DefaultTimeout,
	}
	p.mu.Unlock()

	snap.Dropped = p.dropped.Load()
	snap.Processed = p.processed.Load()
	snap.Mutexes = p.mutexes.Names()

	p.hmu.Lock()
	snap.History = make([]HistoryItem, len(p.history))
	copy(snap.History, p.history)
	p.hmu.Unlock()
	return snap
}

func (p *Pool) spawnLocked() {
	p.current++
	p.workerSeq++
	name := fmt.Sprintf("worker.%d", p.workerSeq)
	quit, notify := p.quit, p.notify
	p.reportWorkersLocked()
	p.sup.Go(name, func(ctx context.Context) error {
		p.worker(ctx, quit, notify)
		return nil
	})
}

func (p *Pool) reportWorkersLocked() {
	p.metrics.SetWorkers(p.current, p.vacant)
}

func (p *Pool) record(item HistoryItem) {
	p.hmu.Lock()
	p.history = append(p.history, item)
	if n := p.cfg.HistorySize; len(p.history) > n {
		p.history = p.history[len(p.history)-n:]
	}
	p.hmu.Unlock()
}

func (p *Pool) publish(typ string, ev RunEvent) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.clock.Now(), Data: ev})
}

func (p *Pool) onDropped(w Work, at, now time.Time, queueLen int) {
	p.dropped.Add(1)
	p.metrics.IncDropped("queue_full")
	p.publish(eventbus.JobDropped, RunEvent{ID: w.ID(), Name: w.Name(), At: at, Started: now, Error: "queue_full"})
	p.log.Warn("job dropped: queue full",
		logx.String("job", w.Name()),
		logx.String("id", w.ID()),
		logx.Int("queue_len", queueLen),
		logx.Uint64("dropped", p.dropped.Load()),
	)
}
