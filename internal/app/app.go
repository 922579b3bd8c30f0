// Package app wires the config file to a running scheduler: logging, the
// event bus, history storage, metrics, the advisory lock, the ops server,
// failure alerts and the command jobs declared in the config.
package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/lock"
	"schedkit/internal/metrics"
	"schedkit/internal/notifier"
	"schedkit/internal/observability/ops"
	"schedkit/internal/storage"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store   storage.Store
	metrics *metrics.Registry
	locker  lock.Locker
	sched   *scheduler.Scheduler
	ops     *ops.Server
	alerts  *notifier.Service

	// sdNotify sends a systemd state; replaced in tests.
	sdNotify func(state string)

	mu      sync.Mutex
	applied *config.Config
	jobIDs  map[string]string // config job name -> scheduler job id
}

// New loads and validates the config file and builds every component.
// Nothing runs until Run.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (a *App, err error) {
	logSvc, root := logx.New(cfg.Logging.Build())
	cfgm.SetLogger(root)

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
			_ = logSvc.Close()
		}
	}()

	sc, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}

	stc, err := cfg.Storage.Build()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stc, root)
	if err != nil {
		return nil, err
	}
	if store != nil {
		closers = append(closers, store)
	}

	id := uuid.NewString()
	lc, err := cfg.Lock.Build()
	if err != nil {
		return nil, err
	}
	locker, err := lock.Open(lc, id, root)
	if err != nil {
		return nil, err
	}
	if c, ok := locker.(io.Closer); ok {
		closers = append(closers, c)
	}

	bus := eventbus.New()
	reg := metrics.NewRegistry()
	sched := scheduler.New(sc,
		scheduler.WithLogger(root),
		scheduler.WithBus(bus),
		scheduler.WithMetrics(reg),
		scheduler.WithLocker(locker),
		scheduler.WithInstanceID(id),
	)

	opsCfg, err := cfg.Ops.Build()
	if err != nil {
		return nil, err
	}
	alertCfg, err := cfg.Alerts.Build()
	if err != nil {
		return nil, err
	}

	src := ops.Sources{Scheduler: sched, Metrics: reg.Handler()}
	if store != nil {
		src.History = store
	}

	a = &App{
		cfgm:    cfgm,
		log:     root.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: reg,
		locker:  locker,
		sched:   sched,
		ops:     ops.New(opsCfg, src, root),
		alerts:  notifier.New(alertCfg, cfg.Alerts.Sender(), bus, id, root),
		jobIDs:  map[string]string{},
	}
	a.sdNotify = a.notifySystemd

	if err := a.reconcile(nil, cfg.Jobs); err != nil {
		return nil, err
	}
	a.applied = cfg
	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Run starts the scheduler and its companions and blocks until ctx is done
// or a background task fails, then shuts down with the configured policy.
func (a *App) Run(ctx context.Context) error {
	cfg := a.config()
	mode, grace := cfg.Scheduler.ShutdownPolicy()

	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if opsCfg, err := cfg.Ops.Build(); err == nil {
		a.ops.Reconfigure(ctx, opsCfg)
	}

	// Alerts are stopped explicitly after the scheduler so late failures
	// still go out.
	a.alerts.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)

	// The recorder outlives gctx so executions finishing during shutdown
	// are still written.
	recCtx, recCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer recCancel()
	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.sched.ID(), a.log.With(logx.String("comp", "recorder")))
		g.Go(func() error { return rec.Run(recCtx) })
	}
	g.Go(func() error { return a.cfgm.Watch(gctx) })
	sub := a.cfgm.Subscribe(8)
	g.Go(func() error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(gctx, sub)
		return nil
	})
	g.Go(func() error {
		a.watchdog(gctx)
		return nil
	})

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("schedkit started",
		logx.String("scheduler_id", a.sched.ID()),
		logx.Int("jobs", len(a.sched.Jobs())),
		logx.String("config", a.cfgm.Path()),
	)

	<-gctx.Done()
	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("shutdown", mode.String()), logx.Duration("grace", grace))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	a.stop(stopCtx, mode, recCancel)

	err := g.Wait()
	a.closeResources()
	a.log.Info("stopped")
	_ = a.logs.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

func (a *App) notifySystemd(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", strings.TrimSpace(state)), logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify sent", logx.String("state", strings.TrimSpace(state)))
	}
}

// watchdog pings systemd at half the WatchdogSec interval while the
// scheduler loop is alive.
func (a *App) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if a.sched.Running() {
				a.sdNotify(daemon.SdNotifyWatchdog)
			}
		}
	}
}
